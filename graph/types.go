package graph

import (
	"github.com/albertocavalcante/go-bzlrel/reference"
	"github.com/albertocavalcante/go-bzlrel/version"
)

// Key identifies a node: a module at a version.
type Key = version.ModuleVersion

// Graph is the reference graph reachable from a root module version.
// It supports traversal in both directions.
type Graph struct {
	// Root is the module version the graph was built from.
	Root Key

	// Nodes contains every module version reached, keyed by Key.
	Nodes map[Key]*Node
}

// Node is one module version in the graph.
type Node struct {
	Key Key

	// Dependencies are the tracked module versions this one references.
	Dependencies []Key

	// Dependents are the module versions referencing this one.
	Dependents []Key

	// References are every reference the module version declares, including
	// references to untracked modules. Empty for nodes that were not expanded.
	References []reference.Reference

	// Expanded is false when the builder did not descend into the node.
	Expanded bool

	IsRoot bool
}

// External returns the references of the node to untracked modules.
func (n *Node) External() []reference.Reference {
	var out []reference.Reference
	for _, r := range n.References {
		if r.Target == nil {
			out = append(out, r)
		}
	}
	return out
}

// Chain is a path of references from the root to a module version.
type Chain []Key

// String returns "a:D/main -> b:S/1.0".
func (c Chain) String() string {
	var result string
	for i, k := range c {
		if i > 0 {
			result += " -> "
		}
		result += k.String()
	}
	return result
}

// Stats summarizes a graph.
type Stats struct {
	TotalModules       int
	DirectReferences   int
	ExternalReferences int
	MaxDepth           int
	// VersionConflicts counts modules reached at more than one version.
	VersionConflicts int
}
