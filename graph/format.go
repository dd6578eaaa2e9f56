package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const separatorWidth = 60 // Width of separator lines in text output

// JSONNode is the nested JSON form of a graph rooted at one node.
type JSONNode struct {
	Key          string     `json:"key"`
	Module       string     `json:"module"`
	Version      string     `json:"version"`
	External     []string   `json:"external,omitempty"`
	Dependencies []JSONNode `json:"dependencies,omitempty"`
	// Unexpanded marks a node already printed elsewhere in the tree.
	Unexpanded bool `json:"unexpanded,omitempty"`
}

// ToJSON outputs the graph as a tree rooted at Root.
func (g *Graph) ToJSON() ([]byte, error) {
	root := g.toJSONNode(g.Root, make(map[Key]bool))
	return json.MarshalIndent(root, "", "  ")
}

func (g *Graph) toJSONNode(key Key, visited map[Key]bool) JSONNode {
	out := JSONNode{
		Key:     key.String(),
		Module:  key.NodePath.String(),
		Version: key.Version.String(),
	}
	if visited[key] {
		out.Unexpanded = true
		return out
	}
	visited[key] = true

	node := g.Nodes[key]
	if node == nil {
		return out
	}
	for _, ref := range node.External() {
		out.External = append(out.External, ref.ArtifactName+"@"+ref.ArtifactVersion)
	}
	for _, dep := range node.Dependencies {
		out.Dependencies = append(out.Dependencies, g.toJSONNode(dep, visited))
	}
	return out
}

// ToDOT outputs the graph in Graphviz DOT format. Output is sorted.
func (g *Graph) ToDOT() string {
	var buf bytes.Buffer

	buf.WriteString("digraph references {\n")
	buf.WriteString("  rankdir=LR;\n")
	buf.WriteString("  node [shape=box];\n\n")

	keys := g.sortedKeys()
	for _, key := range keys {
		node := g.Nodes[key]
		label := fmt.Sprintf("%s\\n%s", key.NodePath, key.Version)
		attrs := fmt.Sprintf(`label="%s"`, label) //nolint:gocritic // DOT format requires this quote style
		switch {
		case node.IsRoot:
			attrs += ", style=bold"
		case key.Version.IsStatic():
			attrs += ", style=rounded"
		}
		if !node.Expanded {
			attrs += ", color=gray"
		}
		buf.WriteString(fmt.Sprintf("  %q [%s];\n", key.String(), attrs))
	}

	buf.WriteString("\n")

	for _, key := range keys {
		for _, dep := range g.Nodes[key].Dependencies {
			buf.WriteString(fmt.Sprintf("  %q -> %q;\n", key.String(), dep.String()))
		}
	}

	buf.WriteString("}\n")
	return buf.String()
}

// ToText outputs a human-readable representation of the graph.
func (g *Graph) ToText() string {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("Reference Graph (root: %s)\n", g.Root))
	buf.WriteString(strings.Repeat("=", separatorWidth) + "\n\n")

	stats := g.Stats()
	buf.WriteString(fmt.Sprintf("Total modules: %d\n", stats.TotalModules))
	buf.WriteString(fmt.Sprintf("Direct references: %d\n", stats.DirectReferences))
	buf.WriteString(fmt.Sprintf("Max depth: %d\n", stats.MaxDepth))
	if stats.ExternalReferences > 0 {
		buf.WriteString(fmt.Sprintf("External references: %d\n", stats.ExternalReferences))
	}
	if stats.VersionConflicts > 0 {
		buf.WriteString(fmt.Sprintf("Modules at several versions: %d\n", stats.VersionConflicts))
	}
	buf.WriteString("\n")

	buf.WriteString("Reference Tree:\n")
	g.printTree(&buf, g.Root, "", true, make(map[Key]bool))

	return buf.String()
}

func (g *Graph) printTree(buf *bytes.Buffer, key Key, prefix string, isLast bool, visited map[Key]bool) {
	connector := "├── "
	if isLast {
		connector = "└── "
	}
	if prefix == "" && key == g.Root {
		buf.WriteString(key.String())
	} else {
		buf.WriteString(prefix + connector + key.String())
	}

	node := g.Nodes[key]
	if visited[key] {
		buf.WriteString(" (circular)\n")
		return
	}
	if node != nil && !node.Expanded {
		buf.WriteString(" (not expanded)")
	}
	buf.WriteString("\n")

	visited[key] = true
	defer func() { visited[key] = false }()

	if node == nil {
		return
	}

	childPrefix := prefix
	if key != g.Root {
		if isLast {
			childPrefix += "    "
		} else {
			childPrefix += "│   "
		}
	}
	for i, dep := range node.Dependencies {
		g.printTree(buf, dep, childPrefix, i == len(node.Dependencies)-1, visited)
	}
}
