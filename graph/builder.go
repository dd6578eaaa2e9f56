package graph

import (
	"context"
	"fmt"

	"github.com/albertocavalcante/go-bzlrel/reference"
)

// Lister returns the references declared by a module version.
type Lister func(ctx context.Context, key Key) ([]reference.Reference, error)

// Builder constructs a Graph by walking references breadth-first.
type Builder struct {
	lister  Lister
	descend func(Key) bool
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithDescend restricts expansion to the nodes for which fn returns true.
// The root is always expanded.
func WithDescend(fn func(Key) bool) BuilderOption {
	return func(b *Builder) {
		b.descend = fn
	}
}

// DynamicOnly expands only dynamic versions. Static versions are immutable
// and are left as leaves.
func DynamicOnly() BuilderOption {
	return WithDescend(func(k Key) bool { return k.Version.IsDynamic() })
}

// NewBuilder creates a builder listing references with lister.
func NewBuilder(lister Lister, opts ...BuilderOption) *Builder {
	b := &Builder{lister: lister}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build walks the references reachable from root.
func (b *Builder) Build(ctx context.Context, root Key) (*Graph, error) {
	g := &Graph{Root: root, Nodes: make(map[Key]*Node)}
	g.Nodes[root] = &Node{Key: root, IsRoot: true}

	queue := []Key{root}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current := queue[0]
		queue = queue[1:]
		node := g.Nodes[current]

		if current != root && b.descend != nil && !b.descend(current) {
			continue
		}
		refs, err := b.lister(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("listing references of %s: %w", current, err)
		}
		node.References = refs
		node.Expanded = true

		for _, ref := range refs {
			if ref.Target == nil {
				continue
			}
			dep := *ref.Target
			node.Dependencies = appendUnique(node.Dependencies, dep)

			depNode, seen := g.Nodes[dep]
			if !seen {
				depNode = &Node{Key: dep}
				g.Nodes[dep] = depNode
				queue = append(queue, dep)
			}
			depNode.Dependents = appendUnique(depNode.Dependents, current)
		}
	}
	return g, nil
}

func appendUnique(keys []Key, k Key) []Key {
	for _, existing := range keys {
		if existing == k {
			return keys
		}
	}
	return append(keys, k)
}

// SimpleModule is a module version with its tracked references, for
// building graphs without descriptors.
type SimpleModule struct {
	Key          Key
	Dependencies []Key
}

// Build constructs a Graph from a module list. Every listed module is
// considered expanded.
func Build(root Key, modules []SimpleModule) *Graph {
	g := &Graph{Root: root, Nodes: make(map[Key]*Node)}

	for _, m := range modules {
		node := &Node{
			Key:          m.Key,
			Dependencies: append([]Key(nil), m.Dependencies...),
			Expanded:     true,
			IsRoot:       m.Key == root,
		}
		g.Nodes[m.Key] = node
	}

	for _, m := range modules {
		for _, dep := range m.Dependencies {
			depNode, ok := g.Nodes[dep]
			if !ok {
				depNode = &Node{Key: dep}
				g.Nodes[dep] = depNode
			}
			depNode.Dependents = appendUnique(depNode.Dependents, m.Key)
		}
	}
	return g
}
