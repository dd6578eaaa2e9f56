package graph

import (
	"fmt"
	"sort"

	"github.com/albertocavalcante/go-bzlrel/version"
)

// Get returns the node for a key, or nil if not found.
func (g *Graph) Get(key Key) *Node {
	return g.Nodes[key]
}

// Contains returns true if the graph contains the given module version.
func (g *Graph) Contains(key Key) bool {
	_, ok := g.Nodes[key]
	return ok
}

// ByModule returns the versions of a module present in the graph, sorted.
func (g *Graph) ByModule(path version.NodePath) []Key {
	var out []Key
	for key := range g.Nodes {
		if key.NodePath == path {
			out = append(out, key)
		}
	}
	sortKeys(out)
	return out
}

// VersionConflicts returns the modules reached at more than one version,
// with the versions reached.
func (g *Graph) VersionConflicts() map[version.NodePath][]Key {
	byPath := make(map[version.NodePath][]Key)
	for key := range g.Nodes {
		byPath[key.NodePath] = append(byPath[key.NodePath], key)
	}
	out := make(map[version.NodePath][]Key)
	for path, keys := range byPath {
		if len(keys) > 1 {
			sortKeys(keys)
			out[path] = keys
		}
	}
	return out
}

// DirectDeps returns the module versions key references.
func (g *Graph) DirectDeps(key Key) []Key {
	if node := g.Nodes[key]; node != nil {
		return node.Dependencies
	}
	return nil
}

// Dependents returns the module versions referencing key.
func (g *Graph) Dependents(key Key) []Key {
	if node := g.Nodes[key]; node != nil {
		return node.Dependents
	}
	return nil
}

// TransitiveDeps returns all module versions reachable from key.
// The result is in breadth-first order.
func (g *Graph) TransitiveDeps(key Key) []Key {
	return g.walk(key, func(n *Node) []Key { return n.Dependencies })
}

// TransitiveDependents returns all module versions that reach key.
// The result is in breadth-first order (closest dependents first).
func (g *Graph) TransitiveDependents(key Key) []Key {
	return g.walk(key, func(n *Node) []Key { return n.Dependents })
}

func (g *Graph) walk(key Key, next func(*Node) []Key) []Key {
	result := make([]Key, 0)
	visited := map[Key]bool{key: true}
	queue := []Key{key}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		node := g.Nodes[current]
		if node == nil {
			continue
		}
		for _, k := range next(node) {
			if !visited[k] {
				visited[k] = true
				result = append(result, k)
				queue = append(queue, k)
			}
		}
	}
	return result
}

// Path finds the shortest reference path from one module version to another.
// Returns nil if no path exists.
func (g *Graph) Path(from, to Key) Chain {
	if from == to {
		return Chain{from}
	}

	type queueItem struct {
		key  Key
		path Chain
	}

	visited := map[Key]bool{from: true}
	queue := []queueItem{{key: from, path: Chain{from}}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		node := g.Nodes[current.key]
		if node == nil {
			continue
		}
		for _, dep := range node.Dependencies {
			if visited[dep] {
				continue
			}
			path := make(Chain, len(current.path)+1)
			copy(path, current.path)
			path[len(current.path)] = dep
			if dep == to {
				return path
			}
			visited[dep] = true
			queue = append(queue, queueItem{key: dep, path: path})
		}
	}
	return nil
}

// AllPaths finds all reference paths from one module version to another.
// This can be expensive for large graphs with many paths.
func (g *Graph) AllPaths(from, to Key) []Chain {
	var result []Chain
	g.findAllPaths(from, to, Chain{from}, make(map[Key]bool), &result)
	return result
}

func (g *Graph) findAllPaths(current, target Key, path Chain, visited map[Key]bool, result *[]Chain) {
	if current == target {
		*result = append(*result, append(Chain(nil), path...))
		return
	}

	visited[current] = true
	defer func() { visited[current] = false }()

	node := g.Nodes[current]
	if node == nil {
		return
	}
	for _, dep := range node.Dependencies {
		if !visited[dep] {
			g.findAllPaths(dep, target, append(path, dep), visited, result)
		}
	}
}

// WhyIncluded returns every chain from the root to key.
func (g *Graph) WhyIncluded(key Key) ([]Chain, error) {
	if !g.Contains(key) {
		return nil, fmt.Errorf("module version %s not found in graph", key)
	}
	return g.AllPaths(g.Root, key), nil
}

// Stats returns statistics about the graph.
func (g *Graph) Stats() Stats {
	stats := Stats{TotalModules: len(g.Nodes)}
	if root := g.Nodes[g.Root]; root != nil {
		stats.DirectReferences = len(root.Dependencies)
	}
	for _, node := range g.Nodes {
		stats.ExternalReferences += len(node.External())
	}
	stats.VersionConflicts = len(g.VersionConflicts())
	stats.MaxDepth = g.calculateMaxDepth()
	return stats
}

func (g *Graph) calculateMaxDepth() int {
	depths := make(map[Key]int)
	onPath := make(map[Key]bool)
	var maxDepth int

	var dfs func(key Key, depth int)
	dfs = func(key Key, depth int) {
		// An edge back onto the current path closes a cycle.
		if onPath[key] {
			return
		}
		if existing, ok := depths[key]; ok && existing >= depth {
			return
		}
		depths[key] = depth
		maxDepth = max(maxDepth, depth)

		node := g.Nodes[key]
		if node == nil {
			return
		}
		onPath[key] = true
		for _, dep := range node.Dependencies {
			dfs(dep, depth+1)
		}
		delete(onPath, key)
	}

	dfs(g.Root, 0)
	return maxDepth
}

// Leaves returns the nodes with no dependencies, sorted.
func (g *Graph) Leaves() []Key {
	var leaves []Key
	for key, node := range g.Nodes {
		if len(node.Dependencies) == 0 {
			leaves = append(leaves, key)
		}
	}
	sortKeys(leaves)
	return leaves
}

// HasCycles returns true if the graph contains cycles.
func (g *Graph) HasCycles() bool {
	return len(g.FindCycles()) > 0
}

// FindCycles returns the cycles in the graph.
func (g *Graph) FindCycles() []Chain {
	var cycles []Chain
	visited := make(map[Key]bool)
	recStack := make(map[Key]bool)
	path := make(Chain, 0)

	var findCycles func(key Key)
	findCycles = func(key Key) {
		visited[key] = true
		recStack[key] = true
		path = append(path, key)

		if node := g.Nodes[key]; node != nil {
			for _, dep := range node.Dependencies {
				if !visited[dep] {
					findCycles(dep)
					continue
				}
				if !recStack[dep] {
					continue
				}
				for i, k := range path {
					if k == dep {
						cycles = append(cycles, append(Chain(nil), path[i:]...))
						break
					}
				}
			}
		}

		path = path[:len(path)-1]
		recStack[key] = false
	}

	keys := g.sortedKeys()
	for _, key := range keys {
		if !visited[key] {
			findCycles(key)
		}
	}
	return cycles
}

func (g *Graph) sortedKeys() []Key {
	keys := make([]Key, 0, len(g.Nodes))
	for key := range g.Nodes {
		keys = append(keys, key)
	}
	sortKeys(keys)
	return keys
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
}
