// Package graph builds and queries the reference graph of tracked modules.
//
// Nodes are module versions; an edge a -> b means the descriptor of module
// version a declares a reference resolving to module version b.
//
// # Building a Graph
//
//	b := graph.NewBuilder(lister)
//	g, err := b.Build(ctx, version.MustModuleVersion("Domain/app:D/main"))
//
// # Querying the Graph
//
//	deps := g.DirectDeps(key)
//	users := g.Dependents(key)
//	path := g.Path(from, to)
//	conflicts := g.VersionConflicts()
//
// # Output Formats
//
//	dot := g.ToDOT()
//	text := g.ToText()
//	data, err := g.ToJSON()
package graph
