package inventory

import "github.com/arxeiss/deadcalls/signature"

// HierarchyAccessor answers which type a type directly extends.
type HierarchyAccessor interface {
	SuperclassOf(typeName string) (string, bool)
}

// TypeGraph is a prebuilt HierarchyAccessor where every type has at most one parent.
// It is immutable once returned by a Builder or NewTypeGraph. Names are kept in
// canonical spelling, so "pkg.Impl$$Gen" and "pkg.Impl..Gen" are the same type.
type TypeGraph struct {
	parents map[string]string
}

var _ HierarchyAccessor = (*TypeGraph)(nil)

// NewTypeGraph copies child to parent edges into a graph. Empty parents and self edges
// are dropped.
func NewTypeGraph(edges map[string]string) *TypeGraph {
	g := &TypeGraph{parents: make(map[string]string, len(edges))}
	for child, parent := range edges {
		g.add(child, parent)
	}
	return g
}

// add records the first parent seen for child.
func (g *TypeGraph) add(child, parent string) {
	child, parent = signature.CanonicalType(child), signature.CanonicalType(parent)
	if child == "" || parent == "" || child == parent {
		return
	}
	if _, ok := g.parents[child]; !ok {
		g.parents[child] = parent
	}
}

// SuperclassOf returns the direct parent of typeName. A nil graph knows no types.
func (g *TypeGraph) SuperclassOf(typeName string) (string, bool) {
	if g == nil {
		return "", false
	}
	p, ok := g.parents[signature.CanonicalType(typeName)]
	return p, ok
}

// Len returns the number of types with a known parent.
func (g *TypeGraph) Len() int {
	if g == nil {
		return 0
	}
	return len(g.parents)
}
