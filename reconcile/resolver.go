// Package reconcile classifies runtime invocations against a method inventory.
package reconcile

import (
	"github.com/arxeiss/deadcalls/inventory"
	"github.com/arxeiss/deadcalls/signature"
)

// defaultMaxDepth bounds ancestor walks on deep or malformed hierarchies.
const defaultMaxDepth = 64

// OverrideResolver finds the inventory method a subclass method overrides.
type OverrideResolver struct {
	Hierarchy inventory.HierarchyAccessor
	MaxDepth  int
}

// NewOverrideResolver returns a resolver walking h.
func NewOverrideResolver(h inventory.HierarchyAccessor) *OverrideResolver {
	return &OverrideResolver{Hierarchy: h, MaxDepth: defaultMaxDepth}
}

// ResolveBase walks the ancestors of d's declaring type, nearest first, and returns the
// first inventory method with the same name and parameter types. A nil resolver or
// hierarchy resolves nothing.
func (r *OverrideResolver) ResolveBase(inv *inventory.Inventory, d signature.MethodDescriptor) (signature.MethodDescriptor, bool) {
	if r == nil || r.Hierarchy == nil || inv.Len() == 0 {
		return signature.MethodDescriptor{}, false
	}
	limit := r.MaxDepth
	if limit <= 0 {
		limit = defaultMaxDepth
	}
	seen := map[string]bool{d.DeclaringType: true}
	current := d.DeclaringType
	for range limit {
		parent, ok := r.Hierarchy.SuperclassOf(current)
		if !ok || parent == "" || seen[parent] {
			break
		}
		seen[parent] = true
		for _, e := range inv.DeclaredIn(parent) {
			if e.Method.SameShape(d) {
				return e.Method, true
			}
		}
		current = parent
	}
	return signature.MethodDescriptor{}, false
}
