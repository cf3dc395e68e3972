// Package inventory builds the normalized method inventory of a codebase together with
// the fingerprint of the artifacts it was built from.
package inventory

import (
	"slices"

	"github.com/arxeiss/deadcalls/signature"
)

type (
	// Entry is one inventory member: the normalized signature and the descriptor it was
	// derived from.
	Entry struct {
		Signature string
		Method    signature.MethodDescriptor
	}

	// Inventory is an immutable set of methods keyed by normalized signature and indexed by
	// declaring type. Build one with a Builder or FromDescriptors.
	Inventory struct {
		bySig  map[string]Entry
		byType map[string][]Entry
		sigs   []string
	}
)

type accumulator struct {
	normalizer *signature.Normalizer
	bySig      map[string]Entry
	byType     map[string][]Entry
	order      []string
}

func newAccumulator(n *signature.Normalizer) *accumulator {
	if n == nil {
		n = signature.Default()
	}
	return &accumulator{
		normalizer: n,
		bySig:      make(map[string]Entry),
		byType:     make(map[string][]Entry),
	}
}

// add inserts d unless it normalizes to nothing or its signature is already present.
func (a *accumulator) add(d signature.MethodDescriptor) bool {
	sig, ok := a.normalizer.Normalize(d.Signature())
	if !ok {
		return false
	}
	if _, dup := a.bySig[sig]; dup {
		return false
	}
	e := Entry{Signature: sig, Method: d}
	a.bySig[sig] = e
	typ := signature.CanonicalType(d.DeclaringType)
	a.byType[typ] = append(a.byType[typ], e)
	a.order = append(a.order, sig)
	return true
}

func (a *accumulator) inventory() *Inventory {
	slices.Sort(a.order)
	return &Inventory{bySig: a.bySig, byType: a.byType, sigs: a.order}
}

// FromDescriptors builds an inventory with the default normalizer. Descriptors that
// normalize to the same signature collapse, the first one wins.
func FromDescriptors(descs ...signature.MethodDescriptor) *Inventory {
	acc := newAccumulator(nil)
	for _, d := range descs {
		acc.add(d)
	}
	return acc.inventory()
}

// Len returns the number of distinct signatures. A nil inventory is empty.
func (inv *Inventory) Len() int {
	if inv == nil {
		return 0
	}
	return len(inv.sigs)
}

// Contains reports whether sig, a normalized signature, is in the inventory.
func (inv *Inventory) Contains(sig string) bool {
	_, ok := inv.Lookup(sig)
	return ok
}

// Lookup returns the entry stored under sig.
func (inv *Inventory) Lookup(sig string) (Entry, bool) {
	if inv == nil {
		return Entry{}, false
	}
	e, ok := inv.bySig[sig]
	return e, ok
}

// DeclaredIn returns the entries declared by typeName in insertion order. Either
// spelling of generated names, "$$" or "..", finds the same entries.
func (inv *Inventory) DeclaredIn(typeName string) []Entry {
	if inv == nil {
		return nil
	}
	return slices.Clone(inv.byType[signature.CanonicalType(typeName)])
}

// Signatures returns all signatures sorted.
func (inv *Inventory) Signatures() []string {
	if inv == nil {
		return nil
	}
	return slices.Clone(inv.sigs)
}

// Entries returns all entries sorted by signature.
func (inv *Inventory) Entries() []Entry {
	if inv == nil {
		return nil
	}
	out := make([]Entry, 0, len(inv.sigs))
	for _, s := range inv.sigs {
		out = append(out, inv.bySig[s])
	}
	return out
}
