package inventory

import "context"

// Sources chains method sources. Every source sees every target and the units are
// concatenated in source order, so earlier sources win duplicate signatures.
type Sources []MethodSource

var _ MethodSource = Sources(nil)

// Enumerate implements MethodSource. The first failing source fails the target.
func (s Sources) Enumerate(ctx context.Context, t ScanTarget) ([]TypeUnit, error) {
	var units []TypeUnit
	for _, src := range s {
		if src == nil {
			continue
		}
		u, err := src.Enumerate(ctx, t)
		if err != nil {
			return nil, err
		}
		units = append(units, u...)
	}
	return units, nil
}
