package inventory

import (
	"fmt"
	"strings"
)

// EmptyInventoryError is returned when a complete scan found no methods. It usually
// points at wrong roots or package filters.
type EmptyInventoryError struct {
	Locations int
	Packages  []string
}

func (e *EmptyInventoryError) Error() string {
	pkgs := "<all>"
	if len(e.Packages) > 0 {
		pkgs = strings.Join(e.Packages, ",")
	}
	return fmt.Sprintf("no methods found in %d code locations (packages: %s)", e.Locations, pkgs)
}
