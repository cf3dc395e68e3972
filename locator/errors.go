package locator

import "fmt"

// LocationNotFoundError is returned for a root that does not exist. It only affects
// that root.
type LocationNotFoundError struct {
	Path string
}

func (e *LocationNotFoundError) Error() string {
	return fmt.Sprintf("code location not found: %s", e.Path)
}

// UnsupportedArtifactError is returned for a root that exists but cannot be scanned as
// is. Callers may skip the location and carry on.
type UnsupportedArtifactError struct {
	Path   string
	Reason string
}

func (e *UnsupportedArtifactError) Error() string {
	return fmt.Sprintf("unsupported code artifact %s: %s", e.Path, e.Reason)
}
