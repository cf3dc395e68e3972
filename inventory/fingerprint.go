package inventory

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
)

type (
	// Artifact is one file that contributed to a scan.
	Artifact struct {
		RelPath       string `json:"path"` // slash separated, prefixed by the location base name
		Size          int64  `json:"size"`
		ModTimeMillis int64  `json:"modTime"`
	}

	// Fingerprint summarises the contributing artifacts of a scan. Equal artifact sets give
	// equal digests whatever order they were scanned in.
	Fingerprint struct {
		Digest        string `json:"digest"`
		ArtifactCount int    `json:"artifacts"`
		EntryCount    int    `json:"entries"`
	}
)

func (f Fingerprint) String() string {
	short := f.Digest
	if len(short) > 12 {
		short = short[:12]
	}
	return fmt.Sprintf("%s (artifacts=%d, entries=%d)", short, f.ArtifactCount, f.EntryCount)
}

// SortArtifacts orders artifacts by path, then size, then modification time.
func SortArtifacts(artifacts []Artifact) {
	slices.SortFunc(artifacts, func(a, b Artifact) int {
		if c := strings.Compare(a.RelPath, b.RelPath); c != 0 {
			return c
		}
		if a.Size != b.Size {
			return cmp.Compare(a.Size, b.Size)
		}
		return cmp.Compare(a.ModTimeMillis, b.ModTimeMillis)
	})
}

// ComputeFingerprint digests a sorted copy of artifacts; the input is left untouched.
func ComputeFingerprint(artifacts []Artifact, entries int) Fingerprint {
	sorted := slices.Clone(artifacts)
	SortArtifacts(sorted)

	h := sha256.New()
	for _, a := range sorted {
		fmt.Fprintf(h, "%s\t%d\t%d\n", a.RelPath, a.Size, a.ModTimeMillis)
	}
	return Fingerprint{
		Digest:        hex.EncodeToString(h.Sum(nil)),
		ArtifactCount: len(sorted),
		EntryCount:    entries,
	}
}
