// Package locator resolves configured root paths into concrete code locations that the
// inventory builder can scan.
package locator

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

// Kind tells whether a location is a directory tree or a single archive.
type Kind int

const (
	KindDirectory Kind = iota
	KindArchive
)

func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "directory"
	case KindArchive:
		return "archive"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

type (
	// CodeLocation is one scannable place holding code artifacts.
	CodeLocation struct {
		Path      string // absolute path of the directory or archive
		Root      string // configured root the location was resolved from
		Kind      Kind
		Classpath bool // directory yields class files
		Sources   bool // directory yields .java sources
		Archives  bool // directory holds nested archives
	}

	// Locator turns roots into locations. The zero value is usable.
	Locator struct {
		// Excludes are doublestar patterns matched against slash separated paths
		// relative to a directory root. Matching files and directories are skipped.
		Excludes []string

		log *zap.Logger
	}
)

var (
	archiveExts = map[string]bool{".jar": true, ".zip": true}
	explodeExts = map[string]bool{".war": true, ".ear": true, ".sar": true}
)

// New creates a locator logging to log. A nil log discards output.
func New(log *zap.Logger, excludes ...string) *Locator {
	return &Locator{Excludes: excludes, log: log}
}

func (l *Locator) logger() *zap.Logger {
	if l.log == nil {
		return zap.NewNop()
	}
	return l.log
}

// IsArchive reports whether name looks like a scannable archive.
func IsArchive(name string) bool {
	return archiveExts[strings.ToLower(filepath.Ext(name))]
}

// NeedsExploding reports whether name is an archive format that must be unpacked
// before it can be scanned.
func NeedsExploding(name string) bool {
	return explodeExts[strings.ToLower(filepath.Ext(name))]
}

// Excluded reports whether rel, a slash separated relative path, matches any pattern.
func Excluded(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// Resolve returns the locations for roots in order. Errors are per root and never stop
// the remaining roots from resolving; they are *LocationNotFoundError,
// *UnsupportedArtifactError or wrapped I/O errors.
func (l *Locator) Resolve(roots []string) ([]CodeLocation, []error) {
	var (
		locs []CodeLocation
		errs []error
		seen = make(map[string]struct{})
	)
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		paths := []string{root}
		if hasMeta(root) {
			matches, err := doublestar.FilepathGlob(root)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid root pattern %q: %w", root, err))
				continue
			}
			if len(matches) == 0 {
				errs = append(errs, &LocationNotFoundError{Path: root})
				continue
			}
			slices.Sort(matches)
			paths = matches
		}
		for _, p := range paths {
			loc, err := l.resolveOne(root, p)
			if err != nil {
				l.logger().Debug("skipping code location", zap.String("path", p), zap.Error(err))
				errs = append(errs, err)
				continue
			}
			if _, dup := seen[loc.Path]; dup {
				continue
			}
			seen[loc.Path] = struct{}{}
			l.logger().Debug("resolved code location",
				zap.String("path", loc.Path), zap.Stringer("kind", loc.Kind), zap.Bool("classpath", loc.Classpath))
			locs = append(locs, loc)
		}
	}
	return locs, errs
}

func (l *Locator) resolveOne(root, path string) (CodeLocation, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return CodeLocation{}, fmt.Errorf("failed to convert '%s' to absolute path: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return CodeLocation{}, &LocationNotFoundError{Path: path}
		}
		return CodeLocation{}, fmt.Errorf("failed to stat code location '%s': %w", path, err)
	}

	if !info.IsDir() {
		switch {
		case IsArchive(abs):
			return CodeLocation{Path: abs, Root: root, Kind: KindArchive}, nil
		case NeedsExploding(abs):
			return CodeLocation{}, &UnsupportedArtifactError{Path: path, Reason: "archive must be exploded before scanning"}
		default:
			return CodeLocation{}, &UnsupportedArtifactError{Path: path, Reason: "not a directory or code archive"}
		}
	}

	loc := CodeLocation{Path: abs, Root: root, Kind: KindDirectory}
	err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // unreadable entries are skipped, the builder reports them
		}
		rel, relErr := filepath.Rel(abs, p)
		if relErr != nil || rel == "." {
			return nil //nolint:nilerr // only the root itself
		}
		if Excluded(l.Excludes, filepath.ToSlash(rel)) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		switch ext := strings.ToLower(filepath.Ext(p)); {
		case ext == ".class":
			loc.Classpath = true
		case ext == ".java":
			loc.Sources = true
		case archiveExts[ext]:
			loc.Archives = true
		}
		if loc.Classpath && loc.Sources && loc.Archives {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return CodeLocation{}, fmt.Errorf("failed to inspect code location '%s': %w", path, err)
	}
	if !loc.Classpath && !loc.Sources && !loc.Archives {
		return CodeLocation{}, &UnsupportedArtifactError{Path: path, Reason: "directory holds no class files, sources or archives"}
	}
	return loc, nil
}

func hasMeta(p string) bool {
	return strings.ContainsAny(p, "*?[{")
}
