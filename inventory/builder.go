package inventory

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arxeiss/deadcalls/locator"
	"github.com/arxeiss/deadcalls/signature"
)

type (
	// ScanTarget is one unit of work for a MethodSource: a directory holding class or
	// source files, or a single archive. Nested archives of a directory location become
	// targets of their own.
	ScanTarget struct {
		Path     string
		Kind     locator.Kind
		Location locator.CodeLocation
		Excludes []string // doublestar patterns relative to Path, directories only
	}

	// TypeUnit is one declared type with its direct superclass and declared methods.
	TypeUnit struct {
		Name       string
		Superclass string
		Methods    []signature.MethodDescriptor
	}

	// MethodSource enumerates the types and methods found in a scan target. Sources must
	// be safe for concurrent use on distinct targets.
	MethodSource interface {
		Enumerate(ctx context.Context, target ScanTarget) ([]TypeUnit, error)
	}

	// Snapshot is the immutable result of one scan.
	Snapshot struct {
		Inventory   *Inventory
		Fingerprint Fingerprint
		Hierarchy   *TypeGraph
		Artifacts   []Artifact // sorted
		ScanErrors  []error    // per target, the inventory may be partial
		ScannedAt   time.Time
		Took        time.Duration
	}

	// Builder scans code locations into snapshots.
	Builder struct {
		Source     MethodSource
		Normalizer *signature.Normalizer

		// Packages limits the inventory to types in these packages or below; empty means all.
		Packages []string
		// ExcludePackages removes types in these packages or below.
		ExcludePackages []string
		// Visibility is the least visible method kept.
		Visibility signature.Visibility
		// Excludes are doublestar patterns for files skipped inside directory locations.
		Excludes []string
		// Workers bounds how many targets are enumerated at once.
		Workers int

		log *zap.Logger
	}

	targetResult struct {
		units []TypeUnit
		err   error
	}
)

// NewBuilder returns a builder keeping public methods of all packages.
func NewBuilder(source MethodSource, log *zap.Logger) *Builder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{
		Source:     source,
		Normalizer: signature.Default(),
		Visibility: signature.Public,
		Workers:    runtime.NumCPU(),
		log:        log,
	}
}

// Scan resolves roots with loc and builds the resulting locations. Roots that cannot
// be resolved are reported in Snapshot.ScanErrors ahead of per-target failures. A nil
// loc resolves without excludes.
func (b *Builder) Scan(ctx context.Context, loc *locator.Locator, roots []string) (*Snapshot, error) {
	if loc == nil {
		loc = locator.New(b.logger())
	}
	locations, errs := loc.Resolve(roots)
	return b.build(ctx, locations, errs)
}

// Build scans locations to completion. Per-target failures end up in
// Snapshot.ScanErrors. When no method survives filtering the snapshot is returned
// together with an *EmptyInventoryError. Only context cancellation aborts a scan.
func (b *Builder) Build(ctx context.Context, locations []locator.CodeLocation) (*Snapshot, error) {
	return b.build(ctx, locations, nil)
}

func (b *Builder) build(ctx context.Context, locations []locator.CodeLocation, resolveErrs []error) (*Snapshot, error) {
	if b.Source == nil {
		return nil, fmt.Errorf("no method source configured")
	}
	started := time.Now()
	log := b.logger()

	targets, artifacts, expandErrs := b.expand(locations)
	scanErrs := append(slices.Clone(resolveErrs), expandErrs...)
	log.Debug("expanded code locations",
		zap.Int("locations", len(locations)), zap.Int("targets", len(targets)), zap.Int("artifacts", len(artifacts)))

	results, err := b.enumerate(ctx, targets)
	if err != nil {
		return nil, err
	}

	acc := newAccumulator(b.Normalizer)
	graph := &TypeGraph{parents: make(map[string]string)}
	for i, res := range results {
		if res.err != nil {
			scanErrs = append(scanErrs, fmt.Errorf("failed to scan '%s': %w", targets[i].Path, res.err))
			continue
		}
		for _, u := range res.units {
			graph.add(u.Name, u.Superclass)
			if !b.wantType(u.Name) {
				continue
			}
			for _, m := range u.Methods {
				if b.wantMethod(m) {
					acc.add(m)
				}
			}
		}
	}

	inv := acc.inventory()
	SortArtifacts(artifacts)
	snap := &Snapshot{
		Inventory:   inv,
		Fingerprint: ComputeFingerprint(artifacts, inv.Len()),
		Hierarchy:   graph,
		Artifacts:   artifacts,
		ScanErrors:  scanErrs,
		ScannedAt:   started,
		Took:        time.Since(started),
	}
	for _, e := range scanErrs {
		log.Warn("code location skipped", zap.Error(e))
	}
	log.Info("codebase scanned",
		zap.Int("methods", inv.Len()),
		zap.Int("types", graph.Len()),
		zap.Stringer("fingerprint", snap.Fingerprint),
		zap.Duration("took", snap.Took))

	if inv.Len() == 0 {
		return snap, &EmptyInventoryError{Locations: len(locations), Packages: b.Packages}
	}
	return snap, nil
}

func (b *Builder) logger() *zap.Logger {
	if b.log == nil {
		return zap.NewNop()
	}
	return b.log
}

func (b *Builder) enumerate(ctx context.Context, targets []ScanTarget) ([]targetResult, error) {
	results := make([]targetResult, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	workers := b.Workers
	if workers <= 0 {
		workers = 1
	}
	g.SetLimit(workers)
	for i, t := range targets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			units, err := b.Source.Enumerate(gctx, t)
			results[i] = targetResult{units: units, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scan aborted: %w", err)
	}
	return results, nil
}

// expand flattens locations into scan targets and records every contributing artifact.
func (b *Builder) expand(locations []locator.CodeLocation) ([]ScanTarget, []Artifact, []error) {
	var (
		targets   []ScanTarget
		artifacts []Artifact
		errs      []error
	)
	for _, loc := range locations {
		base := filepath.Base(loc.Path)
		if loc.Kind == locator.KindArchive {
			a, err := artifactOf(loc.Path, base)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			artifacts = append(artifacts, a)
			targets = append(targets, ScanTarget{Path: loc.Path, Kind: locator.KindArchive, Location: loc})
			continue
		}

		if loc.Classpath || loc.Sources {
			targets = append(targets, ScanTarget{
				Path: loc.Path, Kind: locator.KindDirectory, Location: loc, Excludes: b.Excludes,
			})
		}
		err := filepath.WalkDir(loc.Path, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				errs = append(errs, fmt.Errorf("failed to walk '%s': %w", p, walkErr))
				return nil
			}
			rel, relErr := filepath.Rel(loc.Path, p)
			if relErr != nil || rel == "." {
				return nil //nolint:nilerr // only the root itself
			}
			rel = filepath.ToSlash(rel)
			if locator.Excluded(b.Excludes, rel) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			name := base + "/" + rel
			switch ext := strings.ToLower(filepath.Ext(p)); {
			case locator.NeedsExploding(p):
				errs = append(errs, &locator.UnsupportedArtifactError{Path: p, Reason: "archive must be exploded before scanning"})
			case locator.IsArchive(p):
				a, err := artifactOf(p, name)
				if err != nil {
					errs = append(errs, err)
					return nil
				}
				artifacts = append(artifacts, a)
				targets = append(targets, ScanTarget{Path: p, Kind: locator.KindArchive, Location: loc})
			case ext == ".class" && loc.Classpath, ext == ".java" && loc.Sources:
				a, err := artifactOf(p, name)
				if err != nil {
					errs = append(errs, err)
					return nil
				}
				artifacts = append(artifacts, a)
			}
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to walk '%s': %w", loc.Path, err))
		}
	}
	return targets, artifacts, errs
}

func artifactOf(path, rel string) (Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to stat artifact '%s': %w", path, err)
	}
	return Artifact{RelPath: rel, Size: info.Size(), ModTimeMillis: info.ModTime().UnixMilli()}, nil
}

func (b *Builder) wantType(name string) bool {
	for _, p := range b.ExcludePackages {
		if signature.InPackage(name, p) {
			return false
		}
	}
	if len(b.Packages) == 0 {
		return true
	}
	for _, p := range b.Packages {
		if signature.InPackage(name, p) {
			return true
		}
	}
	return false
}

func (b *Builder) wantMethod(m signature.MethodDescriptor) bool {
	if m.Modifiers.Has(signature.Synthetic) || m.Modifiers.Has(signature.Bridge) {
		return false
	}
	return m.Visibility >= b.Visibility && b.wantType(m.DeclaringType)
}
