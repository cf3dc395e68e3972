package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/arxeiss/deadcalls/classfile"
	"github.com/arxeiss/deadcalls/inventory"
	"github.com/arxeiss/deadcalls/javasrc"
	"github.com/arxeiss/deadcalls/locator"
	"github.com/arxeiss/deadcalls/reconcile"
	"github.com/arxeiss/deadcalls/signature"
)

type (
	// Runner specify all configuration for a one-shot dead method report.
	Runner struct {
		writer    io.Writer
		errWriter io.Writer

		roots []string

		// Builder scans the roots. New sets one reading class files and Java sources.
		Builder *inventory.Builder
		// LogsFlag lists invocation logs, see ReadInvocations for the format.
		LogsFlag []string
		// ExcludesFlag are doublestar patterns skipped inside directory roots.
		ExcludesFlag []string

		// DebugFlag turns on more verbose output.
		DebugFlag bool
		// JSONFlag turns on JSON output.
		JSONFlag bool
	}

	// usage collects what the invocation logs said about the inventory.
	usage struct {
		invoked      map[string]reconcile.Kind
		unrecognized map[string]struct{}
		ignored      int
	}
)

// New creates runner for analysis.
// Pass code roots the same way they are configured for the agent.
func New(writer, errWriter io.Writer, roots []string) *Runner {
	b := inventory.NewBuilder(inventory.Sources{classfile.New(nil), javasrc.New(nil)}, nil)
	return &Runner{
		writer:    writer,
		errWriter: errWriter,
		roots:     roots,
		Builder:   b,
	}
}

func (r *Runner) writeStderr(format string, args ...any) {
	fmt.Fprintf(r.errWriter, strings.TrimSuffix(format, "\n")+"\n", args...)
}

func (r *Runner) writeDebug(format string, args ...any) {
	if r.DebugFlag {
		r.writeStderr(format, args...)
	}
}

// Run scans the roots, classifies every logged invocation against the inventory and
// prints the methods nobody invoked.
func (r *Runner) Run(ctx context.Context) error {
	if len(r.roots) == 0 {
		return fmt.Errorf("no roots provided")
	}
	if r.Builder == nil {
		return fmt.Errorf("no inventory builder configured")
	}

	snap, err := r.scan(ctx)
	if err != nil {
		return err
	}

	u := &usage{
		invoked:      make(map[string]reconcile.Kind),
		unrecognized: make(map[string]struct{}),
	}
	classifier := reconcile.NewClassifier(r.Builder.Normalizer)
	resolver := reconcile.NewOverrideResolver(snap.Hierarchy)
	for _, path := range r.LogsFlag {
		r.writeDebug("Reading invocation log: %s", path)
		err = readInvocationFile(path, func(rec reconcile.InvocationRecord, _ bool) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			u.add(classifier.Classify(rec, snap.Inventory, resolver))
			return nil
		})
		if err != nil {
			return err
		}
	}
	r.writeDebug("Classified invocations: %d invoked, %d unrecognized, %d ignored",
		len(u.invoked), len(u.unrecognized), u.ignored)

	dead := deadMethods(snap.Inventory, u)
	if r.JSONFlag {
		return r.printJSON(ctx, snap.Fingerprint, dead, u)
	}
	r.printText(ctx, dead, u)

	return nil
}

func (r *Runner) scan(ctx context.Context) (*inventory.Snapshot, error) {
	locs, errs := locator.New(nil, r.ExcludesFlag...).Resolve(r.roots)
	for _, err := range errs {
		r.writeStderr("Skipping code location: %s", err)
	}
	if len(locs) == 0 {
		return nil, fmt.Errorf("no code locations found: %w", errors.Join(errs...))
	}

	r.Builder.Excludes = r.ExcludesFlag
	r.writeDebug("Starting to scan %d code locations, might take a while", len(locs))
	timeStart := time.Now()
	snap, err := r.Builder.Build(ctx, locs)
	if err != nil {
		return nil, fmt.Errorf("failed to scan codebase: %w", err)
	}
	r.writeDebug("Scanning finished in %s", time.Since(timeStart))
	r.writeDebug("Detected %d methods, fingerprint %s", snap.Inventory.Len(), snap.Fingerprint)
	for _, err := range snap.ScanErrors {
		r.writeStderr("Skipping code location: %s", err)
	}
	return snap, nil
}

func (u *usage) add(res reconcile.Result) {
	switch res.Kind {
	case reconcile.Exact, reconcile.Overridden:
		if prev, ok := u.invoked[res.ResolvedSignature]; !ok || res.Kind > prev {
			u.invoked[res.ResolvedSignature] = res.Kind
		}
	case reconcile.Unrecognized:
		u.unrecognized[res.ResolvedSignature] = struct{}{}
	default:
		u.ignored++
	}
}

func (u *usage) unrecognizedSignatures() []string {
	out := make([]string, 0, len(u.unrecognized))
	for sig := range u.unrecognized {
		out = append(out, sig)
	}
	slices.Sort(out)
	return out
}

// deadMethods groups the inventory entries nobody invoked by package, sorted.
func deadMethods(inv *inventory.Inventory, u *usage) []*Package {
	byPath := make(map[string]*Package)
	for _, e := range inv.Entries() {
		if _, ok := u.invoked[e.Signature]; ok {
			continue
		}
		path := e.Method.Package()
		pkg, ok := byPath[path]
		if !ok {
			pkg = &Package{Name: path[strings.LastIndexByte(path, '.')+1:], Path: path}
			byPath[path] = pkg
		}
		pkg.Methods = append(pkg.Methods, &Method{
			Type:      e.Method.DeclaringType,
			Name:      e.Method.Name,
			Signature: e.Signature,
			Static:    e.Method.Modifiers.Has(signature.Static),
			Abstract:  e.Method.Modifiers.Has(signature.Abstract),
		})
	}

	out := make([]*Package, 0, len(byPath))
	for _, pkg := range byPath {
		slices.SortFunc(pkg.Methods, func(a, b *Method) int {
			if s := strings.Compare(a.Type, b.Type); s != 0 {
				return s
			}
			return strings.Compare(a.Signature, b.Signature)
		})
		out = append(out, pkg)
	}
	slices.SortFunc(out, func(a, b *Package) int {
		return strings.Compare(a.Path, b.Path)
	})
	return out
}

func (r *Runner) printJSON(_ context.Context, fp inventory.Fingerprint, dead []*Package, u *usage) error {
	enc := json.NewEncoder(r.writer)
	enc.SetIndent("", "\t")
	return enc.Encode(&Report{
		Fingerprint:  fp.Digest,
		Packages:     dead,
		Unrecognized: u.unrecognizedSignatures(),
	})
}

func (r *Runner) printText(_ context.Context, dead []*Package, u *usage) {
	lines := make([]string, 0)
	for _, pkg := range dead {
		for _, m := range pkg.Methods {
			lines = append(lines, fmt.Sprintf("%s: never invoked: %s", m.Type, m.Signature))
		}
	}
	slices.Sort(lines)
	for _, line := range lines {
		fmt.Fprintln(r.writer, line)
	}
	for _, sig := range u.unrecognizedSignatures() {
		fmt.Fprintf(r.writer, "unrecognized invocation: %s\n", sig)
	}
}
