// Package engine ties scanning, classification and collection together. A process
// creates one Engine and hands it to the scheduler and the invocation source.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arxeiss/deadcalls/collector"
	"github.com/arxeiss/deadcalls/inventory"
	"github.com/arxeiss/deadcalls/locator"
	"github.com/arxeiss/deadcalls/reconcile"
)

const defaultPendingLimit = 10000

type (
	// Config wires the engine. Builder is required; everything else has defaults.
	Config struct {
		Roots      []string
		Locator    *locator.Locator
		Builder    *inventory.Builder
		Classifier *reconcile.Classifier
		Collector  *collector.Collector
		// PendingLimit caps invocations buffered before the first inventory exists.
		PendingLimit int
	}

	// Engine is safe for concurrent use.
	Engine struct {
		runID     string
		startedAt int64

		roots      []string
		locator    *locator.Locator
		builder    *inventory.Builder
		classifier *reconcile.Classifier
		collector  *collector.Collector

		state  atomic.Pointer[state]
		scanMu sync.Mutex

		pendingMu    sync.Mutex
		pending      []reconcile.InvocationRecord
		pendingLimit int
		dropped      atomic.Int64
		skewed       atomic.Int64

		log *zap.Logger
	}

	// state is swapped as a whole so readers see a snapshot and its resolver together.
	state struct {
		snap     *inventory.Snapshot
		resolver *reconcile.OverrideResolver
	}

	// RescanResult tells what a Rescan did.
	RescanResult struct {
		Snapshot *inventory.Snapshot // the snapshot in effect afterwards
		Changed  bool                // the fingerprint differs from the previous snapshot
		Replayed int                 // buffered invocations classified against the new inventory
	}
)

// New returns an engine with a fresh run instance id.
func New(cfg Config, log *zap.Logger) (*Engine, error) {
	if cfg.Builder == nil {
		return nil, fmt.Errorf("engine requires an inventory builder")
	}
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		runID:        uuid.NewString(),
		startedAt:    time.Now().UnixMilli(),
		roots:        cfg.Roots,
		locator:      cfg.Locator,
		builder:      cfg.Builder,
		classifier:   cfg.Classifier,
		collector:    cfg.Collector,
		pendingLimit: cfg.PendingLimit,
		log:          log,
	}
	if e.locator == nil {
		e.locator = locator.New(log)
	}
	if e.classifier == nil {
		e.classifier = reconcile.NewClassifier(cfg.Builder.Normalizer)
	}
	if e.collector == nil {
		e.collector = collector.New()
	}
	if e.pendingLimit <= 0 {
		e.pendingLimit = defaultPendingLimit
	}
	e.log = log.With(zap.String("run", e.runID))
	return e, nil
}

// RunInstanceID identifies this process run.
func (e *Engine) RunInstanceID() string { return e.runID }

// RunStartedAtMillis is when the engine was created.
func (e *Engine) RunStartedAtMillis() int64 { return e.startedAt }

// Collector exposes the invocation buffer.
func (e *Engine) Collector() *collector.Collector { return e.collector }

// InventorySnapshot returns the snapshot in effect, nil before the first successful scan.
func (e *Engine) InventorySnapshot() *inventory.Snapshot {
	if st := e.state.Load(); st != nil {
		return st.snap
	}
	return nil
}

// Rescan resolves the roots and builds a new inventory. A snapshot with an unchanged
// fingerprint is discarded so readers keep the one they have. A failed or empty scan
// leaves the previous snapshot in effect and returns the error.
func (e *Engine) Rescan(ctx context.Context) (RescanResult, error) {
	e.scanMu.Lock()
	defer e.scanMu.Unlock()

	prev := e.state.Load()
	snap, err := e.builder.Scan(ctx, e.locator, e.roots)
	if err != nil {
		res := RescanResult{}
		if prev != nil {
			res.Snapshot = prev.snap
		}
		var empty *inventory.EmptyInventoryError
		if errors.As(err, &empty) {
			e.log.Warn("scan found no methods, keeping previous inventory", zap.Error(err))
		}
		return res, fmt.Errorf("failed to rescan codebase: %w", err)
	}

	if prev != nil && prev.snap.Fingerprint.Digest == snap.Fingerprint.Digest {
		e.log.Debug("codebase unchanged", zap.Stringer("fingerprint", snap.Fingerprint))
		return RescanResult{Snapshot: prev.snap}, nil
	}

	e.state.Store(&state{snap: snap, resolver: reconcile.NewOverrideResolver(snap.Hierarchy)})
	e.log.Info("inventory published",
		zap.Stringer("fingerprint", snap.Fingerprint), zap.Int("methods", snap.Inventory.Len()))
	return RescanResult{Snapshot: snap, Changed: true, Replayed: e.replay()}, nil
}

// RegisterInvocation records a call of raw observed at timestampMillis for this run.
func (e *Engine) RegisterInvocation(raw string, timestampMillis int64) error {
	return e.Register(reconcile.InvocationRecord{
		RawSignature:    raw,
		InvokedAtMillis: timestampMillis,
		RunInstanceID:   e.runID,
	})
}

// Register records rec. Before the first inventory exists the record is buffered and
// classified once a scan succeeds. Ignored invocations are dropped silently.
func (e *Engine) Register(rec reconcile.InvocationRecord) error {
	if rec.InvokedAtMillis < 0 {
		return &collector.InvalidArgumentError{
			Argument: "invocation time", Reason: fmt.Sprintf("%d is negative", rec.InvokedAtMillis),
		}
	}
	if rec.RunInstanceID == "" {
		rec.RunInstanceID = e.runID
	}

	st := e.state.Load()
	if st == nil {
		e.pendingMu.Lock()
		// re-check, a scan may have replayed meanwhile
		if st = e.state.Load(); st == nil {
			defer e.pendingMu.Unlock()
			if len(e.pending) >= e.pendingLimit {
				if e.dropped.Add(1) == 1 {
					e.log.Warn("invocation buffer full, dropping until the first inventory is ready",
						zap.Int("limit", e.pendingLimit))
				}
				return nil
			}
			e.pending = append(e.pending, rec)
			return nil
		}
		e.pendingMu.Unlock()
	}
	_, err := e.record(st, rec)
	return err
}

// Classify classifies raw against the current inventory without recording it.
func (e *Engine) Classify(raw string) reconcile.Result {
	rec := reconcile.InvocationRecord{RawSignature: raw, RunInstanceID: e.runID}
	st := e.state.Load()
	if st == nil {
		return e.classifier.Classify(rec, nil, nil)
	}
	return e.classifier.Classify(rec, st.snap.Inventory, st.resolver)
}

func (e *Engine) record(st *state, rec reconcile.InvocationRecord) (reconcile.Result, error) {
	res := e.classifier.Classify(rec, st.snap.Inventory, st.resolver)
	if res.Kind == reconcile.Ignored {
		return res, nil
	}
	if res.Kind == reconcile.Unrecognized {
		e.log.Debug("unrecognized invocation", zap.String("signature", res.ResolvedSignature))
	}
	if rec.RunInstanceID == e.runID && rec.InvokedAtMillis < e.startedAt {
		if n := e.skewed.Add(1); n == 1 || n%1000 == 0 {
			e.log.Debug("invocation predates run start", zap.Int64("count", n),
				zap.Int64("invokedAt", rec.InvokedAtMillis), zap.Int64("runStartedAt", e.startedAt))
		}
	}
	err := e.collector.Put(rec.RunInstanceID, e.startedAt, res.ResolvedSignature, rec.InvokedAtMillis, confidenceOf(res.Kind))
	if err != nil {
		return res, fmt.Errorf("failed to record invocation: %w", err)
	}
	return res, nil
}

// replay classifies invocations buffered before the first inventory.
func (e *Engine) replay() int {
	e.pendingMu.Lock()
	pending := e.pending
	e.pending = nil
	e.pendingMu.Unlock()
	if len(pending) == 0 {
		return 0
	}

	st := e.state.Load()
	for _, rec := range pending {
		if _, err := e.record(st, rec); err != nil {
			e.log.Warn("buffered invocation rejected", zap.Error(err))
		}
	}
	e.log.Info("replayed buffered invocations",
		zap.Int("count", len(pending)), zap.Int64("dropped", e.dropped.Load()))
	return len(pending)
}

// Pending returns how many invocations wait for the first inventory.
func (e *Engine) Pending() int {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	return len(e.pending)
}

// GetNotUploaded returns the buffered entries of runID.
func (e *Engine) GetNotUploaded(runID string) []collector.Entry {
	return e.collector.GetNotUploaded(runID)
}

// ClearUploaded drops the entries of runID returned by the last GetNotUploaded.
func (e *Engine) ClearUploaded(runID string) int {
	return e.collector.ClearUploaded(runID)
}

func confidenceOf(k reconcile.Kind) collector.Confidence {
	switch k {
	case reconcile.Exact:
		return collector.Exact
	case reconcile.Overridden:
		return collector.Overridden
	case reconcile.Unrecognized:
		return collector.Unrecognized
	default:
		return collector.None
	}
}
