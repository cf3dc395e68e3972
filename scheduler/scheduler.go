// Package scheduler drives an engine in the background: it rescans the codebase,
// publishes the inventory when its fingerprint changes and ships collected invocations
// to a publisher, retrying failed attempts.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arxeiss/deadcalls/engine"
	"github.com/arxeiss/deadcalls/publish"
)

const (
	defaultRescanInterval  = 10 * time.Minute
	defaultPublishInterval = time.Minute
	defaultRetryInterval   = 15 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

type (
	// Config tunes the scheduler. Zero durations take defaults.
	Config struct {
		RescanInterval  time.Duration
		PublishInterval time.Duration
		RetryInterval   time.Duration
		ShutdownTimeout time.Duration

		// Watch triggers a rescan shortly after artifacts under the roots change.
		Watch         bool
		WatchRoots    []string
		WatchExcludes []string
		WatchDebounce time.Duration

		// Metadata is stamped on every publication. Run fields are filled from the engine.
		Metadata publish.Metadata
	}

	// Scheduler owns the background loops of one engine.
	Scheduler struct {
		cfg Config
		eng *engine.Engine
		pub publish.Publisher
		log *zap.Logger

		rescanNow  chan struct{}
		publishing atomic.Bool

		mu        sync.Mutex
		published string // digest of the last acknowledged inventory
	}

	// Attempt summarises one publish attempt.
	Attempt struct {
		Skipped           bool // another attempt was in flight
		InventorySent     bool
		InvocationBatches int
		InvocationEntries int
	}
)

// New returns a scheduler for eng publishing through pub.
func New(eng *engine.Engine, pub publish.Publisher, cfg Config, log *zap.Logger) (*Scheduler, error) {
	if eng == nil || pub == nil {
		return nil, fmt.Errorf("scheduler requires an engine and a publisher")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.RescanInterval <= 0 {
		cfg.RescanInterval = defaultRescanInterval
	}
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = defaultPublishInterval
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.Metadata.Hostname == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.Metadata.Hostname = host
		}
	}
	cfg.Metadata.RunInstanceID = eng.RunInstanceID()
	cfg.Metadata.RunStartedAtMillis = eng.RunStartedAtMillis()

	return &Scheduler{
		cfg:       cfg,
		eng:       eng,
		pub:       pub,
		log:       log,
		rescanNow: make(chan struct{}, 1),
	}, nil
}

// Run scans immediately and then loops until ctx is done. A last publish attempt bounded
// by ShutdownTimeout runs on the way out.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.rescanLoop(gctx) })
	g.Go(func() error { return s.publishLoop(gctx) })
	if s.cfg.Watch {
		w, err := newWatcher(s.cfg.WatchRoots, s.cfg.WatchExcludes, s.cfg.WatchDebounce, s.RequestRescan, s.log)
		if err != nil {
			s.log.Warn("artifact watch disabled", zap.Error(err))
		} else {
			g.Go(func() error { return w.run(gctx) })
		}
	}
	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if _, perr := s.PublishNow(shutdownCtx); perr != nil {
		s.log.Warn("final publish failed", zap.Error(perr))
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// RequestRescan schedules a rescan without waiting for the next interval.
func (s *Scheduler) RequestRescan() {
	select {
	case s.rescanNow <- struct{}{}:
	default:
	}
}

func (s *Scheduler) rescanLoop(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		case <-s.rescanNow:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		res, err := s.eng.Rescan(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			s.log.Warn("rescan failed", zap.Error(err))
		case res.Changed:
			if _, err := s.publishInventory(ctx); err != nil {
				s.log.Warn("inventory publish failed, will retry", zap.Error(err))
			}
		}
		timer.Reset(s.cfg.RescanInterval)
	}
}

func (s *Scheduler) publishLoop(ctx context.Context) error {
	timer := time.NewTimer(s.cfg.PublishInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		next := s.cfg.PublishInterval
		if _, err := s.PublishNow(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn("publish failed, will retry", zap.Error(err), zap.Duration("retryIn", s.cfg.RetryInterval))
			next = s.cfg.RetryInterval
		}
		timer.Reset(next)
	}
}

// PublishNow publishes a changed inventory and every buffered invocation batch. It
// returns a skipped Attempt when another attempt is in flight. Batches that fail stay
// buffered for the next attempt.
func (s *Scheduler) PublishNow(ctx context.Context) (Attempt, error) {
	if !s.publishing.CompareAndSwap(false, true) {
		return Attempt{Skipped: true}, nil
	}
	defer s.publishing.Store(false)

	var (
		att  Attempt
		errs []error
	)
	sent, err := s.sendInventory(ctx)
	att.InventorySent = sent
	if err != nil {
		errs = append(errs, err)
	}

	col := s.eng.Collector()
	for _, runID := range col.RunIDs() {
		entries := col.GetNotUploaded(runID)
		if len(entries) == 0 {
			continue
		}
		meta := s.metadata()
		meta.RunInstanceID = runID
		meta.RunStartedAtMillis = entries[0].RunStartedAtMillis
		if err := s.pub.PublishInvocations(ctx, publish.Invocations{Metadata: meta, Entries: entries}); err != nil {
			errs = append(errs, fmt.Errorf("failed to publish invocations of run %s: %w", runID, err))
			continue
		}
		cleared := col.ClearUploaded(runID)
		att.InvocationBatches++
		att.InvocationEntries += len(entries)
		s.log.Debug("invocations published",
			zap.String("runInstance", runID), zap.Int("entries", len(entries)), zap.Int("cleared", cleared))
	}
	return att, errors.Join(errs...)
}

// publishInventory sends a changed inventory unless an attempt is in flight; the
// publish loop picks it up then.
func (s *Scheduler) publishInventory(ctx context.Context) (bool, error) {
	if !s.publishing.CompareAndSwap(false, true) {
		return false, nil
	}
	defer s.publishing.Store(false)
	return s.sendInventory(ctx)
}

func (s *Scheduler) sendInventory(ctx context.Context) (bool, error) {
	snap := s.eng.InventorySnapshot()
	if snap == nil {
		return false, nil
	}
	s.mu.Lock()
	done := s.published == snap.Fingerprint.Digest
	s.mu.Unlock()
	if done {
		return false, nil
	}

	if err := s.pub.PublishInventory(ctx, publish.NewInventory(s.metadata(), snap)); err != nil {
		return false, fmt.Errorf("failed to publish inventory %s: %w", snap.Fingerprint, err)
	}
	s.mu.Lock()
	s.published = snap.Fingerprint.Digest
	s.mu.Unlock()
	s.log.Info("inventory published", zap.Stringer("fingerprint", snap.Fingerprint))
	return true, nil
}

// PublishedFingerprint returns the digest of the last acknowledged inventory.
func (s *Scheduler) PublishedFingerprint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.published
}

func (s *Scheduler) metadata() publish.Metadata {
	meta := s.cfg.Metadata
	meta.PublishedAt = time.Now().UTC()
	return meta
}
