// Package collector buffers classified invocations per run instance until they are
// published. Writers never take a global lock.
package collector

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Confidence ranks how well an invocation matched the inventory. Higher wins.
type Confidence int

const (
	None Confidence = iota
	Unrecognized
	Overridden
	Exact
)

func (c Confidence) String() string {
	switch c {
	case None:
		return "NONE"
	case Unrecognized:
		return "UNRECOGNIZED"
	case Overridden:
		return "OVERRIDDEN"
	case Exact:
		return "EXACT"
	default:
		return fmt.Sprintf("Confidence(%d)", int(c))
	}
}

// MarshalText renders the confidence name in JSON output.
func (c Confidence) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// Entry is one buffered (run instance, signature) pair.
type Entry struct {
	RunInstanceID       string     `json:"runInstanceId"`
	RunStartedAtMillis  int64      `json:"runStartedAt"`
	Signature           string     `json:"signature"`
	LastInvokedAtMillis int64      `json:"lastInvokedAt"`
	Confidence          Confidence `json:"confidence"`
}

// InvalidArgumentError rejects a Put.
type InvalidArgumentError struct {
	Argument string
	Reason   string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Argument, e.Reason)
}

type (
	// value is never modified once stored; updates swap in a new one.
	value struct {
		runStartedAt int64
		lastInvoked  int64
		confidence   Confidence
	}

	run struct {
		entries sync.Map // signature -> *value

		mu       sync.Mutex
		observed map[string]*value
	}

	// Collector is safe for concurrent use. The zero value is ready to use.
	Collector struct {
		runs sync.Map // run instance id -> *run
	}
)

// New returns an empty collector.
func New() *Collector { return &Collector{} }

// Put records an invocation. Repeated puts for the same run and signature keep the latest
// timestamp and the highest confidence. Invocations older than the run start are kept.
func (c *Collector) Put(runID string, runStartedAtMillis int64, sig string, invokedAtMillis int64, conf Confidence) error {
	switch {
	case strings.TrimSpace(runID) == "":
		return &InvalidArgumentError{Argument: "run instance id", Reason: "must not be empty"}
	case strings.TrimSpace(sig) == "":
		return &InvalidArgumentError{Argument: "signature", Reason: "must not be empty"}
	case invokedAtMillis < 0:
		return &InvalidArgumentError{Argument: "invocation time", Reason: fmt.Sprintf("%d is negative", invokedAtMillis)}
	}

	r := c.run(runID)
	fresh := &value{runStartedAt: runStartedAtMillis, lastInvoked: invokedAtMillis, confidence: conf}
	for {
		cur, loaded := r.entries.LoadOrStore(sig, fresh)
		if !loaded {
			return nil
		}
		old := cur.(*value)
		merged := old.merge(invokedAtMillis, conf)
		if merged == old || r.entries.CompareAndSwap(sig, old, merged) {
			return nil
		}
	}
}

func (v *value) merge(invokedAt int64, conf Confidence) *value {
	if invokedAt <= v.lastInvoked && conf <= v.confidence {
		return v
	}
	return &value{
		runStartedAt: v.runStartedAt,
		lastInvoked:  max(v.lastInvoked, invokedAt),
		confidence:   max(v.confidence, conf),
	}
}

func (c *Collector) run(runID string) *run {
	if r, ok := c.runs.Load(runID); ok {
		return r.(*run)
	}
	r, _ := c.runs.LoadOrStore(runID, &run{})
	return r.(*run)
}

// GetNotUploaded returns the buffered entries of runID sorted by signature and remembers
// them for the next ClearUploaded. It does not modify the buffer.
func (c *Collector) GetNotUploaded(runID string) []Entry {
	v, ok := c.runs.Load(runID)
	if !ok {
		return nil
	}
	r := v.(*run)
	r.mu.Lock()
	defer r.mu.Unlock()

	observed := make(map[string]*value)
	var out []Entry
	r.entries.Range(func(k, v any) bool {
		sig, val := k.(string), v.(*value)
		observed[sig] = val
		out = append(out, Entry{
			RunInstanceID:       runID,
			RunStartedAtMillis:  val.runStartedAt,
			Signature:           sig,
			LastInvokedAtMillis: val.lastInvoked,
			Confidence:          val.confidence,
		})
		return true
	})
	r.observed = observed
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Signature, b.Signature) })
	return out
}

// ClearUploaded drops the entries returned by the last GetNotUploaded of runID. Entries
// updated since then stay buffered so the update is published next time.
func (c *Collector) ClearUploaded(runID string) int {
	v, ok := c.runs.Load(runID)
	if !ok {
		return 0
	}
	r := v.(*run)
	r.mu.Lock()
	defer r.mu.Unlock()

	cleared := 0
	for sig, val := range r.observed {
		if r.entries.CompareAndDelete(sig, val) {
			cleared++
		}
	}
	r.observed = nil
	return cleared
}

// RunIDs returns the sorted run instances with buffered entries.
func (c *Collector) RunIDs() []string {
	var ids []string
	c.runs.Range(func(k, v any) bool {
		empty := true
		v.(*run).entries.Range(func(_, _ any) bool {
			empty = false
			return false
		})
		if !empty {
			ids = append(ids, k.(string))
		}
		return true
	})
	slices.Sort(ids)
	return ids
}

// Len returns the number of buffered entries of runID.
func (c *Collector) Len(runID string) int {
	v, ok := c.runs.Load(runID)
	if !ok {
		return 0
	}
	n := 0
	v.(*run).entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
