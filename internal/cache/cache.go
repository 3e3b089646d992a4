// Package cache memoizes the last computed AnalysisResult per protocol with
// a staleness policy and single-flight recomputation.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"protosignal/domain/analysis"
	"protosignal/domain/core"
)

// State is the per-protocol cache lifecycle:
// ABSENT -> COMPUTING -> READY -> (STALE -> COMPUTING)
type State string

const (
	StateAbsent    State = "ABSENT"
	StateComputing State = "COMPUTING"
	StateReady     State = "READY"
	StateStale     State = "STALE"
)

// ComputeFunc produces a fresh AnalysisResult for a protocol. The context
// carries the computation's time budget.
type ComputeFunc func(ctx context.Context, protocolID core.ProtocolID) (*analysis.AnalysisResult, error)

// StalenessFunc reports whether new data has been recorded since the cached
// result was generated. Optional; errors are treated as "not stale" so a
// flapping store cannot evict good results.
type StalenessFunc func(ctx context.Context, protocolID core.ProtocolID, generatedAt core.Timestamp) (bool, error)

type entry struct {
	result   *analysis.AnalysisResult
	storedAt time.Time
}

// Cache holds at most one live result per protocol. All mutation is
// serialized per protocol through the single-flight group; computations for
// different protocols run fully in parallel.
type Cache struct {
	mu        sync.RWMutex
	entries   map[core.ProtocolID]*entry
	inflight  map[core.ProtocolID]bool
	group     singleflight.Group
	policy    Policy
	compute   ComputeFunc
	dataStale StalenessFunc
	clock     func() time.Time
}

// Option configures a Cache
type Option func(*Cache)

// WithStalenessFunc wires the new-data staleness check
func WithStalenessFunc(fn StalenessFunc) Option {
	return func(c *Cache) { c.dataStale = fn }
}

// WithClock overrides the wall clock, for tests
func WithClock(clock func() time.Time) Option {
	return func(c *Cache) { c.clock = clock }
}

// New creates a cache around a compute function
func New(policy Policy, compute ComputeFunc, opts ...Option) *Cache {
	c := &Cache{
		entries:  make(map[core.ProtocolID]*entry),
		inflight: make(map[core.ProtocolID]bool),
		policy:   policy,
		compute:  compute,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached result or triggers a single-flight recomputation.
// Concurrent callers for the same protocol share one computation. On
// recomputation failure the previous READY result keeps being served; a
// timeout additionally surfaces core.ErrComputationTimeout alongside the
// last good result so callers know the refresh was abandoned.
func (c *Cache) Get(ctx context.Context, protocolID core.ProtocolID, forceRefresh bool) (*analysis.AnalysisResult, error) {
	if !forceRefresh {
		if res, ok := c.fresh(ctx, protocolID); ok {
			return res, nil
		}
	}

	v, err, _ := c.group.Do(protocolID.String(), func() (interface{}, error) {
		c.setInflight(protocolID, true)
		defer c.setInflight(protocolID, false)

		// The compute context is detached from any single caller so one
		// caller's cancellation cannot kill a shared flight; only the
		// policy's budget bounds it.
		cctx, cancel := context.WithTimeout(context.Background(), c.policy.ComputeTimeout)
		defer cancel()

		result, err := c.compute(cctx, protocolID)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, core.NewTimeoutError(c.policy.ComputeTimeout.String())
			}
			return nil, err
		}
		if err := result.Validate(); err != nil {
			return nil, err
		}

		c.put(protocolID, result)
		return result, nil
	})

	if err != nil {
		// Revert to the previous READY result when one exists; only a
		// protocol with no prior result surfaces the failure directly.
		if prev := c.Peek(protocolID); prev != nil {
			if core.IsTimeoutError(err) {
				return prev, err
			}
			return prev, nil
		}
		return nil, err
	}
	return v.(*analysis.AnalysisResult), nil
}

// Peek returns the cached result without any freshness check or
// recomputation, or nil when the protocol is ABSENT.
func (c *Cache) Peek(protocolID core.ProtocolID) *analysis.AnalysisResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[protocolID]; ok {
		return e.result
	}
	return nil
}

// Invalidate evicts the protocol's entry. The eviction hook for
// collaborators that know new data arrived.
func (c *Cache) Invalidate(protocolID core.ProtocolID) {
	c.mu.Lock()
	delete(c.entries, protocolID)
	c.mu.Unlock()
	c.group.Forget(protocolID.String())
}

// State reports the protocol's lifecycle state.
func (c *Cache) State(ctx context.Context, protocolID core.ProtocolID) State {
	c.mu.RLock()
	computing := c.inflight[protocolID]
	e, ok := c.entries[protocolID]
	c.mu.RUnlock()

	if computing {
		return StateComputing
	}
	if !ok {
		return StateAbsent
	}
	if c.isStale(ctx, e, protocolID) {
		return StateStale
	}
	return StateReady
}

// Seed installs a previously persisted result, e.g. on process start.
func (c *Cache) Seed(result *analysis.AnalysisResult) {
	if result == nil {
		return
	}
	c.put(result.ProtocolID, result)
}

func (c *Cache) fresh(ctx context.Context, protocolID core.ProtocolID) (*analysis.AnalysisResult, bool) {
	c.mu.RLock()
	e, ok := c.entries[protocolID]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.isStale(ctx, e, protocolID) {
		return nil, false
	}
	return e.result, true
}

func (c *Cache) isStale(ctx context.Context, e *entry, protocolID core.ProtocolID) bool {
	if c.clock().Sub(e.storedAt) > c.policy.TTL {
		return true
	}
	if c.dataStale != nil {
		stale, err := c.dataStale(ctx, protocolID, e.result.Metadata.GeneratedAt)
		if err == nil && stale {
			return true
		}
	}
	return false
}

// put stores a result, enforcing per-protocol monotonicity of generatedAt:
// a superseding result never carries an older timestamp than the one it
// replaces.
func (c *Cache) put(protocolID core.ProtocolID, result *analysis.AnalysisResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.entries[protocolID]; ok {
		if result.Metadata.GeneratedAt.Before(prev.result.Metadata.GeneratedAt) {
			return
		}
	}
	c.entries[protocolID] = &entry{result: result, storedAt: c.clock()}
}

func (c *Cache) setInflight(protocolID core.ProtocolID, v bool) {
	c.mu.Lock()
	if v {
		c.inflight[protocolID] = true
	} else {
		delete(c.inflight, protocolID)
	}
	c.mu.Unlock()
}
