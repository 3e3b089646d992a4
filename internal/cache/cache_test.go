package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"protosignal/domain/analysis"
	"protosignal/domain/core"
)

func resultFor(id core.ProtocolID, generatedAt time.Time) *analysis.AnalysisResult {
	return &analysis.AnalysisResult{
		ProtocolID: id,
		Metadata: analysis.ResultMetadata{
			DataQualityScore: 80,
			ParticipantCount: 12,
			GeneratedAt:      core.NewTimestamp(generatedAt),
			SignalTier:       analysis.TierPreliminary,
		},
	}
}

// TestGet_SingleFlight verifies N concurrent calls for an uncached protocol
// run exactly one computation
func TestGet_SingleFlight(t *testing.T) {
	var computations int32
	compute := func(ctx context.Context, id core.ProtocolID) (*analysis.AnalysisResult, error) {
		atomic.AddInt32(&computations, 1)
		time.Sleep(50 * time.Millisecond) // hold the flight open
		return resultFor(id, time.Now()), nil
	}

	c := New(DefaultPolicy(), compute)

	const callers = 16
	var wg sync.WaitGroup
	results := make([]*analysis.AnalysisResult, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Get(context.Background(), "proto-1", false)
		}(i)
	}
	wg.Wait()

	if n := atomic.LoadInt32(&computations); n != 1 {
		t.Errorf("expected exactly 1 computation, got %d", n)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Error("concurrent callers must share the in-flight computation's result")
		}
	}
}

func TestGet_ServesCachedWithinTTL(t *testing.T) {
	var computations int32
	compute := func(ctx context.Context, id core.ProtocolID) (*analysis.AnalysisResult, error) {
		atomic.AddInt32(&computations, 1)
		return resultFor(id, time.Now()), nil
	}

	c := New(DefaultPolicy(), compute)
	for i := 0; i < 5; i++ {
		if _, err := c.Get(context.Background(), "proto-1", false); err != nil {
			t.Fatalf("Get failed: %v", err)
		}
	}
	if n := atomic.LoadInt32(&computations); n != 1 {
		t.Errorf("repeated reads within TTL should compute once, got %d", n)
	}
}

func TestGet_TTLExpiryRecomputes(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	var computations int32
	compute := func(ctx context.Context, id core.ProtocolID) (*analysis.AnalysisResult, error) {
		atomic.AddInt32(&computations, 1)
		return resultFor(id, clock()), nil
	}

	c := New(DefaultPolicy(), compute, WithClock(clock))

	if _, err := c.Get(context.Background(), "proto-1", false); err != nil {
		t.Fatal(err)
	}
	if state := c.State(context.Background(), "proto-1"); state != StateReady {
		t.Errorf("state = %s, want READY", state)
	}

	advance(6 * time.Minute)
	if state := c.State(context.Background(), "proto-1"); state != StateStale {
		t.Errorf("state after TTL = %s, want STALE", state)
	}

	if _, err := c.Get(context.Background(), "proto-1", false); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(&computations); n != 2 {
		t.Errorf("stale entry should recompute, got %d computations", n)
	}
}

func TestGet_NewDataTriggersRecompute(t *testing.T) {
	var computations int32
	compute := func(ctx context.Context, id core.ProtocolID) (*analysis.AnalysisResult, error) {
		atomic.AddInt32(&computations, 1)
		return resultFor(id, time.Now()), nil
	}

	stale := false
	c := New(DefaultPolicy(), compute, WithStalenessFunc(
		func(ctx context.Context, id core.ProtocolID, generatedAt core.Timestamp) (bool, error) {
			return stale, nil
		}))

	c.Get(context.Background(), "proto-1", false)
	c.Get(context.Background(), "proto-1", false)
	if n := atomic.LoadInt32(&computations); n != 1 {
		t.Fatalf("expected 1 computation before new data, got %d", n)
	}

	stale = true
	c.Get(context.Background(), "proto-1", false)
	if n := atomic.LoadInt32(&computations); n != 2 {
		t.Errorf("new data should force recomputation, got %d", n)
	}
}

// TestGet_FailureServesLastGoodResult verifies the cache reverts to its
// previous READY state on computation failure
func TestGet_FailureServesLastGoodResult(t *testing.T) {
	calls := 0
	compute := func(ctx context.Context, id core.ProtocolID) (*analysis.AnalysisResult, error) {
		calls++
		if calls == 1 {
			return resultFor(id, time.Now()), nil
		}
		return nil, core.NewStoreError(errors.New("connection refused"))
	}

	c := New(DefaultPolicy(), compute)

	first, err := c.Get(context.Background(), "proto-1", false)
	if err != nil {
		t.Fatal(err)
	}

	// Force a refresh that will fail
	got, err := c.Get(context.Background(), "proto-1", true)
	if err != nil {
		t.Fatalf("failed recompute with a prior result should not surface: %v", err)
	}
	if got != first {
		t.Error("expected the last good result to be served")
	}
}

func TestGet_FailureWithoutPriorSurfaces(t *testing.T) {
	storeErr := core.NewStoreError(errors.New("connection refused"))
	compute := func(ctx context.Context, id core.ProtocolID) (*analysis.AnalysisResult, error) {
		return nil, storeErr
	}

	c := New(DefaultPolicy(), compute)
	_, err := c.Get(context.Background(), "proto-1", false)
	if !errors.Is(err, core.ErrStoreUnavailable) {
		t.Fatalf("expected store error to surface, got %v", err)
	}
	if state := c.State(context.Background(), "proto-1"); state != StateAbsent {
		t.Errorf("state = %s, want ABSENT", state)
	}
}

// TestGet_TimeoutAbandonsAndReports verifies a runaway computation is
// abandoned, the prior result keeps being served, and the timeout reaches
// the caller
func TestGet_TimeoutAbandonsAndReports(t *testing.T) {
	policy := DefaultPolicy()
	policy.ComputeTimeout = 20 * time.Millisecond

	calls := 0
	compute := func(ctx context.Context, id core.ProtocolID) (*analysis.AnalysisResult, error) {
		calls++
		if calls == 1 {
			return resultFor(id, time.Now()), nil
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}

	c := New(policy, compute)

	first, err := c.Get(context.Background(), "proto-1", false)
	if err != nil {
		t.Fatal(err)
	}

	got, err := c.Get(context.Background(), "proto-1", true)
	if !core.IsTimeoutError(err) {
		t.Fatalf("expected timeout to be reported, got %v", err)
	}
	if got != first {
		t.Error("cache should stay on the previous READY result after a timeout")
	}
	if state := c.State(context.Background(), "proto-1"); state == StateAbsent {
		t.Error("timeout must not evict the entry")
	}
}

// TestGet_TimeoutWithPollingCompute covers a compute path that, like the
// statistical pipeline, only polls ctx.Err() between loop iterations rather
// than selecting on ctx.Done(). The deadline must still abandon it promptly.
func TestGet_TimeoutWithPollingCompute(t *testing.T) {
	policy := DefaultPolicy()
	policy.ComputeTimeout = 20 * time.Millisecond

	compute := func(ctx context.Context, id core.ProtocolID) (*analysis.AnalysisResult, error) {
		for i := 0; i < 1_000_000; i++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			time.Sleep(time.Millisecond)
		}
		return resultFor(id, time.Now()), nil
	}

	c := New(policy, compute)

	started := time.Now()
	got, err := c.Get(context.Background(), "proto-1", false)
	elapsed := time.Since(started)

	if got != nil {
		t.Error("an abandoned first computation has no result to serve")
	}
	if !core.IsTimeoutError(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if elapsed > time.Second {
		t.Errorf("computation ran %v past a 20ms budget; the deadline was ignored", elapsed)
	}
}

func TestInvalidate(t *testing.T) {
	var computations int32
	compute := func(ctx context.Context, id core.ProtocolID) (*analysis.AnalysisResult, error) {
		atomic.AddInt32(&computations, 1)
		return resultFor(id, time.Now()), nil
	}

	c := New(DefaultPolicy(), compute)
	c.Get(context.Background(), "proto-1", false)

	c.Invalidate("proto-1")
	if state := c.State(context.Background(), "proto-1"); state != StateAbsent {
		t.Errorf("state after invalidate = %s, want ABSENT", state)
	}
	if c.Peek("proto-1") != nil {
		t.Error("Peek after invalidate should return nil")
	}

	c.Get(context.Background(), "proto-1", false)
	if n := atomic.LoadInt32(&computations); n != 2 {
		t.Errorf("invalidated entry should recompute, got %d", n)
	}
}

func TestGet_IndependentProtocolsComputeInParallel(t *testing.T) {
	release := make(chan struct{})
	started := make(chan core.ProtocolID, 2)
	compute := func(ctx context.Context, id core.ProtocolID) (*analysis.AnalysisResult, error) {
		started <- id
		<-release
		return resultFor(id, time.Now()), nil
	}

	c := New(DefaultPolicy(), compute)

	var wg sync.WaitGroup
	for _, id := range []core.ProtocolID{"proto-a", "proto-b"} {
		wg.Add(1)
		go func(id core.ProtocolID) {
			defer wg.Done()
			c.Get(context.Background(), id, false)
		}(id)
	}

	// Both computations must start without waiting on each other
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("cross-protocol computation was blocked")
		}
	}
	close(release)
	wg.Wait()
}

func TestRetryPolicy(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}

	if d := p.Backoff(0); d != time.Millisecond {
		t.Errorf("backoff(0) = %v", d)
	}
	if d := p.Backoff(1); d != 2*time.Millisecond {
		t.Errorf("backoff(1) = %v", d)
	}
	if d := p.Backoff(10); d != 4*time.Millisecond {
		t.Errorf("backoff(10) = %v, want cap", d)
	}

	attempts := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return core.NewStoreError(errors.New("down"))
	})
	if !errors.Is(err, core.ErrStoreUnavailable) {
		t.Fatalf("expected store error after exhaustion, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}

	attempts = 0
	permanent := fmt.Errorf("bad request")
	err = p.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("non-retryable error should not retry, got %d attempts", attempts)
	}
}
