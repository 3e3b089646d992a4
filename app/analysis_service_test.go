package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"protosignal/domain/analysis"
	"protosignal/domain/core"
	"protosignal/internal/cache"
)

var testNow = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu       sync.Mutex
	points   map[core.ProtocolID][]analysis.DataPoint
	failures int
	fetches  int
}

func (s *fakeStore) Fetch(ctx context.Context, id core.ProtocolID) ([]analysis.DataPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.failures > 0 {
		s.failures--
		return nil, core.NewStoreError(errors.New("connection reset"))
	}
	return s.points[id], nil
}

func (s *fakeStore) LatestRecordedAt(ctx context.Context, id core.ProtocolID) (core.Timestamp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest core.Timestamp
	for _, p := range s.points[id] {
		if p.RecordedAt.After(latest) {
			latest = p.RecordedAt
		}
	}
	return latest, nil
}

type fakeDirectory struct{}

func (d *fakeDirectory) GetProtocol(ctx context.Context, id core.ProtocolID) (*analysis.Protocol, error) {
	return &analysis.Protocol{
		ID:              id,
		Name:            "test-protocol",
		StartedAt:       core.NewTimestamp(testNow.Add(-30 * 24 * time.Hour)),
		CheckInCadence:  core.NewCadence(24 * time.Hour),
		RequiredMarkers: []core.MarkerKey{"ldl", "hdl"},
	}, nil
}

type fakeRepo struct {
	mu      sync.Mutex
	rows    map[core.ProtocolID]*analysis.AnalysisResult
	saves   int
	saveErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: make(map[core.ProtocolID]*analysis.AnalysisResult)}
}

func (r *fakeRepo) Save(ctx context.Context, result *analysis.AnalysisResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	if r.saveErr != nil {
		return r.saveErr
	}
	r.rows[result.ProtocolID] = result
	return nil
}

func (r *fakeRepo) Load(ctx context.Context, id core.ProtocolID) (*analysis.AnalysisResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res, ok := r.rows[id]; ok {
		return res, nil
	}
	return nil, core.ErrResultNotFound
}

func (r *fakeRepo) Delete(ctx context.Context, id core.ProtocolID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

func cohortBatch(participants int) []analysis.DataPoint {
	var batch []analysis.DataPoint
	for i := 0; i < participants; i++ {
		batch = append(batch, analysis.DataPoint{
			ID:            core.DataPointID(fmt.Sprintf("dp-%d", i)),
			ProtocolID:    "proto-1",
			ParticipantID: core.ParticipantID(fmt.Sprintf("part-%02d", i)),
			Type:          analysis.TypeBloodWork,
			Payload: map[core.MarkerKey]float64{
				"ldl": 100 + float64(i%7),
				"hdl": 50 + float64(i%4),
			},
			RecordedAt: core.NewTimestamp(testNow.Add(-time.Duration(i%3) * time.Hour)),
		})
	}
	return batch
}

func fastPolicy() cache.Policy {
	p := cache.DefaultPolicy()
	p.Retry.BaseDelay = time.Millisecond
	p.Retry.MaxDelay = 5 * time.Millisecond
	return p
}

func newService(store *fakeStore, opts ...Option) *AnalysisService {
	opts = append(opts, WithClock(func() time.Time { return testNow }))
	return NewAnalysisService(store, &fakeDirectory{}, fastPolicy(), opts...)
}

// TestGetAnalysis_EmergingCohort exercises the full pipeline on a complete,
// fresh 30-participant cohort
func TestGetAnalysis_EmergingCohort(t *testing.T) {
	store := &fakeStore{points: map[core.ProtocolID][]analysis.DataPoint{"proto-1": cohortBatch(30)}}
	svc := newService(store)

	result, err := svc.GetAnalysis(context.Background(), "proto-1", false)
	require.NoError(t, err)

	assert.Equal(t, 30, result.Metadata.ParticipantCount)
	assert.InDelta(t, 100, result.Metadata.DataQualityScore, 1e-9)
	assert.Equal(t, analysis.TierEmerging, result.Metadata.SignalTier)
	assert.Equal(t, 0, result.Metadata.SkippedCount)
	assert.Contains(t, result.Summary.BasicStats, core.MarkerKey("ldl"))
	assert.NoError(t, result.Validate())
	assert.Equal(t, cache.StateReady, svc.CacheState(context.Background(), "proto-1"))
}

// TestGetAnalysis_SmallCohortInsufficient covers Scenario A: fewer than 10
// participants is INSUFFICIENT no matter how clean the data is
func TestGetAnalysis_SmallCohortInsufficient(t *testing.T) {
	store := &fakeStore{points: map[core.ProtocolID][]analysis.DataPoint{"proto-1": cohortBatch(8)}}
	svc := newService(store)

	result, err := svc.GetAnalysis(context.Background(), "proto-1", false)
	require.NoError(t, err)
	assert.Equal(t, analysis.TierInsufficient, result.Metadata.SignalTier)
}

// TestGetAnalysis_EmptyBatch covers Scenario D: zero score, zero count,
// INSUFFICIENT tier, no error
func TestGetAnalysis_EmptyBatch(t *testing.T) {
	store := &fakeStore{points: map[core.ProtocolID][]analysis.DataPoint{}}
	svc := newService(store)

	result, err := svc.GetAnalysis(context.Background(), "proto-1", false)
	require.NoError(t, err, "an empty batch is a result, not a failure")

	assert.Equal(t, float64(0), result.Metadata.DataQualityScore)
	assert.Equal(t, 0, result.Metadata.ParticipantCount)
	assert.Equal(t, analysis.TierInsufficient, result.Metadata.SignalTier)
	assert.Empty(t, result.Patterns)
}

func TestGetAnalysis_MalformedPointsSkipped(t *testing.T) {
	batch := cohortBatch(12)
	batch = append(batch,
		analysis.DataPoint{ID: "bad-1", ProtocolID: "proto-1", ParticipantID: "part-bad", Type: "GENOMIC", RecordedAt: core.NewTimestamp(testNow)},
		analysis.DataPoint{ID: "bad-2", ProtocolID: "proto-1", ParticipantID: "part-bad", Type: analysis.TypeCheckIn},
	)
	store := &fakeStore{points: map[core.ProtocolID][]analysis.DataPoint{"proto-1": batch}}
	svc := newService(store)

	result, err := svc.GetAnalysis(context.Background(), "proto-1", false)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Metadata.SkippedCount)
	assert.Equal(t, 12, result.Metadata.ParticipantCount, "skipped points must not count participants")
}

func TestGetAnalysis_RetriesStoreFailures(t *testing.T) {
	store := &fakeStore{
		points:   map[core.ProtocolID][]analysis.DataPoint{"proto-1": cohortBatch(15)},
		failures: 2,
	}
	svc := newService(store)

	result, err := svc.GetAnalysis(context.Background(), "proto-1", false)
	require.NoError(t, err, "two transient failures are within the retry budget")
	assert.Equal(t, analysis.TierPreliminary, result.Metadata.SignalTier)
	assert.Equal(t, 3, store.fetches)
}

// wideBatch builds a batch whose marker count makes the pairwise correlation
// scan expensive, so an ignored deadline would show up as wall-clock time
func wideBatch(pointsN, markersN int) []analysis.DataPoint {
	var batch []analysis.DataPoint
	for i := 0; i < pointsN; i++ {
		payload := make(map[core.MarkerKey]float64, markersN)
		for m := 0; m < markersN; m++ {
			payload[core.MarkerKey(fmt.Sprintf("marker-%03d", m))] = float64(i + m%13)
		}
		batch = append(batch, analysis.DataPoint{
			ID:            core.DataPointID(fmt.Sprintf("dp-%d", i)),
			ProtocolID:    "proto-1",
			ParticipantID: core.ParticipantID(fmt.Sprintf("part-%03d", i)),
			Type:          analysis.TypeBloodWork,
			Payload:       payload,
			RecordedAt:    core.NewTimestamp(testNow.Add(-time.Duration(i) * time.Hour)),
		})
	}
	return batch
}

// TestGetAnalysis_TimeoutAbandonsPipeline verifies an expired compute budget
// abandons the statistical pipeline mid-run instead of letting it finish and
// only then reporting the timeout
func TestGetAnalysis_TimeoutAbandonsPipeline(t *testing.T) {
	store := &fakeStore{points: map[core.ProtocolID][]analysis.DataPoint{"proto-1": wideBatch(400, 400)}}
	policy := fastPolicy()
	policy.ComputeTimeout = time.Nanosecond

	svc := NewAnalysisService(store, &fakeDirectory{}, policy,
		WithClock(func() time.Time { return testNow }))

	started := time.Now()
	result, err := svc.GetAnalysis(context.Background(), "proto-1", false)
	elapsed := time.Since(started)

	assert.Nil(t, result, "no prior result exists to fall back to")
	require.Error(t, err)
	assert.True(t, core.IsTimeoutError(err), "expected a timeout, got %v", err)
	assert.Less(t, elapsed, time.Second, "the pipeline must be abandoned, not run to completion")
	assert.Equal(t, cache.StateAbsent, svc.CacheState(context.Background(), "proto-1"))
}

func TestExportAnalysis_NotReady(t *testing.T) {
	store := &fakeStore{points: map[core.ProtocolID][]analysis.DataPoint{"proto-1": cohortBatch(10)}}
	svc := newService(store)

	_, err := svc.ExportAnalysis(context.Background(), "proto-1", "json")
	assert.ErrorIs(t, err, core.ErrExportNotReady, "export must never trigger a computation")

	_, err = svc.ExportAnalysis(context.Background(), "proto-1", "dot")
	assert.ErrorIs(t, err, core.ErrUnsupportedFormat)
}

func TestExportAnalysis_RoundTrip(t *testing.T) {
	store := &fakeStore{points: map[core.ProtocolID][]analysis.DataPoint{"proto-1": cohortBatch(30)}}
	svc := newService(store)

	cached, err := svc.GetAnalysis(context.Background(), "proto-1", false)
	require.NoError(t, err)

	data, err := svc.ExportAnalysis(context.Background(), "proto-1", "json")
	require.NoError(t, err)

	var parsed analysis.AnalysisResult
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, cached.Metadata.SignalTier, parsed.Metadata.SignalTier)
	assert.Equal(t, cached.Summary.BasicStats["ldl"].Mean, parsed.Summary.BasicStats["ldl"].Mean)
}

// TestExportAnalysis_FromPersistedResult verifies export serves a persisted
// result after a restart without recomputing
func TestExportAnalysis_FromPersistedResult(t *testing.T) {
	store := &fakeStore{points: map[core.ProtocolID][]analysis.DataPoint{"proto-1": cohortBatch(30)}}
	repo := newFakeRepo()

	first := newService(store, WithResultRepository(repo))
	_, err := first.GetAnalysis(context.Background(), "proto-1", false)
	require.NoError(t, err)
	require.Equal(t, 1, repo.saves)

	fetchesBefore := store.fetches
	restarted := newService(store, WithResultRepository(repo))
	data, err := restarted.ExportAnalysis(context.Background(), "proto-1", "csv")
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.Equal(t, fetchesBefore, store.fetches, "export must not recompute")
}

func TestInvalidate_ForcesRecompute(t *testing.T) {
	store := &fakeStore{points: map[core.ProtocolID][]analysis.DataPoint{"proto-1": cohortBatch(30)}}
	svc := newService(store)

	_, err := svc.GetAnalysis(context.Background(), "proto-1", false)
	require.NoError(t, err)
	fetches := store.fetches

	svc.Invalidate("proto-1")
	_, err = svc.GetAnalysis(context.Background(), "proto-1", false)
	require.NoError(t, err)
	assert.Greater(t, store.fetches, fetches)
}

func TestWarmUp(t *testing.T) {
	store := &fakeStore{points: map[core.ProtocolID][]analysis.DataPoint{
		"proto-a": cohortBatch(10),
		"proto-b": nil,
	}}
	svc := newService(store)

	err := svc.WarmUp(context.Background(), []core.ProtocolID{"proto-a", "proto-b"})
	require.NoError(t, err)
	assert.Equal(t, cache.StateReady, svc.CacheState(context.Background(), "proto-a"))
	assert.Equal(t, cache.StateReady, svc.CacheState(context.Background(), "proto-b"))
}
