// Package app wires the engine components behind the caller-facing
// operations: get analysis, export, invalidate.
package app

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"protosignal/domain/analysis"
	"protosignal/domain/core"
	"protosignal/internal/cache"
	"protosignal/internal/export"
	"protosignal/internal/patterns"
	"protosignal/internal/quality"
	"protosignal/internal/summary"
	"protosignal/ports"
)

// AnalysisService runs the full pipeline: store fetch -> quality scoring ->
// statistical summary -> pattern detection -> signal classification, fronted
// by the staleness-aware cache.
type AnalysisService struct {
	store     ports.DataPointStorePort
	directory ports.ProtocolDirectoryPort
	results   ports.ResultRepositoryPort

	scorer    *quality.Scorer
	computer  *summary.Computer
	detector  *patterns.Detector
	formatter *export.Formatter

	cache  *cache.Cache
	policy cache.Policy
	clock  func() time.Time
}

// Option configures an AnalysisService
type Option func(*AnalysisService)

// WithResultRepository enables persistence of computed results
func WithResultRepository(repo ports.ResultRepositoryPort) Option {
	return func(s *AnalysisService) { s.results = repo }
}

// WithClock overrides the wall clock, for tests
func WithClock(clock func() time.Time) Option {
	return func(s *AnalysisService) { s.clock = clock }
}

// NewAnalysisService creates the engine facade
func NewAnalysisService(store ports.DataPointStorePort, directory ports.ProtocolDirectoryPort, policy cache.Policy, opts ...Option) *AnalysisService {
	s := &AnalysisService{
		store:     store,
		directory: directory,
		scorer:    quality.NewScorer(),
		computer:  summary.NewComputer(),
		detector:  patterns.NewDetector(),
		formatter: export.NewFormatter(),
		policy:    policy,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.cache = cache.New(policy, s.computeAnalysis,
		cache.WithStalenessFunc(s.hasNewerData),
		cache.WithClock(s.clock),
	)
	return s
}

// GetAnalysis returns the cached result or triggers a single-flight
// recomputation.
func (s *AnalysisService) GetAnalysis(ctx context.Context, protocolID core.ProtocolID, forceRefresh bool) (*analysis.AnalysisResult, error) {
	return s.cache.Get(ctx, protocolID, forceRefresh)
}

// ExportAnalysis serializes the cached result. Export never triggers a
// computation: with nothing cached (in memory or persisted) it fails with
// ErrExportNotReady.
func (s *AnalysisService) ExportAnalysis(ctx context.Context, protocolID core.ProtocolID, format string) ([]byte, error) {
	f, err := export.ParseFormat(format)
	if err != nil {
		return nil, err
	}

	result := s.cache.Peek(protocolID)
	if result == nil && s.results != nil {
		stored, err := s.results.Load(ctx, protocolID)
		if err == nil {
			result = stored
			s.cache.Seed(stored)
		} else if !core.IsNotFoundError(err) {
			return nil, err
		}
	}
	if result == nil {
		return nil, core.ErrExportNotReady
	}
	return s.formatter.Export(result, f)
}

// Invalidate evicts the protocol's cache entry. Collaborators call this when
// they know new data arrived.
func (s *AnalysisService) Invalidate(protocolID core.ProtocolID) {
	s.cache.Invalidate(protocolID)
}

// CacheState reports the protocol's cache lifecycle state
func (s *AnalysisService) CacheState(ctx context.Context, protocolID core.ProtocolID) cache.State {
	return s.cache.State(ctx, protocolID)
}

// WarmUp prefetches analyses for the given protocols. Computations for
// different protocols are independent and run in parallel.
func (s *AnalysisService) WarmUp(ctx context.Context, protocolIDs []core.ProtocolID) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range protocolIDs {
		id := id
		g.Go(func() error {
			_, err := s.GetAnalysis(gctx, id, false)
			return err
		})
	}
	return g.Wait()
}

// computeAnalysis is the cache's compute function: one full pipeline run.
func (s *AnalysisService) computeAnalysis(ctx context.Context, protocolID core.ProtocolID) (*analysis.AnalysisResult, error) {
	protocol, err := s.directory.GetProtocol(ctx, protocolID)
	if err != nil {
		return nil, err
	}

	var batch []analysis.DataPoint
	err = s.policy.Retry.Do(ctx, func(ctx context.Context) error {
		var fetchErr error
		batch, fetchErr = s.store.Fetch(ctx, protocolID)
		return fetchErr
	})
	if err != nil {
		return nil, err
	}

	now := core.NewTimestamp(s.clock())
	report := s.scorer.Score(batch, protocol, now)

	// Malformed points are excluded and counted, never fatal.
	valid := make([]analysis.DataPoint, 0, len(batch))
	for _, p := range batch {
		if p.Validate() == nil {
			valid = append(valid, p)
		}
	}
	skipped := len(batch) - len(valid)

	participants := make(map[core.ParticipantID]struct{})
	pointIDs := make([]string, 0, len(valid))
	for _, p := range valid {
		participants[p.ParticipantID] = struct{}{}
		pointIDs = append(pointIDs, p.ID.String())
	}

	result := &analysis.AnalysisResult{
		ProtocolID: protocolID,
		Summary:    analysis.StatisticalSummary{BasicStats: map[core.MarkerKey]analysis.MarkerStats{}},
		Metadata: analysis.ResultMetadata{
			DataQualityScore: report.Score,
			ParticipantCount: len(participants),
			SkippedCount:     skipped,
			GeneratedAt:      now,
			SignalTier:       analysis.ClassifySignal(len(participants), report.Score),
			Fingerprint:      core.ComputeBatchFingerprint(pointIDs),
			Quality:          &report,
		},
	}

	// An empty batch is a valid INSUFFICIENT result, not a failure.
	if len(valid) > 0 {
		sum, err := s.computer.Compute(ctx, valid, protocol)
		if err != nil {
			return nil, err
		}
		result.Summary = *sum

		detections, err := s.detector.Detect(ctx, valid, sum)
		if err != nil {
			return nil, err
		}
		result.Patterns = detections
	}

	if s.results != nil {
		// Persistence is best effort; the in-memory entry is authoritative.
		if err := s.results.Save(ctx, result); err != nil {
			log.Printf("persist analysis for %s: %v", protocolID, err)
		}
	}

	return result, nil
}

// hasNewerData reports whether a data point newer than the cached result has
// been recorded.
func (s *AnalysisService) hasNewerData(ctx context.Context, protocolID core.ProtocolID, generatedAt core.Timestamp) (bool, error) {
	latest, err := s.store.LatestRecordedAt(ctx, protocolID)
	if err != nil {
		return false, err
	}
	return latest.After(generatedAt), nil
}
