package patterns

import (
	"context"
	"fmt"
	"math"

	"protosignal/domain/analysis"
)

// TrendTemplate detects a sustained directional drift in one marker's time
// series. The strongest standardized slope across markers wins; the template
// emits at most one detection.
type TrendTemplate struct{}

// NewTrendTemplate creates a new trend template
func NewTrendTemplate() *TrendTemplate {
	return &TrendTemplate{}
}

// Name returns the template name
func (t *TrendTemplate) Name() string { return "trend" }

// Description returns a human-readable description
func (t *TrendTemplate) Description() string {
	return "Detects sustained directional drift in a marker over the protocol timeline"
}

// Detect picks the marker whose per-step slope, standardized by its own
// spread, is largest in magnitude.
func (t *TrendTemplate) Detect(ctx context.Context, batch []analysis.DataPoint, summary *analysis.StatisticalSummary) (analysis.PatternDetection, bool) {
	var (
		best       analysis.TimeSeriesMetric
		bestEffect float64
		found      bool
	)

	for _, m := range summary.TimeSeriesMetrics {
		if ctx.Err() != nil {
			return analysis.PatternDetection{}, false
		}
		stats, ok := summary.BasicStats[m.Metric]
		if !ok || stats.StdDev == 0 || !finite(m.TrendSlope) {
			continue
		}
		effect := math.Abs(m.TrendSlope) / stats.StdDev
		if !found || effect > bestEffect {
			best = m
			bestEffect = effect
			found = true
		}
	}

	if !found || bestEffect == 0 {
		return analysis.PatternDetection{}, false
	}

	direction := "increasing"
	if best.TrendSlope < 0 {
		direction = "decreasing"
	}

	n := best.Observations
	return analysis.PatternDetection{
		Pattern:         fmt.Sprintf("trend:%s:%s", best.Metric, direction),
		ConfidenceScore: saturatingConfidence(n, bestEffect),
		Metadata: analysis.PatternMetadata{
			Description: fmt.Sprintf("%s is %s at %.4g per check-in period (%d observations)",
				best.Metric, direction, best.TrendSlope, n),
			SupportingMetrics: []string{best.Metric.String()},
			EffectSize:        bestEffect,
			SampleSize:        n,
		},
	}, true
}
