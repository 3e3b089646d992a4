package patterns

import (
	"context"
	"fmt"

	"protosignal/domain/analysis"
	"protosignal/domain/core"
)

// Outlier cluster thresholds: at least this many points past the Tukey
// fences, and at least this fraction of the marker's observations.
const (
	minOutlierCount    = 3
	minOutlierFraction = 0.10
)

// OutlierClusterTemplate detects a marker whose observations cluster beyond
// the Tukey fences (1.5 x IQR past the quartiles), suggesting a subgroup
// responding very differently from the cohort.
type OutlierClusterTemplate struct{}

// NewOutlierClusterTemplate creates a new outlier cluster template
func NewOutlierClusterTemplate() *OutlierClusterTemplate {
	return &OutlierClusterTemplate{}
}

// Name returns the template name
func (t *OutlierClusterTemplate) Name() string { return "outlier_cluster" }

// Description returns a human-readable description
func (t *OutlierClusterTemplate) Description() string {
	return "Detects a subgroup of observations far outside the cohort's interquartile range"
}

// Detect counts fence-crossing observations per marker and emits the marker
// with the largest outlier fraction meeting both thresholds.
func (t *OutlierClusterTemplate) Detect(ctx context.Context, batch []analysis.DataPoint, summary *analysis.StatisticalSummary) (analysis.PatternDetection, bool) {
	var (
		bestMarker   core.MarkerKey
		bestFraction float64
		bestCount    int
		bestN        int
		found        bool
	)

	for _, marker := range sortedMarkers(summary) {
		if ctx.Err() != nil {
			return analysis.PatternDetection{}, false
		}
		ms := summary.BasicStats[marker]
		iqr := ms.Q75 - ms.Q25
		if iqr <= 0 {
			continue
		}
		lo := ms.Q25 - 1.5*iqr
		hi := ms.Q75 + 1.5*iqr

		count, n := 0, 0
		for _, p := range batch {
			v, ok := p.Payload[marker]
			if !ok || !finite(v) {
				continue
			}
			n++
			if v < lo || v > hi {
				count++
			}
		}
		if n == 0 || count < minOutlierCount {
			continue
		}
		fraction := float64(count) / float64(n)
		if fraction < minOutlierFraction {
			continue
		}
		if !found || fraction > bestFraction {
			bestMarker = marker
			bestFraction = fraction
			bestCount = count
			bestN = n
			found = true
		}
	}

	if !found {
		return analysis.PatternDetection{}, false
	}

	return analysis.PatternDetection{
		Pattern:         fmt.Sprintf("outlier_cluster:%s", bestMarker),
		ConfidenceScore: saturatingConfidence(bestCount, bestFraction),
		Metadata: analysis.PatternMetadata{
			Description: fmt.Sprintf("%d of %d %s observations fall outside the Tukey fences (%.0f%%)",
				bestCount, bestN, bestMarker, 100*bestFraction),
			SupportingMetrics: []string{bestMarker.String()},
			EffectSize:        bestFraction,
			SampleSize:        bestN,
		},
	}, true
}
