package patterns

import (
	"context"
	"fmt"
	"math"

	"github.com/montanaflynn/stats"

	"protosignal/domain/analysis"
	"protosignal/domain/core"
)

// minPairedSamples is the fewest co-observed values a marker pair needs
// before a correlation is attempted.
const minPairedSamples = 5

// CorrelationTemplate detects a linear association between two markers
// co-observed in the same submissions. The strongest pair wins.
type CorrelationTemplate struct{}

// NewCorrelationTemplate creates a new correlation template
func NewCorrelationTemplate() *CorrelationTemplate {
	return &CorrelationTemplate{}
}

// Name returns the template name
func (t *CorrelationTemplate) Name() string { return "correlation" }

// Description returns a human-readable description
func (t *CorrelationTemplate) Description() string {
	return "Detects linear association between two markers measured together"
}

// Detect pairs marker values within each submission and computes Pearson
// correlation for every marker pair, emitting the strongest. The pair scan is
// quadratic in the marker count, so the context is checked per pair.
func (t *CorrelationTemplate) Detect(ctx context.Context, batch []analysis.DataPoint, summary *analysis.StatisticalSummary) (analysis.PatternDetection, bool) {
	markers := sortedMarkers(summary)
	if len(markers) < 2 {
		return analysis.PatternDetection{}, false
	}

	var (
		bestX, bestY core.MarkerKey
		bestR        float64
		bestN        int
		found        bool
	)

	for i := 0; i < len(markers); i++ {
		for j := i + 1; j < len(markers); j++ {
			if ctx.Err() != nil {
				return analysis.PatternDetection{}, false
			}
			xs, ys := pairedValues(batch, markers[i], markers[j])
			if len(xs) < minPairedSamples {
				continue
			}
			r, err := stats.Pearson(xs, ys)
			if err != nil || !finite(r) {
				continue
			}
			if !found || math.Abs(r) > math.Abs(bestR) {
				bestX, bestY = markers[i], markers[j]
				bestR = r
				bestN = len(xs)
				found = true
			}
		}
	}

	if !found || bestR == 0 {
		return analysis.PatternDetection{}, false
	}

	direction := "positive"
	if bestR < 0 {
		direction = "negative"
	}

	return analysis.PatternDetection{
		Pattern:         fmt.Sprintf("correlation:%s~%s", bestX, bestY),
		ConfidenceScore: saturatingConfidence(bestN, bestR),
		Metadata: analysis.PatternMetadata{
			Description: fmt.Sprintf("%s association between %s and %s (r=%.3f, n=%d)",
				direction, bestX, bestY, bestR, bestN),
			SupportingMetrics: []string{bestX.String(), bestY.String()},
			EffectSize:        bestR,
			SampleSize:        bestN,
		},
	}, true
}

// pairedValues collects (x, y) samples from submissions carrying both markers
func pairedValues(batch []analysis.DataPoint, x, y core.MarkerKey) ([]float64, []float64) {
	var xs, ys []float64
	for _, p := range batch {
		vx, okX := p.Payload[x]
		vy, okY := p.Payload[y]
		if okX && okY && finite(vx) && finite(vy) {
			xs = append(xs, vx)
			ys = append(ys, vy)
		}
	}
	return xs, ys
}
