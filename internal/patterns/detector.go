// Package patterns evaluates a fixed library of pattern templates over a
// batch and its statistical summary. Each template emits zero or one
// detection with a confidence score derived from effect size and sample
// size. Everything here is deterministic: no randomness, no wall clock.
package patterns

import (
	"context"
	"math"
	"sort"

	"protosignal/domain/analysis"
	"protosignal/domain/core"
)

// Template is one detectable recurring structure. Detect must observe the
// context inside its scan loops and bail out once the deadline passes; a
// template that ignores cancellation holds the shared computation budget.
type Template interface {
	Name() string
	Description() string
	Detect(ctx context.Context, batch []analysis.DataPoint, summary *analysis.StatisticalSummary) (analysis.PatternDetection, bool)
}

// Detector runs the template library in a fixed order
type Detector struct {
	templates []Template
}

// NewDetector creates a detector with the full template library
func NewDetector() *Detector {
	return &Detector{
		templates: []Template{
			NewTrendTemplate(),
			NewCorrelationTemplate(),
			NewOutlierClusterTemplate(),
			NewAdherenceOutcomeTemplate(),
		},
	}
}

// Detect evaluates every template. All detections are returned, including
// those below the significance threshold - filtering is the caller's choice.
// Cancellation is honored between templates and inside each template's scan
// loops so a runaway computation cannot block the single-flight queue.
func (d *Detector) Detect(ctx context.Context, batch []analysis.DataPoint, summary *analysis.StatisticalSummary) ([]analysis.PatternDetection, error) {
	var out []analysis.PatternDetection
	for _, tmpl := range d.templates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if detection, ok := tmpl.Detect(ctx, batch, summary); ok {
			out = append(out, detection)
		}
	}
	// A template that bailed mid-scan returns no detection; surface the
	// deadline instead of a silently truncated pattern list.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// saturatingConfidence maps effect size and sample size into [0,1] via
// 1 - 1/(1 + n*effect^2). Monotonically non-decreasing in both arguments,
// which keeps the confidence invariant: more evidence never lowers the
// score for a fixed effect.
func saturatingConfidence(n int, effect float64) float64 {
	if n <= 0 {
		return 0
	}
	c := 1 - 1/(1+float64(n)*effect*effect)
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// sortedMarkers returns the summary's markers in deterministic order
func sortedMarkers(summary *analysis.StatisticalSummary) []core.MarkerKey {
	markers := make([]core.MarkerKey, 0, len(summary.BasicStats))
	for m := range summary.BasicStats {
		markers = append(markers, m)
	}
	sort.Slice(markers, func(i, j int) bool { return markers[i] < markers[j] })
	return markers
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
