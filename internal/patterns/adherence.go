package patterns

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"

	"protosignal/domain/analysis"
	"protosignal/domain/core"
)

// minAdherenceParticipants is the fewest participants needed before the
// adherence-vs-outcome association is attempted.
const minAdherenceParticipants = 5

// AdherenceOutcomeTemplate tests whether participants who submit more
// consistently see different outcomes. Adherence is a participant's
// submission count; the outcome is their mean value per marker.
type AdherenceOutcomeTemplate struct{}

// NewAdherenceOutcomeTemplate creates a new adherence-outcome template
func NewAdherenceOutcomeTemplate() *AdherenceOutcomeTemplate {
	return &AdherenceOutcomeTemplate{}
}

// Name returns the template name
func (t *AdherenceOutcomeTemplate) Name() string { return "adherence_outcome" }

// Description returns a human-readable description
func (t *AdherenceOutcomeTemplate) Description() string {
	return "Detects association between participant submission consistency and outcomes"
}

// Detect correlates per-participant submission counts against per-participant
// marker means, emitting the marker with the strongest association.
func (t *AdherenceOutcomeTemplate) Detect(ctx context.Context, batch []analysis.DataPoint, summary *analysis.StatisticalSummary) (analysis.PatternDetection, bool) {
	counts := make(map[core.ParticipantID]int)
	sums := make(map[core.ParticipantID]map[core.MarkerKey]float64)
	markerCounts := make(map[core.ParticipantID]map[core.MarkerKey]int)

	for _, p := range batch {
		counts[p.ParticipantID]++
		if sums[p.ParticipantID] == nil {
			sums[p.ParticipantID] = make(map[core.MarkerKey]float64)
			markerCounts[p.ParticipantID] = make(map[core.MarkerKey]int)
		}
		for marker, v := range p.Payload {
			if !finite(v) {
				continue
			}
			sums[p.ParticipantID][marker] += v
			markerCounts[p.ParticipantID][marker]++
		}
	}

	if len(counts) < minAdherenceParticipants {
		return analysis.PatternDetection{}, false
	}

	participants := make([]core.ParticipantID, 0, len(counts))
	for id := range counts {
		participants = append(participants, id)
	}
	sort.Slice(participants, func(i, j int) bool { return participants[i] < participants[j] })

	var (
		bestMarker core.MarkerKey
		bestR      float64
		bestN      int
		found      bool
	)

	for _, marker := range sortedMarkers(summary) {
		if ctx.Err() != nil {
			return analysis.PatternDetection{}, false
		}
		var adherence, outcome []float64
		for _, id := range participants {
			n := markerCounts[id][marker]
			if n == 0 {
				continue
			}
			adherence = append(adherence, float64(counts[id]))
			outcome = append(outcome, sums[id][marker]/float64(n))
		}
		if len(adherence) < minAdherenceParticipants {
			continue
		}
		r, err := stats.Pearson(adherence, outcome)
		if err != nil || !finite(r) {
			continue
		}
		if !found || math.Abs(r) > math.Abs(bestR) {
			bestMarker = marker
			bestR = r
			bestN = len(adherence)
			found = true
		}
	}

	if !found || bestR == 0 {
		return analysis.PatternDetection{}, false
	}

	direction := "higher"
	if bestR < 0 {
		direction = "lower"
	}

	return analysis.PatternDetection{
		Pattern:         fmt.Sprintf("adherence_outcome:%s", bestMarker),
		ConfidenceScore: saturatingConfidence(bestN, bestR),
		Metadata: analysis.PatternMetadata{
			Description: fmt.Sprintf("more consistent participants report %s %s (r=%.3f across %d participants)",
				direction, bestMarker, bestR, bestN),
			SupportingMetrics: []string{bestMarker.String()},
			EffectSize:        bestR,
			SampleSize:        bestN,
		},
	}, true
}
