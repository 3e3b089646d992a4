// Package quality computes the 0-100 composite data quality score for a
// protocol's submission batch: completeness, recency, and schema conformance.
package quality

import (
	"math"

	"protosignal/domain/analysis"
	"protosignal/domain/core"
)

// Component weights. Completeness dominates: a batch that never reports the
// protocol's required markers cannot be rescued by timeliness.
const (
	weightCompleteness = 0.4
	weightRecency      = 0.3
	weightConformance  = 0.3
)

// recencyGraceFactor widens the cadence window so a submission one missed
// check-in behind still counts as recent.
const recencyGraceFactor = 2

// Scorer computes data quality scores. Pure: identical inputs always yield
// the identical score.
type Scorer struct{}

// NewScorer creates a new quality scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score computes the composite 0-100 quality score for a batch. An empty
// batch scores 0 - that is "insufficient data", not a failure, so no error
// is returned. asOf anchors the recency window; using an explicit anchor
// instead of the wall clock keeps the numeric path deterministic.
func (s *Scorer) Score(points []analysis.DataPoint, protocol *analysis.Protocol, asOf core.Timestamp) analysis.QualityReport {
	if len(points) == 0 {
		return analysis.QualityReport{}
	}

	completeness := s.completeness(points, protocol)
	recency := s.recency(points, protocol, asOf)
	conformance := s.conformance(points)

	score := 100 * (weightCompleteness*completeness +
		weightRecency*recency +
		weightConformance*conformance)

	return analysis.QualityReport{
		Score:        clamp(score, 0, 100),
		Completeness: completeness,
		Recency:      recency,
		Conformance:  conformance,
	}
}

// completeness is the mean fraction of required markers present per point.
// Protocols without declared required markers fall back to counting points
// that carry any payload at all.
func (s *Scorer) completeness(points []analysis.DataPoint, protocol *analysis.Protocol) float64 {
	required := protocol.RequiredMarkers
	if len(required) == 0 {
		nonEmpty := 0
		for _, p := range points {
			if len(p.Payload) > 0 {
				nonEmpty++
			}
		}
		return float64(nonEmpty) / float64(len(points))
	}

	total := 0.0
	for _, p := range points {
		present := 0
		for _, marker := range required {
			if _, ok := p.Payload[marker]; ok {
				present++
			}
		}
		total += float64(present) / float64(len(required))
	}
	return total / float64(len(points))
}

// recency is the fraction of submissions recorded within the protocol's
// cadence window (cadence x grace factor) of the anchor time.
func (s *Scorer) recency(points []analysis.DataPoint, protocol *analysis.Protocol, asOf core.Timestamp) float64 {
	window := protocol.CheckInCadence.Duration() * recencyGraceFactor
	if window <= 0 {
		return 1
	}

	recent := 0
	for _, p := range points {
		age := asOf.Sub(p.RecordedAt)
		if age >= 0 && age <= window {
			recent++
		}
	}
	return float64(recent) / float64(len(points))
}

// conformance is the fraction of points passing structural validation and
// carrying finite marker values.
func (s *Scorer) conformance(points []analysis.DataPoint) float64 {
	ok := 0
	for _, p := range points {
		if p.Validate() != nil {
			continue
		}
		if !finitePayload(p.Payload) {
			continue
		}
		ok++
	}
	return float64(ok) / float64(len(points))
}

func finitePayload(payload map[core.MarkerKey]float64) bool {
	for _, v := range payload {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
