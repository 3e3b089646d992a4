package analysis

import (
	"fmt"

	"protosignal/domain/core"
)

// ============================================================================
// STABLE PRIMITIVES (Canonical, never change)
// ============================================================================

// DataPointType identifies the shape of a submission payload
type DataPointType string

const (
	TypeBloodWork DataPointType = "BLOOD_WORK"
	TypeCheckIn   DataPointType = "CHECK_IN"
	TypeBiometric DataPointType = "BIOMETRIC"
)

// IsValid reports whether the type is one of the closed set
func (t DataPointType) IsValid() bool {
	switch t {
	case TypeBloodWork, TypeCheckIn, TypeBiometric:
		return true
	}
	return false
}

// DataPoint is one validated, decrypted participant submission.
// Immutable once created; the engine consumes these read-only.
type DataPoint struct {
	ID            core.DataPointID           `json:"id"`
	ProtocolID    core.ProtocolID            `json:"protocol_id"`
	ParticipantID core.ParticipantID         `json:"participant_id"`
	Type          DataPointType              `json:"type"`
	Payload       map[core.MarkerKey]float64 `json:"payload"`
	RecordedAt    core.Timestamp             `json:"recorded_at"`
	QualityFlags  []string                   `json:"quality_flags,omitempty"`
}

// Validate checks the structural invariants a point must satisfy before it
// may enter the numeric path. Points failing this are skipped and counted,
// never aborted on.
func (p DataPoint) Validate() error {
	if core.ID(p.ID).IsEmpty() {
		return core.NewValidationError("id", "empty")
	}
	if core.ID(p.ProtocolID).IsEmpty() {
		return core.NewValidationError("protocol_id", "empty")
	}
	if core.ID(p.ParticipantID).IsEmpty() {
		return core.NewValidationError("participant_id", "empty")
	}
	if !p.Type.IsValid() {
		return core.NewValidationError("type", fmt.Sprintf("unknown type %q", p.Type))
	}
	if p.RecordedAt.IsZero() {
		return core.NewValidationError("recorded_at", "zero timestamp")
	}
	if p.Type == TypeCheckIn {
		for marker, v := range p.Payload {
			if v < 1 || v > 5 {
				return core.NewValidationError(marker.String(),
					fmt.Sprintf("check-in scale value %g outside [1,5]", v))
			}
		}
	}
	return nil
}

// Protocol carries the study metadata the engine needs from the
// protocol-management collaborator: start date and expected cadence.
type Protocol struct {
	ID              core.ProtocolID  `json:"id"`
	Name            string           `json:"name"`
	StartedAt       core.Timestamp   `json:"started_at"`
	CheckInCadence  core.Cadence     `json:"check_in_cadence"`
	RequiredMarkers []core.MarkerKey `json:"required_markers,omitempty"`
}

// ============================================================================
// DERIVED STATISTICS (Recomputed each analysis run)
// ============================================================================

// MarkerStats contains per-marker descriptive statistics.
// INVARIANTS:
// - N always > 0 (markers with no observations are omitted entirely)
// - Min <= Median <= Max
type MarkerStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	N      int     `json:"n"`
	Median float64 `json:"median"`
	Q25    float64 `json:"q25"`
	Q75    float64 `json:"q75"`
}

// Forecast is a short-horizon extrapolation of a temporally ordered metric.
// Horizon is bounded to min(one cadence period, 8 steps); Method is either
// "linear_trend" or "seasonal_naive".
type Forecast struct {
	Method     string           `json:"method"`
	Timestamps []core.Timestamp `json:"timestamps"`
	Values     []float64        `json:"values"`
}

// TimeSeriesMetric captures the temporal behavior of one marker.
type TimeSeriesMetric struct {
	Metric            core.MarkerKey `json:"metric"`
	Observations      int            `json:"observations"`
	Seasonal          bool           `json:"seasonal"`
	AutocorrAtCadence float64        `json:"autocorr_at_cadence"`
	TrendSlope        float64        `json:"trend_slope"`
	Forecast          *Forecast      `json:"forecast,omitempty"`
}

// StatisticalSummary is the full descriptive reduction of one batch.
// Owned exclusively by the engine for the duration of one computation.
type StatisticalSummary struct {
	BasicStats        map[core.MarkerKey]MarkerStats `json:"basic_stats"`
	TimeSeriesMetrics []TimeSeriesMetric             `json:"time_series_metrics,omitempty"`
}

// ============================================================================
// PATTERNS
// ============================================================================

// SignificanceThreshold is the confidence cut below which a detected pattern
// is retained for export/debugging but not surfaced as significant.
const SignificanceThreshold = 0.95

// PatternMetadata describes the evidence behind one detection.
type PatternMetadata struct {
	Description       string   `json:"description"`
	SupportingMetrics []string `json:"supporting_metrics,omitempty"`
	EffectSize        float64  `json:"effect_size"`
	SampleSize        int      `json:"sample_size"`
}

// PatternDetection is one detected recurring structure.
// INVARIANT: ConfidenceScore in [0,1] and monotonically non-decreasing with
// sample size for a fixed effect size.
type PatternDetection struct {
	Pattern         string          `json:"pattern"`
	ConfidenceScore float64         `json:"confidence_score"`
	Metadata        PatternMetadata `json:"metadata"`
}

// Significant reports whether the detection clears the surface threshold.
func (p PatternDetection) Significant() bool {
	return p.ConfidenceScore >= SignificanceThreshold
}

// ============================================================================
// RESULT
// ============================================================================

// QualityReport carries the composite quality score plus its sub-scores,
// each in [0,1] except Score which is 0-100.
type QualityReport struct {
	Score        float64 `json:"score"`
	Completeness float64 `json:"completeness"`
	Recency      float64 `json:"recency"`
	Conformance  float64 `json:"conformance"`
}

// ResultMetadata is the audit block attached to every AnalysisResult.
type ResultMetadata struct {
	DataQualityScore float64               `json:"data_quality_score"`
	ParticipantCount int                   `json:"participant_count"`
	SkippedCount     int                   `json:"skipped_count"`
	GeneratedAt      core.Timestamp        `json:"generated_at"`
	SignalTier       SignalTier            `json:"signal_tier"`
	Fingerprint      core.BatchFingerprint `json:"fingerprint,omitempty"`
	Quality          *QualityReport        `json:"quality,omitempty"`
}

// AnalysisResult is the complete output of one analysis run. Created on each
// recomputation and superseded, never mutated, by the next.
type AnalysisResult struct {
	ProtocolID core.ProtocolID    `json:"protocol_id"`
	Summary    StatisticalSummary `json:"statistical_summary"`
	Patterns   []PatternDetection `json:"patterns,omitempty"`
	Metadata   ResultMetadata     `json:"metadata"`
}

// Validate enforces the result invariants: quality score in [0,100], every
// confidence score in [0,1]. Results failing this are rejected, not surfaced.
func (r *AnalysisResult) Validate() error {
	if core.ID(r.ProtocolID).IsEmpty() {
		return fmt.Errorf("%w: missing protocol id", core.ErrInvalidResult)
	}
	if r.Metadata.DataQualityScore < 0 || r.Metadata.DataQualityScore > 100 {
		return fmt.Errorf("%w: data quality score %g outside [0,100]",
			core.ErrInvalidResult, r.Metadata.DataQualityScore)
	}
	if r.Metadata.ParticipantCount < 0 {
		return fmt.Errorf("%w: negative participant count", core.ErrInvalidResult)
	}
	for _, p := range r.Patterns {
		if p.ConfidenceScore < 0 || p.ConfidenceScore > 1 {
			return fmt.Errorf("%w: pattern %q confidence %g outside [0,1]",
				core.ErrInvalidResult, p.Pattern, p.ConfidenceScore)
		}
	}
	return nil
}

// SignificantPatterns returns the UI-facing subset clearing the 0.95 cut.
// The full list stays on the result for export and debugging.
func (r *AnalysisResult) SignificantPatterns() []PatternDetection {
	var out []PatternDetection
	for _, p := range r.Patterns {
		if p.Significant() {
			out = append(out, p)
		}
	}
	return out
}
