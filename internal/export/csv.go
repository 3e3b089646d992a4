package export

import (
	"bytes"
	"encoding/csv"
	"sort"
	"strconv"

	"protosignal/domain/analysis"
	"protosignal/domain/core"
)

// exportCSV writes three record groups - metadata, per-marker statistics,
// patterns - into one flat file, each row tagged by its section.
func (f *Formatter) exportCSV(result *analysis.AnalysisResult) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	records := [][]string{
		{"section", "key", "values"},
		{"metadata", "protocol_id", result.ProtocolID.String()},
		{"metadata", "generated_at", result.Metadata.GeneratedAt.String()},
		{"metadata", "signal_tier", string(result.Metadata.SignalTier)},
		{"metadata", "data_quality_score", formatFloat(result.Metadata.DataQualityScore)},
		{"metadata", "participant_count", strconv.Itoa(result.Metadata.ParticipantCount)},
		{"metadata", "skipped_count", strconv.Itoa(result.Metadata.SkippedCount)},
	}
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}

	if err := w.Write([]string{"marker", "name", "mean", "std_dev", "min", "max", "n", "median", "q25", "q75"}); err != nil {
		return nil, err
	}
	for _, marker := range sortedMarkers(result.Summary.BasicStats) {
		ms := result.Summary.BasicStats[marker]
		err := w.Write([]string{
			"marker",
			marker.String(),
			formatFloat(ms.Mean),
			formatFloat(ms.StdDev),
			formatFloat(ms.Min),
			formatFloat(ms.Max),
			strconv.Itoa(ms.N),
			formatFloat(ms.Median),
			formatFloat(ms.Q25),
			formatFloat(ms.Q75),
		})
		if err != nil {
			return nil, err
		}
	}

	if err := w.Write([]string{"pattern", "name", "confidence", "effect_size", "sample_size", "description"}); err != nil {
		return nil, err
	}
	for _, p := range result.Patterns {
		err := w.Write([]string{
			"pattern",
			p.Pattern,
			formatFloat(p.ConfidenceScore),
			formatFloat(p.Metadata.EffectSize),
			strconv.Itoa(p.Metadata.SampleSize),
			p.Metadata.Description,
		})
		if err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func sortedMarkers(stats map[core.MarkerKey]analysis.MarkerStats) []core.MarkerKey {
	markers := make([]core.MarkerKey, 0, len(stats))
	for m := range stats {
		markers = append(markers, m)
	}
	sort.Slice(markers, func(i, j int) bool { return markers[i] < markers[j] })
	return markers
}
