package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"protosignal/domain/analysis"
)

// exportXLSX writes a workbook with Summary, Patterns and Metadata sheets.
// Floats are written as native cell values so no precision is lost to string
// rounding.
func (f *Formatter) exportXLSX(result *analysis.AnalysisResult) ([]byte, error) {
	wb := excelize.NewFile()
	defer wb.Close()

	const summarySheet = "Summary"
	if err := wb.SetSheetName(wb.GetSheetName(0), summarySheet); err != nil {
		return nil, err
	}

	header := []interface{}{"Marker", "Mean", "Std Dev", "Min", "Max", "N", "Median", "Q25", "Q75"}
	if err := wb.SetSheetRow(summarySheet, "A1", &header); err != nil {
		return nil, err
	}
	for i, marker := range sortedMarkers(result.Summary.BasicStats) {
		ms := result.Summary.BasicStats[marker]
		row := []interface{}{marker.String(), ms.Mean, ms.StdDev, ms.Min, ms.Max, ms.N, ms.Median, ms.Q25, ms.Q75}
		cell := fmt.Sprintf("A%d", i+2)
		if err := wb.SetSheetRow(summarySheet, cell, &row); err != nil {
			return nil, err
		}
	}

	const patternSheet = "Patterns"
	if _, err := wb.NewSheet(patternSheet); err != nil {
		return nil, err
	}
	patternHeader := []interface{}{"Pattern", "Confidence", "Significant", "Effect Size", "Sample Size", "Description"}
	if err := wb.SetSheetRow(patternSheet, "A1", &patternHeader); err != nil {
		return nil, err
	}
	for i, p := range result.Patterns {
		row := []interface{}{p.Pattern, p.ConfidenceScore, p.Significant(), p.Metadata.EffectSize, p.Metadata.SampleSize, p.Metadata.Description}
		cell := fmt.Sprintf("A%d", i+2)
		if err := wb.SetSheetRow(patternSheet, cell, &row); err != nil {
			return nil, err
		}
	}

	const metaSheet = "Metadata"
	if _, err := wb.NewSheet(metaSheet); err != nil {
		return nil, err
	}
	meta := [][]interface{}{
		{"Protocol", result.ProtocolID.String()},
		{"Generated At", result.Metadata.GeneratedAt.String()},
		{"Signal Tier", string(result.Metadata.SignalTier)},
		{"Data Quality Score", result.Metadata.DataQualityScore},
		{"Participant Count", result.Metadata.ParticipantCount},
		{"Skipped Count", result.Metadata.SkippedCount},
	}
	for i := range meta {
		cell := fmt.Sprintf("A%d", i+1)
		if err := wb.SetSheetRow(metaSheet, cell, &meta[i]); err != nil {
			return nil, err
		}
	}

	buf, err := wb.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
