// Package export serializes AnalysisResults into caller-facing formats.
// Export never computes anything: it consumes an already-cached result and
// preserves all numeric precision the source carries.
package export

import (
	"encoding/json"
	"strconv"
	"strings"

	"protosignal/domain/analysis"
	"protosignal/domain/core"
)

// Format is a supported export target
type Format string

const (
	FormatJSON    Format = "json"
	FormatCSV     Format = "csv"
	FormatPDFData Format = "pdf-data"
	FormatXLSX    Format = "xlsx"
)

// ParseFormat normalizes a caller-supplied format string
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	case FormatPDFData:
		return FormatPDFData, nil
	case FormatXLSX:
		return FormatXLSX, nil
	}
	return "", core.NewUnsupportedFormatError(s)
}

// Formatter serializes results
type Formatter struct{}

// NewFormatter creates a new export formatter
func NewFormatter() *Formatter {
	return &Formatter{}
}

// Export serializes the result into the target format
func (f *Formatter) Export(result *analysis.AnalysisResult, format Format) ([]byte, error) {
	if result == nil {
		return nil, core.ErrExportNotReady
	}

	switch format {
	case FormatJSON:
		return json.MarshalIndent(result, "", "  ")
	case FormatCSV:
		return f.exportCSV(result)
	case FormatPDFData:
		return f.exportPDFData(result)
	case FormatXLSX:
		return f.exportXLSX(result)
	}
	return nil, core.NewUnsupportedFormatError(string(format))
}

// formatFloat renders a float at full precision; the shortest representation
// that round-trips exactly.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
