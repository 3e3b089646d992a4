package export

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"protosignal/domain/analysis"
)

// ReportDocument is the "pdf-data" shape: a structured document plus a
// print-ready HTML rendering. Consumers feed either to their PDF pipeline.
type ReportDocument struct {
	Title       string          `json:"title"`
	GeneratedAt string          `json:"generated_at"`
	SignalTier  string          `json:"signal_tier"`
	Sections    []ReportSection `json:"sections"`
	HTML        string          `json:"html"`
}

// ReportSection is one titled block of the report
type ReportSection struct {
	Heading  string     `json:"heading"`
	Markdown string     `json:"markdown,omitempty"`
	Table    [][]string `json:"table,omitempty"`
}

// exportPDFData builds the report document and serializes it as JSON
func (f *Formatter) exportPDFData(result *analysis.AnalysisResult) ([]byte, error) {
	doc := buildReport(result)
	return json.MarshalIndent(doc, "", "  ")
}

func buildReport(result *analysis.AnalysisResult) *ReportDocument {
	doc := &ReportDocument{
		Title:       fmt.Sprintf("Protocol Analysis: %s", result.ProtocolID),
		GeneratedAt: result.Metadata.GeneratedAt.String(),
		SignalTier:  string(result.Metadata.SignalTier),
	}

	var overview strings.Builder
	fmt.Fprintf(&overview, "**Signal tier:** %s\n\n", result.Metadata.SignalTier)
	fmt.Fprintf(&overview, "**Participants:** %d\n\n", result.Metadata.ParticipantCount)
	fmt.Fprintf(&overview, "**Data quality:** %s / 100\n\n", formatFloat(result.Metadata.DataQualityScore))
	if result.Metadata.SkippedCount > 0 {
		fmt.Fprintf(&overview, "**Skipped submissions:** %d\n\n", result.Metadata.SkippedCount)
	}
	doc.Sections = append(doc.Sections, ReportSection{
		Heading:  "Overview",
		Markdown: overview.String(),
	})

	markerTable := [][]string{{"Marker", "Mean", "Std Dev", "Min", "Max", "N"}}
	for _, marker := range sortedMarkers(result.Summary.BasicStats) {
		ms := result.Summary.BasicStats[marker]
		markerTable = append(markerTable, []string{
			marker.String(),
			formatFloat(ms.Mean),
			formatFloat(ms.StdDev),
			formatFloat(ms.Min),
			formatFloat(ms.Max),
			fmt.Sprintf("%d", ms.N),
		})
	}
	doc.Sections = append(doc.Sections, ReportSection{
		Heading: "Marker Statistics",
		Table:   markerTable,
	})

	if len(result.Patterns) > 0 {
		var body strings.Builder
		for _, p := range result.Patterns {
			tag := ""
			if p.Significant() {
				tag = " *(significant)*"
			}
			fmt.Fprintf(&body, "- `%s` - confidence %s%s: %s\n",
				p.Pattern, formatFloat(p.ConfidenceScore), tag, p.Metadata.Description)
		}
		doc.Sections = append(doc.Sections, ReportSection{
			Heading:  "Detected Patterns",
			Markdown: body.String(),
		})
	}

	doc.HTML = renderHTML(doc)
	return doc
}

// renderHTML concatenates the sections into one markdown document and
// renders it for print
func renderHTML(doc *ReportDocument) string {
	var md strings.Builder
	fmt.Fprintf(&md, "# %s\n\n", doc.Title)
	fmt.Fprintf(&md, "_Generated %s_\n\n", doc.GeneratedAt)
	for _, s := range doc.Sections {
		fmt.Fprintf(&md, "## %s\n\n", s.Heading)
		if s.Markdown != "" {
			md.WriteString(s.Markdown)
			md.WriteString("\n")
		}
		if len(s.Table) > 0 {
			writeMarkdownTable(&md, s.Table)
		}
	}

	p := parser.NewWithExtensions(parser.CommonExtensions | parser.Tables)
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags})
	return string(markdown.ToHTML([]byte(md.String()), p, renderer))
}

func writeMarkdownTable(md *strings.Builder, table [][]string) {
	for i, row := range table {
		md.WriteString("| ")
		md.WriteString(strings.Join(row, " | "))
		md.WriteString(" |\n")
		if i == 0 {
			md.WriteString("|")
			md.WriteString(strings.Repeat(" --- |", len(row)))
			md.WriteString("\n")
		}
	}
	md.WriteString("\n")
}
