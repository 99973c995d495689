package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/JakeFAU/linkaudit/internal/audit"
)

// Format selects a report rendering.
type Format string

// Supported formats.
const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// ParseFormat accepts the format names used by the CLI and the API.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unknown report format %q", s)
	}
}

// ContentType returns the MIME type for the rendering.
func (f Format) ContentType() string {
	if f == FormatMarkdown {
		return "text/markdown; charset=utf-8"
	}
	return "application/json"
}

// Extension returns the file extension without the dot.
func (f Format) Extension() string {
	if f == FormatMarkdown {
		return "md"
	}
	return "json"
}

// Render writes report to w in the requested format.
func Render(w io.Writer, report audit.Report, format Format) error {
	switch format {
	case FormatJSON:
		return RenderJSON(w, report)
	case FormatMarkdown:
		return RenderMarkdown(w, report)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

// RenderJSON writes the indented JSON encoding of report.
func RenderJSON(w io.Writer, report audit.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(normalize(report)); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// RenderMarkdown writes a human-readable report: a summary table, then the
// duplicate, unverified and ignored sections.
func RenderMarkdown(w io.Writer, report audit.Report) error {
	md := markdown.NewMarkdown(w)

	md.H1("Link Audit Report")
	md.PlainText("")
	finished := "-"
	if !report.FinishedAt.IsZero() {
		finished = report.FinishedAt.Format("2006-01-02 15:04:05 MST")
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Run", "`" + report.RunID + "`"},
			{"Status", string(report.Status)},
			{"Started", report.StartedAt.Format("2006-01-02 15:04:05 MST")},
			{"Finished", finished},
		},
	})
	md.PlainText("")

	md.H2("Summary")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Outcome", "Count"},
		Rows: [][]string{
			{"Verified", strconv.Itoa(report.Verified)},
			{"Unverified", strconv.Itoa(report.Unverified)},
			{"Ignored", strconv.Itoa(report.Ignored)},
			{"Cancelled", strconv.Itoa(report.Cancelled)},
			{"**Total**", "**" + strconv.Itoa(report.Total) + "**"},
		},
	})
	md.PlainText("")
	if report.Processed() > 0 {
		writePieChart(md, report)
	}
	writeAlert(md, report)

	md.H2("Duplicate URLs")
	md.PlainText("")
	if len(report.DuplicateURLs) == 0 {
		md.PlainText("No duplicate URLs.")
	} else {
		md.BulletList(report.DuplicateURLs...)
	}
	md.PlainText("")

	md.H2("Unverified")
	md.PlainText("")
	if len(report.UnverifiedItems) == 0 {
		md.PlainText("Every HTTP(S) link responded.")
	} else {
		rows := make([][]string, 0, len(report.UnverifiedItems))
		for _, item := range report.UnverifiedItems {
			rows = append(rows, []string{cell(item.Title), cell(item.URL), cell(item.Reason)})
		}
		md.Table(markdown.TableSet{Header: []string{"Title", "URL", "Error"}, Rows: rows})
	}
	md.PlainText("")

	md.H2("Ignored (non-HTTP)")
	md.PlainText("")
	if len(report.IgnoredItems) == 0 {
		md.PlainText("No links with other protocols.")
	} else {
		rows := make([][]string, 0, len(report.IgnoredItems))
		for _, item := range report.IgnoredItems {
			rows = append(rows, []string{cell(item.Title), cell(item.URL)})
		}
		md.Table(markdown.TableSet{Header: []string{"Title", "URL"}, Rows: rows})
	}
	md.PlainText("")

	if err := md.Build(); err != nil {
		return fmt.Errorf("build markdown: %w", err)
	}
	return nil
}

func writePieChart(md *markdown.Markdown, report audit.Report) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Outcomes"),
		piechart.WithShowData(true),
	)
	if report.Verified > 0 {
		chart.LabelAndIntValue("Verified", uint64(report.Verified))
	}
	if report.Unverified > 0 {
		chart.LabelAndIntValue("Unverified", uint64(report.Unverified))
	}
	if report.Ignored > 0 {
		chart.LabelAndIntValue("Ignored", uint64(report.Ignored))
	}
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func writeAlert(md *markdown.Markdown, report audit.Report) {
	switch {
	case report.Status == audit.RunStatusAborted:
		md.Warningf("Run aborted: %d of %d links were cancelled before verification.", report.Cancelled, report.Total)
	case report.Status == audit.RunStatusFailed:
		md.Caution("Run failed before completion.")
	case report.Unverified > 0:
		md.Importantf("%d link(s) could not be verified.", report.Unverified)
	default:
		md.Tip("All HTTP(S) links verified.")
	}
	md.PlainText("")
}

// cell keeps table rows on one line.
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.ReplaceAll(s, "\n", " ")
}

func normalize(report audit.Report) audit.Report {
	if report.DuplicateURLs == nil {
		report.DuplicateURLs = []string{}
	}
	if report.UnverifiedItems == nil {
		report.UnverifiedItems = []audit.UnverifiedItem{}
	}
	if report.IgnoredItems == nil {
		report.IgnoredItems = []audit.IgnoredItem{}
	}
	return report
}
