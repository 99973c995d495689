package report

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/linkaudit/internal/audit"
)

func sampleReport() audit.Report {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return audit.Report{
		RunID:         "0192f3c4-0000-7000-8000-000000000001",
		Status:        audit.RunStatusCompleted,
		StartedAt:     started,
		FinishedAt:    started.Add(7 * time.Second),
		Total:         4,
		Verified:      2,
		Unverified:    1,
		Ignored:       1,
		DuplicateURLs: []string{"http://x.example"},
		UnverifiedItems: []audit.UnverifiedItem{
			{Title: "Slow | site", URL: "http://c.example", Reason: "timeout"},
		},
		IgnoredItems: []audit.IgnoredItem{{Title: "Files", URL: "ftp://b.example"}},
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Format{"": FormatJSON, "JSON": FormatJSON, "md": FormatMarkdown, "markdown": FormatMarkdown} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseFormat("html")
	require.Error(t, err)
}

func TestRenderMarkdownSections(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleReport(), FormatMarkdown))
	out := buf.String()

	require.Contains(t, out, "# Link Audit Report")
	require.Contains(t, out, "## Duplicate URLs")
	require.Contains(t, out, "http://x.example")
	require.Contains(t, out, "http://c.example")
	require.Contains(t, out, "timeout")
	require.Contains(t, out, `Slow \| site`)
	require.Contains(t, out, "ftp://b.example")
	require.Contains(t, out, "mermaid")
}

func TestRenderMarkdownEmptyReport(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, RenderMarkdown(&buf, audit.Report{RunID: "r", Status: audit.RunStatusAborted}))
	out := buf.String()
	require.Contains(t, out, "No duplicate URLs.")
	require.Contains(t, out, "Run aborted")
	require.NotContains(t, out, "mermaid")
}

func TestRenderJSONUsesEmptyLists(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, audit.Report{RunID: "r"}, FormatJSON))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, []any{}, decoded["duplicate_urls"])
	require.Equal(t, []any{}, decoded["unverified_items"])
}

func TestRenderUnknownFormat(t *testing.T) {
	t.Parallel()

	require.Error(t, Render(&bytes.Buffer{}, sampleReport(), Format("pdf")))
}
