package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/linkaudit/internal/audit"
)

const chromeBookmarks = `{
  "checksum": "abc",
  "roots": {
    "bookmark_bar": {
      "id": "1", "name": "Bookmarks bar", "type": "folder",
      "children": [
        {"id": "2", "name": "Go", "type": "url", "url": "https://go.dev"},
        {"id": "3", "name": "Tools", "type": "folder", "children": [
          {"id": "4", "name": "FTP", "type": "url", "url": "ftp://files.example"}
        ]}
      ]
    },
    "other": {"id": "5", "name": "Other bookmarks", "type": "folder", "children": []},
    "synced": {"id": "6", "name": "Mobile bookmarks", "type": "folder"}
  },
  "version": 1
}`

const netscapeBookmarks = `<!DOCTYPE NETSCAPE-Bookmark-file-1>
<META HTTP-EQUIV="Content-Type" CONTENT="text/html; charset=UTF-8">
<TITLE>Bookmarks</TITLE>
<H1>Bookmarks</H1>
<DL><p>
    <DT><H3 ADD_DATE="1700000000">Bookmarks bar</H3>
    <DL><p>
        <DT><A HREF="https://go.dev" ADD_DATE="1700000000">Go</A>
        <DT><H3>Tools</H3>
        <DL><p>
            <DT><A HREF="ftp://files.example">FTP</A>
        </DL><p>
    </DL><p>
    <DT><A HREF="https://example.com">Example</A>
</DL><p>
`

const yamlBookmarks = `
bookmarks:
  - title: Bookmarks bar
    children:
      - title: Go
        url: https://go.dev
      - title: Tools
        children:
          - title: FTP
            url: ftp://files.example
`

func TestParseChrome(t *testing.T) {
	t.Parallel()

	forest, err := Parse(FormatChrome, strings.NewReader(chromeBookmarks))
	require.NoError(t, err)
	require.Len(t, forest, 3)
	require.Equal(t, "Bookmarks bar", forest[0].Title)
	require.Empty(t, forest[0].URL)
	require.Equal(t, "https://go.dev", forest[0].Children[0].URL)
	require.Equal(t, "ftp://files.example", forest[0].Children[1].Children[0].URL)
	require.Equal(t, 2, Count(forest))
}

func TestParseChromeNodeArray(t *testing.T) {
	t.Parallel()

	forest, err := Parse(FormatChrome, strings.NewReader(`[{"id":"a","title":"A","url":"http://a.example"}]`))
	require.NoError(t, err)
	require.Equal(t, []*audit.BookmarkNode{{ID: "a", Title: "A", URL: "http://a.example"}}, forest)
}

func TestParseChromeErrors(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"", "{", `{"version":1}`} {
		_, err := Parse(FormatChrome, strings.NewReader(input))
		require.Error(t, err, input)
	}
}

func TestParseNetscape(t *testing.T) {
	t.Parallel()

	forest, err := Parse(FormatNetscape, strings.NewReader(netscapeBookmarks))
	require.NoError(t, err)
	require.Len(t, forest, 2)

	bar := forest[0]
	require.Equal(t, "Bookmarks bar", bar.Title)
	require.Len(t, bar.Children, 2)
	require.Equal(t, "Go", bar.Children[0].Title)
	require.Equal(t, "https://go.dev", bar.Children[0].URL)
	require.Equal(t, "Tools", bar.Children[1].Title)
	require.Equal(t, "ftp://files.example", bar.Children[1].Children[0].URL)
	require.Equal(t, "1.2.1", bar.Children[1].Children[0].ID)

	require.Equal(t, "https://example.com", forest[1].URL)
	require.Equal(t, 3, Count(forest))
}

func TestParseNetscapeWithoutList(t *testing.T) {
	t.Parallel()

	_, err := Parse(FormatNetscape, strings.NewReader("<html><body>nothing</body></html>"))
	require.Error(t, err)
}

func TestParseYAML(t *testing.T) {
	t.Parallel()

	forest, err := Parse(FormatYAML, strings.NewReader(yamlBookmarks))
	require.NoError(t, err)
	require.Len(t, forest, 1)
	require.Equal(t, 2, Count(forest))

	list, err := Parse(FormatYAML, strings.NewReader("- title: A\n  url: http://a.example\n"))
	require.NoError(t, err)
	require.Equal(t, "http://a.example", list[0].URL)

	_, err = Parse(FormatYAML, strings.NewReader(""))
	require.Error(t, err)
}

func TestDetectFormat(t *testing.T) {
	t.Parallel()

	cases := map[string]Format{
		"bookmarks.html":                  FormatNetscape,
		"export.HTM":                      FormatNetscape,
		"Bookmarks":                       FormatChrome,
		"/profile/Default/bookmarks.json": FormatChrome,
		"links.yml":                       FormatYAML,
	}
	for path, want := range cases {
		got, err := DetectFormat(path)
		require.NoError(t, err, path)
		require.Equal(t, want, got, path)
	}
	_, err := DetectFormat("notes.txt")
	require.ErrorIs(t, err, ErrUnknownFormat)
	_, err = DetectFormat("README")
	require.ErrorIs(t, err, ErrUnknownFormat)
}

func TestFileSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "bookmarks.html")
	require.NoError(t, os.WriteFile(path, []byte(netscapeBookmarks), 0o600))

	src, err := NewFile(path, "")
	require.NoError(t, err)
	forest, err := src.GetTree(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, Count(forest))

	missing, err := NewFile(filepath.Join(dir, "gone.json"), "")
	require.NoError(t, err)
	_, err = missing.GetTree(context.Background())
	require.Error(t, err)

	_, err = NewFile(path, "pdf")
	require.ErrorIs(t, err, ErrUnknownFormat)
}

func TestStaticAndCountHandleSharedNodes(t *testing.T) {
	t.Parallel()

	shared := &audit.BookmarkNode{Title: "x", URL: "http://x.example"}
	loop := &audit.BookmarkNode{Title: "loop"}
	loop.Children = []*audit.BookmarkNode{loop, shared}
	src := Static{shared, loop, nil}

	forest, err := src.GetTree(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, Count(forest))
}
