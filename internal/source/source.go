// Package source reads bookmark forests from browser exports and config
// files.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/linkaudit/internal/audit"
)

// Format names a bookmark file layout.
type Format string

// Supported formats.
const (
	// FormatChrome is Chrome's Bookmarks JSON file, or a JSON array of nodes.
	FormatChrome Format = "chrome"
	// FormatNetscape is the bookmarks.html export every browser produces.
	FormatNetscape Format = "netscape"
	// FormatYAML is a hand-written YAML forest.
	FormatYAML Format = "yaml"
)

// ErrUnknownFormat is returned when a format cannot be determined.
var ErrUnknownFormat = errors.New("unknown bookmark format")

// ParseFormat accepts format names and common aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "chrome", "json":
		return FormatChrome, nil
	case "netscape", "html", "htm":
		return FormatNetscape, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// DetectFormat derives the format from a file extension.
func DetectFormat(path string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		// Chrome's profile file has no extension.
		if strings.EqualFold(filepath.Base(path), "Bookmarks") {
			return FormatChrome, nil
		}
		return "", fmt.Errorf("%w: %s has no extension", ErrUnknownFormat, path)
	}
	return ParseFormat(ext)
}

// Parse decodes a forest in the given format.
func Parse(format Format, r io.Reader) ([]*audit.BookmarkNode, error) {
	switch format {
	case FormatChrome:
		return parseChrome(r)
	case FormatNetscape:
		return parseNetscape(r)
	case FormatYAML:
		return parseYAML(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// File reads a bookmark file on every GetTree call.
type File struct {
	Path   string
	Format Format
}

// NewFile builds a File source. An empty format is detected from the path.
func NewFile(path string, format string) (*File, error) {
	if path == "" {
		return nil, errors.New("bookmark file path is required")
	}
	var (
		f   Format
		err error
	)
	if format == "" {
		f, err = DetectFormat(path)
	} else {
		f, err = ParseFormat(format)
	}
	if err != nil {
		return nil, err
	}
	return &File{Path: path, Format: f}, nil
}

// GetTree implements audit.BookmarkSource.
func (f *File) GetTree(ctx context.Context) ([]*audit.BookmarkNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Path, err)
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read bookmarks: %w", err)
	}
	forest, err := Parse(f.Format, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.Path, err)
	}
	return forest, nil
}

// Static serves a fixed forest.
type Static []*audit.BookmarkNode

// GetTree implements audit.BookmarkSource.
func (s Static) GetTree(context.Context) ([]*audit.BookmarkNode, error) {
	return s, nil
}

// Count returns the number of URL-bearing nodes in forest, visiting each
// node pointer once.
func Count(forest []*audit.BookmarkNode) int {
	seen := make(map[*audit.BookmarkNode]struct{})
	var walk func([]*audit.BookmarkNode) int
	walk = func(nodes []*audit.BookmarkNode) int {
		n := 0
		for _, node := range nodes {
			if node == nil {
				continue
			}
			if _, ok := seen[node]; ok {
				continue
			}
			seen[node] = struct{}{}
			if node.HasURL() {
				n++
			}
			n += walk(node.Children)
		}
		return n
	}
	return walk(forest)
}
