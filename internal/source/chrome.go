package source

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/JakeFAU/linkaudit/internal/audit"
)

type chromeFile struct {
	Roots map[string]*chromeNode `json:"roots"`
}

type chromeNode struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Type     string        `json:"type"`
	URL      string        `json:"url"`
	Children []*chromeNode `json:"children"`
}

// Chrome writes these roots; anything else under "roots" is appended after.
var chromeRootOrder = []string{"bookmark_bar", "other", "synced"}

func parseChrome(r io.Reader) ([]*audit.BookmarkNode, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read json: %w", err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty bookmark file")
	}
	if trimmed[0] == '[' {
		var forest []*audit.BookmarkNode
		if err := json.Unmarshal(trimmed, &forest); err != nil {
			return nil, fmt.Errorf("decode node array: %w", err)
		}
		return forest, nil
	}

	var file chromeFile
	if err := json.Unmarshal(trimmed, &file); err != nil {
		return nil, fmt.Errorf("decode chrome bookmarks: %w", err)
	}
	if file.Roots == nil {
		return nil, errors.New("chrome bookmarks: missing roots")
	}

	forest := make([]*audit.BookmarkNode, 0, len(file.Roots))
	used := make(map[string]bool, len(chromeRootOrder))
	for _, key := range chromeRootOrder {
		if root, ok := file.Roots[key]; ok && root != nil {
			forest = append(forest, root.convert())
			used[key] = true
		}
	}
	extra := make([]string, 0, len(file.Roots))
	for key := range file.Roots {
		if !used[key] {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		if root := file.Roots[key]; root != nil {
			forest = append(forest, root.convert())
		}
	}
	return forest, nil
}

func (n *chromeNode) convert() *audit.BookmarkNode {
	out := &audit.BookmarkNode{ID: n.ID, Title: n.Name}
	if n.Type == "url" || (n.Type == "" && n.URL != "") {
		out.URL = n.URL
	}
	for _, child := range n.Children {
		if child != nil {
			out.Children = append(out.Children, child.convert())
		}
	}
	return out
}
