package source

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/linkaudit/internal/audit"
)

// yamlFile accepts either a bare list of nodes or {bookmarks: [...]}.
type yamlFile struct {
	Bookmarks []*audit.BookmarkNode `yaml:"bookmarks"`
}

func parseYAML(r io.Reader) ([]*audit.BookmarkNode, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty bookmark file")
		}
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, errors.New("empty bookmark file")
	}
	body := doc.Content[0]
	if body.Kind == yaml.SequenceNode {
		var forest []*audit.BookmarkNode
		if err := body.Decode(&forest); err != nil {
			return nil, fmt.Errorf("decode bookmark list: %w", err)
		}
		return forest, nil
	}
	var file yamlFile
	if err := body.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode bookmarks: %w", err)
	}
	return file.Bookmarks, nil
}
