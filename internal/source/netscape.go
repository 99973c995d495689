package source

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/linkaudit/internal/audit"
)

func parseNetscape(r io.Reader) ([]*audit.BookmarkNode, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	root := doc.Find("dl").First()
	if root.Length() == 0 {
		return nil, fmt.Errorf("netscape bookmarks: no <DL> list found")
	}
	return parseList(root, ""), nil
}

// parseList converts the <DT> entries of one <DL>. A folder's own <DL> is
// either nested in its <DT> or, with some exporters, its next sibling.
func parseList(dl *goquery.Selection, prefix string) []*audit.BookmarkNode {
	var nodes []*audit.BookmarkNode
	dl.ChildrenFiltered("dt").Each(func(i int, dt *goquery.Selection) {
		id := strconv.Itoa(i + 1)
		if prefix != "" {
			id = prefix + "." + id
		}
		if a := dt.ChildrenFiltered("a").First(); a.Length() > 0 {
			href, _ := a.Attr("href")
			nodes = append(nodes, &audit.BookmarkNode{
				ID:    id,
				Title: strings.TrimSpace(a.Text()),
				URL:   strings.TrimSpace(href),
			})
			return
		}
		h3 := dt.ChildrenFiltered("h3").First()
		if h3.Length() == 0 {
			return
		}
		sub := dt.ChildrenFiltered("dl").First()
		if sub.Length() == 0 {
			sub = dt.NextFiltered("dl")
		}
		folder := &audit.BookmarkNode{ID: id, Title: strings.TrimSpace(h3.Text())}
		if sub.Length() > 0 {
			folder.Children = parseList(sub, id)
		}
		nodes = append(nodes, folder)
	})
	return nodes
}
