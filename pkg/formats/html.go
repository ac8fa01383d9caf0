package formats

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/matwana-io/matwana-engine/pkg/apperrors"
)

// parseHTML extracts the first <table> in the document as rows. When no
// table is present the raw markup is returned as {"html": content}.
func parseHTML(data []byte) (any, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid HTML: %v", apperrors.ErrParse, err)
	}

	table := findNode(doc, "table")
	if table == nil {
		return map[string]any{"html": string(data)}, nil
	}

	var header []string
	var rows []map[string]any

	for _, tr := range findAll(table, "tr") {
		cells := cellTexts(tr)
		if len(cells) == 0 {
			continue
		}
		if header == nil {
			header = cells
			continue
		}
		row := make(map[string]any, len(header))
		for i, name := range header {
			if i >= len(cells) {
				row[name] = nil
				continue
			}
			row[name] = coerceCell(cells[i])
		}
		rows = append(rows, row)
	}

	if rows == nil {
		rows = []map[string]any{}
	}
	return rows, nil
}

func findNode(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findNode(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func findAll(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && node.Data == tag {
			out = append(out, node)
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

// cellTexts collects the trimmed text of each th/td cell in a row.
func cellTexts(tr *html.Node) []string {
	var cells []string
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
			cells = append(cells, strings.TrimSpace(nodeText(c)))
		}
	}
	return cells
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(nodeText(c))
	}
	return sb.String()
}
