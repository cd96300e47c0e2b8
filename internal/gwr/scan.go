package gwr

import (
	"iter"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Row is one label/value pair taken from a table row.
type Row struct {
	Label string
	Value string
}

// Scan returns the label/value rows of every <tr> in doc, in document order,
// whatever table they belong to. Rows with fewer than two th/td cells are
// skipped and cells past the second are ignored.
//
// Rows that arrive without an enclosing <table> are kept.
//
// The document is parsed when the sequence is first ranged over; ranging again
// parses again. A document that cannot be parsed yields no rows.
func Scan(doc string) iter.Seq[Row] {
	return func(yield func(Row) bool) {
		d, err := parse(doc)
		if err != nil {
			return
		}
		d.Find("tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
			cells := tr.Find("th,td")
			if cells.Length() < 2 {
				return true
			}
			return yield(Row{
				Label: labelText(cells.Eq(0)),
				Value: valueText(cells.Eq(1)),
			})
		})
	}
}

// parse builds the document tree for doc. The HTML5 tree builder drops <tr>
// and <td> tags outside a table, so a fragment with bare rows is parsed again
// as the body of a table.
func parse(doc string) (*goquery.Document, error) {
	d, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return nil, err
	}
	if d.Find("table").Length() > 0 || !strings.Contains(strings.ToLower(doc), "<tr") {
		return d, nil
	}

	tbody := &html.Node{Type: html.ElementNode, Data: "tbody", DataAtom: atom.Tbody}
	table := &html.Node{Type: html.ElementNode, Data: "table", DataAtom: atom.Table}
	table.AppendChild(tbody)
	nodes, err := html.ParseFragment(strings.NewReader(doc), tbody)
	if err != nil {
		return nil, err
	}
	root := &html.Node{Type: html.DocumentNode}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	return goquery.NewDocumentFromNode(root), nil
}

// labelText concatenates the trimmed text nodes of a cell without separator.
func labelText(sel *goquery.Selection) string {
	return strings.Join(textNodes(sel, strings.TrimSpace), "")
}

// valueText joins the text nodes of a cell with single spaces, collapsing
// whitespace inside each node.
func valueText(sel *goquery.Selection) string {
	return strings.Join(textNodes(sel, collapseSpaces), " ")
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func textNodes(sel *goquery.Selection, clean func(string) string) []string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := clean(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return parts
}
