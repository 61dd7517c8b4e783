// Package htmldoc implements render.Document over a parsed HTML tree.
package htmldoc

import (
	"bytes"
	"fmt"
	"io"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"example.com/activityboard/internal/render"
)

// Document is a parsed HTML page whose tables can receive rows.
type Document struct {
	root *html.Node
}

// Parse reads an HTML page.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{root: root}, nil
}

// ParseString parses an HTML page held in memory.
func ParseString(page string) (*Document, error) {
	return Parse(bytes.NewBufferString(page))
}

// TableByID implements render.Document.
func (d *Document) TableByID(id string) (render.Table, bool) {
	node := findByID(d.root, id)
	if node == nil || node.DataAtom != atom.Table {
		return nil, false
	}
	return &Table{node: node}, true
}

// SetTextByID replaces the content of the element with the given id. It reports
// whether the element exists.
func (d *Document) SetTextByID(id, text string) bool {
	node := findByID(d.root, id)
	if node == nil {
		return false
	}
	replaceText(node, text)
	return true
}

// Render writes the document back out as HTML.
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.root)
}

// Table wraps a <table> element.
type Table struct {
	node *html.Node
}

// InsertRow appends a <tr> to the last <tbody>, creating the body when the table has none.
func (t *Table) InsertRow() render.Row {
	body := lastChildElement(t.node, atom.Tbody)
	if body == nil {
		body = element(atom.Tbody)
		t.node.AppendChild(body)
	}
	tr := element(atom.Tr)
	body.AppendChild(tr)
	return &Row{node: tr}
}

// Rows returns the <td> texts of every body row. Header-only rows are skipped.
func (t *Table) Rows() [][]string {
	var rows [][]string
	for body := t.node.FirstChild; body != nil; body = body.NextSibling {
		if body.Type != html.ElementNode || body.DataAtom != atom.Tbody {
			continue
		}
		for tr := body.FirstChild; tr != nil; tr = tr.NextSibling {
			if tr.Type != html.ElementNode || tr.DataAtom != atom.Tr {
				continue
			}
			var cells []string
			for td := tr.FirstChild; td != nil; td = td.NextSibling {
				if td.Type == html.ElementNode && td.DataAtom == atom.Td {
					cells = append(cells, textContent(td))
				}
			}
			if len(cells) > 0 {
				rows = append(rows, cells)
			}
		}
	}
	return rows
}

// Row wraps a <tr> element.
type Row struct {
	node *html.Node
}

// InsertCell appends a <td>.
func (r *Row) InsertCell() render.Cell {
	td := element(atom.Td)
	r.node.AppendChild(td)
	return &Cell{node: td}
}

// Cell wraps a <td> element.
type Cell struct {
	node *html.Node
}

// SetText replaces the cell content with a text node; html.Render escapes it.
func (c *Cell) SetText(text string) {
	replaceText(c.node, text)
}

func replaceText(n *html.Node, text string) {
	for child := n.FirstChild; child != nil; {
		next := child.NextSibling
		n.RemoveChild(child)
		child = next
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

func element(a atom.Atom) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
}

func findByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode {
		for _, attr := range n.Attr {
			if attr.Namespace == "" && attr.Key == "id" && attr.Val == id {
				return n
			}
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findByID(child, id); found != nil {
			return found
		}
	}
	return nil
}

func lastChildElement(n *html.Node, a atom.Atom) *html.Node {
	for child := n.LastChild; child != nil; child = child.PrevSibling {
		if child.Type == html.ElementNode && child.DataAtom == a {
			return child
		}
	}
	return nil
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var buf bytes.Buffer
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		buf.WriteString(textContent(child))
	}
	return buf.String()
}
