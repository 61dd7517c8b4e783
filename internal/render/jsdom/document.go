//go:build js && wasm

// Package jsdom implements render.Document over the browser DOM.
package jsdom

import (
	"syscall/js"

	"example.com/activityboard/internal/render"
)

// Document wraps the page's document object.
type Document struct {
	doc js.Value
}

// Global returns the document of the hosting page.
func Global() *Document {
	return &Document{doc: js.Global().Get("document")}
}

// TableByID implements render.Document.
func (d *Document) TableByID(id string) (render.Table, bool) {
	el := d.doc.Call("getElementById", id)
	if el.IsNull() || el.IsUndefined() || el.Get("tagName").String() != "TABLE" {
		return nil, false
	}
	return table{el: el}, true
}

type table struct {
	el js.Value
}

// InsertRow appends to the last tbody, creating one when the table has none,
// so rows never land in the thead.
func (t table) InsertRow() render.Row {
	bodies := t.el.Get("tBodies")
	var body js.Value
	if n := bodies.Get("length").Int(); n > 0 {
		body = bodies.Index(n - 1)
	} else {
		body = t.el.Call("createTBody")
	}
	return row{el: body.Call("insertRow")}
}

type row struct {
	el js.Value
}

func (r row) InsertCell() render.Cell {
	return cell{el: r.el.Call("insertCell")}
}

type cell struct {
	el js.Value
}

// SetText assigns textContent, never innerHTML.
func (c cell) SetText(text string) {
	c.el.Set("textContent", text)
}
