package memdom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/sable-inc/sable-smart-links-sub000/dom"
)

// Element implements dom.Element over an html.Node.
type Element struct {
	doc  *Document
	node *html.Node
}

var _ dom.Element = (*Element)(nil)

// Tag implements dom.Element.
func (e *Element) Tag() string { return e.node.Data }

// Attr implements dom.Element.
func (e *Element) Attr(name string) (string, bool) { return lookupAttr(e.node, name) }

// SetAttr implements dom.Element.
func (e *Element) SetAttr(name, value string) error {
	for i, a := range e.node.Attr {
		if a.Key == name {
			e.node.Attr[i].Val = value
			e.mutated()
			return nil
		}
	}
	e.node.Attr = append(e.node.Attr, html.Attribute{Key: name, Val: value})
	e.mutated()
	return nil
}

// Value implements dom.Element. Form values live outside the markup, as in
// a browser; the value attribute is the initial value.
func (e *Element) Value() string {
	if v, ok := e.doc.values[e.node]; ok {
		return v
	}
	return getAttr(e.node, "value")
}

// SetValue implements dom.Element.
func (e *Element) SetValue(v string) error {
	if !e.Connected() {
		return dom.ErrDetached
	}
	e.doc.values[e.node] = v
	return nil
}

// Text implements dom.Element.
func (e *Element) Text() string {
	var b strings.Builder
	walk(e.node, func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
	})
	return strings.TrimSpace(b.String())
}

// Rect implements dom.Element. Boxes come from Document.SetRect; unset
// elements report an empty box.
func (e *Element) Rect() (dom.Rect, error) {
	if !e.Connected() {
		return dom.Rect{}, dom.ErrDetached
	}
	return e.doc.rects[e.node], nil
}

// Connected implements dom.Element.
func (e *Element) Connected() bool { return e.doc.connected(e.node) }

// Path returns the element's absolute XPath.
func (e *Element) Path() string { return pathOf(e.node) }

// Listen implements dom.Element.
func (e *Element) Listen(eventType string, fn func(dom.Event)) func() {
	d := e.doc
	d.nextLis++
	l := &listener{id: d.nextLis, typ: eventType, fn: fn}
	d.listeners[e.node] = append(d.listeners[e.node], l)
	node := e.node
	return func() {
		ls := d.listeners[node]
		for i, x := range ls {
			if x == l {
				d.listeners[node] = append(ls[:i:i], ls[i+1:]...)
				break
			}
		}
		if len(d.listeners[node]) == 0 {
			delete(d.listeners, node)
		}
	}
}

// Dispatch implements dom.Element. The event bubbles from the element to the
// document root; listeners added during dispatch are not invoked for it.
func (e *Element) Dispatch(ev dom.Event) error {
	if !e.Connected() {
		return dom.ErrDetached
	}
	if ev.Target == nil {
		ev.Target = e
	}
	if ev.Value == "" {
		ev.Value = e.Value()
	}
	for n := e.node; n != nil; n = n.Parent {
		snapshot := append([]*listener(nil), e.doc.listeners[n]...)
		for _, l := range snapshot {
			if l.typ != ev.Type || !e.doc.live(n, l) {
				continue
			}
			l.fn(ev)
		}
	}
	return nil
}

func (d *Document) live(n *html.Node, l *listener) bool {
	for _, x := range d.listeners[n] {
		if x == l {
			return true
		}
	}
	return false
}

// Click implements dom.Element.
func (e *Element) Click() error { return e.Dispatch(dom.Event{Type: dom.EventClick}) }

// Focus implements dom.Element.
func (e *Element) Focus() error { return e.Dispatch(dom.Event{Type: dom.EventFocus}) }

// Hover implements dom.Element.
func (e *Element) Hover() error { return e.Dispatch(dom.Event{Type: dom.EventHover}) }

// Type sets the value one character at a time, dispatching an input event
// after each, as a user typing would.
func (e *Element) Type(text string) error {
	for _, r := range text {
		if err := e.SetValue(e.Value() + string(r)); err != nil {
			return err
		}
		if err := e.Dispatch(dom.Event{Type: dom.EventInput}); err != nil {
			return err
		}
	}
	return nil
}

// AppendChild implements dom.Element.
func (e *Element) AppendChild(child dom.Element) error {
	c, ok := child.(*Element)
	if !ok || c.doc != e.doc {
		return fmt.Errorf("memdom: foreign element %T", child)
	}
	if c.node.Parent != nil {
		c.node.Parent.RemoveChild(c.node)
	}
	e.node.AppendChild(c.node)
	e.mutated()
	return nil
}

// Remove implements dom.Element.
func (e *Element) Remove() error {
	if e.node.Parent == nil {
		return nil
	}
	wasConnected := e.Connected()
	e.node.Parent.RemoveChild(e.node)
	if wasConnected {
		e.doc.changed()
	}
	return nil
}

func (e *Element) mutated() {
	if e.Connected() {
		e.doc.changed()
	}
}
