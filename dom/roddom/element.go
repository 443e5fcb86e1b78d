package roddom

import (
	"fmt"

	"github.com/go-rod/rod"

	"github.com/sable-inc/sable-smart-links-sub000/dom"
)

// Element is a dom.Element over a rod element. Interactions are synthetic
// DOM calls, not input emulation, so a covered or off-screen element never
// blocks the scheduler.
type Element struct {
	doc *Document
	el  *rod.Element
}

// Rod returns the underlying rod element.
func (e *Element) Rod() *rod.Element { return e.el }

func (e *Element) eval(js string, args ...any) error {
	if _, err := e.el.Eval(js, args...); err != nil {
		return fmt.Errorf("%w: %v", dom.ErrDetached, err)
	}
	return nil
}

// Tag implements dom.Element.
func (e *Element) Tag() string {
	res, err := e.el.Eval(`() => this.tagName ? this.tagName.toLowerCase() : ""`)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// Attr implements dom.Element.
func (e *Element) Attr(name string) (string, bool) {
	v, err := e.el.Attribute(name)
	if err != nil || v == nil {
		return "", false
	}
	return *v, true
}

// SetAttr implements dom.Element.
func (e *Element) SetAttr(name, value string) error {
	return e.eval(`(n, v) => this.setAttribute(n, v)`, name, value)
}

// Value implements dom.Element.
func (e *Element) Value() string {
	v, err := e.el.Property("value")
	if err != nil || v.Nil() {
		return ""
	}
	return v.Str()
}

// SetValue implements dom.Element.
func (e *Element) SetValue(v string) error {
	return e.eval(`(v) => { this.value = v; }`, v)
}

// Text implements dom.Element.
func (e *Element) Text() string {
	s, err := e.el.Text()
	if err != nil {
		return ""
	}
	return s
}

// Rect implements dom.Element.
func (e *Element) Rect() (dom.Rect, error) {
	res, err := e.el.Eval(`() => {
		const r = this.getBoundingClientRect();
		return {x: r.x, y: r.y, width: r.width, height: r.height};
	}`)
	if err != nil {
		return dom.Rect{}, fmt.Errorf("%w: %v", dom.ErrDetached, err)
	}
	v := res.Value
	return dom.Rect{X: v.Get("x").Num(), Y: v.Get("y").Num(), Width: v.Get("width").Num(), Height: v.Get("height").Num()}, nil
}

// Connected implements dom.Element.
func (e *Element) Connected() bool {
	res, err := e.el.Eval(`() => this.isConnected`)
	return err == nil && res.Value.Bool()
}

// Listen implements dom.Element. Events are delivered on the scheduler.
func (e *Element) Listen(eventType string, fn func(dom.Event)) func() {
	return e.doc.listen(e, eventType, fn)
}

// Dispatch implements dom.Element.
func (e *Element) Dispatch(ev dom.Event) error {
	return e.eval(`(type) => this.dispatchEvent(new Event(type, {bubbles: true}))`, ev.Type)
}

// Click implements dom.Element.
func (e *Element) Click() error { return e.eval(`() => this.click()`) }

// Focus implements dom.Element.
func (e *Element) Focus() error { return e.eval(`() => this.focus()`) }

// Hover implements dom.Element.
func (e *Element) Hover() error {
	return e.eval(`() => {
		this.dispatchEvent(new MouseEvent("mouseover", {bubbles: true}));
		this.dispatchEvent(new MouseEvent("mouseenter"));
	}`)
}

// AppendChild implements dom.Element. child must come from the same
// Document.
func (e *Element) AppendChild(child dom.Element) error {
	c, ok := child.(*Element)
	if !ok || c.doc != e.doc {
		return fmt.Errorf("roddom: append: foreign element %T", child)
	}
	return e.eval(`(c) => { this.appendChild(c); }`, c.el.Object)
}

// Remove implements dom.Element.
func (e *Element) Remove() error {
	if err := e.el.Remove(); err != nil {
		return fmt.Errorf("%w: %v", dom.ErrDetached, err)
	}
	return nil
}
