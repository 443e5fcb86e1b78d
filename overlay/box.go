package overlay

import (
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/sable-inc/sable-smart-links-sub000/dom"
)

// Kind of box.
type Kind string

const (
	Tooltip   Kind = "tooltip"
	Popup     Kind = "popup"
	Spotlight Kind = "spotlight"
	Final     Kind = "final"
)

// Button actions reported by a Box.
const (
	ActionNext   = "next"
	ActionBack   = "back"
	ActionClose  = "close"
	ActionChoice = "choice"
)

// Attribute names stamped on box markup.
const (
	AttrOverlay = "data-tourguide-overlay"
	AttrAction  = "data-tourguide-action"
	AttrValue   = "data-tourguide-value"
)

// DefaultSize is used for placement when the backend reports no box size.
var DefaultSize = Size{Width: 320, Height: 160}

// Button is one control rendered in a box.
type Button struct {
	Action string `yaml:"action" json:"action"`
	Label  string `yaml:"label" json:"label"`
	// Value accompanies ActionChoice, naming the chosen step.
	Value string `yaml:"value" json:"value,omitempty"`
}

// Content describes what a box shows.
type Content struct {
	Kind      Kind      `yaml:"kind" json:"kind,omitempty"`
	Title     string    `yaml:"title" json:"title,omitempty"`
	Body      string    `yaml:"body" json:"body,omitempty"` // HTML, sanitised on render
	Placement Placement `yaml:"placement" json:"placement,omitempty"`
	Buttons   []Button  `yaml:"buttons" json:"buttons,omitempty"`
}

var policy = bluemonday.UGCPolicy()

// Sanitize strips anything but user-generated-content safe markup.
func Sanitize(s string) string { return policy.Sanitize(s) }

// Render returns the inner markup of a box for c.
func Render(c Content) string {
	var b strings.Builder
	if c.Title != "" {
		fmt.Fprintf(&b, `<h3 class="tourguide-title">%s</h3>`, html.EscapeString(c.Title))
	}
	if c.Body != "" {
		fmt.Fprintf(&b, `<div class="tourguide-body">%s</div>`, Sanitize(c.Body))
	}
	if len(c.Buttons) > 0 {
		b.WriteString(`<div class="tourguide-actions">`)
		for _, btn := range c.Buttons {
			fmt.Fprintf(&b, `<button type="button" %s="%s"`, AttrAction, html.EscapeString(btn.Action))
			if btn.Value != "" {
				fmt.Fprintf(&b, ` %s="%s"`, AttrValue, html.EscapeString(btn.Value))
			}
			fmt.Fprintf(&b, `>%s</button>`, html.EscapeString(btn.Label))
		}
		b.WriteString(`</div>`)
	}
	return b.String()
}

// Box is the stock overlay: a positioned element carrying title, sanitised
// body and action buttons. Button clicks are delegated to OnAction.
type Box struct {
	doc      dom.Document
	content  Content
	onAction func(action, value string)

	root     dom.Element
	unlisten func()
	pos      Position
}

// NewBox returns a Factory building Boxes for doc.
func NewBox(doc dom.Document, c Content, onAction func(action, value string)) Factory {
	return func() (Overlay, error) {
		if doc == nil {
			return nil, fmt.Errorf("overlay: box: nil document")
		}
		if c.Kind == "" {
			c.Kind = Tooltip
		}
		if c.Placement == "" {
			c.Placement = Auto
		}
		return &Box{doc: doc, content: c, onAction: onAction}, nil
	}
}

// Mount implements Overlay.
func (b *Box) Mount(parent dom.Element) error {
	root, err := b.doc.CreateElement("div", map[string]string{
		AttrOverlay: string(b.content.Kind),
		"class":     "tourguide tourguide-" + string(b.content.Kind),
		"role":      "dialog",
	}, Render(b.content))
	if err != nil {
		return fmt.Errorf("overlay: box: %w", err)
	}
	if err := parent.AppendChild(root); err != nil {
		return fmt.Errorf("overlay: box: %w", err)
	}
	b.root = root
	b.unlisten = root.Listen(dom.EventClick, b.handleClick)
	b.UpdatePosition(dom.Rect{})
	return nil
}

func (b *Box) handleClick(ev dom.Event) {
	if ev.Target == nil || b.onAction == nil {
		return
	}
	action, ok := ev.Target.Attr(AttrAction)
	if !ok {
		return
	}
	value, _ := ev.Target.Attr(AttrValue)
	b.onAction(action, value)
}

// Unmount implements Overlay.
func (b *Box) Unmount() {
	if b.unlisten != nil {
		b.unlisten()
		b.unlisten = nil
	}
	if b.root != nil {
		b.root.Remove()
		b.root = nil
	}
}

// UpdatePosition implements Overlay.
func (b *Box) UpdatePosition(target dom.Rect) {
	if b.root == nil {
		return
	}
	size := DefaultSize
	if r, err := b.root.Rect(); err == nil && !r.Empty() {
		size = Size{Width: r.Width, Height: r.Height}
	}
	pos := Place(target, size, b.content.Placement, b.doc.Viewport())
	if pos == b.pos && b.pos.Placement != "" {
		return
	}
	b.pos = pos
	b.root.SetAttr("data-placement", string(pos.Placement))
	b.root.SetAttr("style", fmt.Sprintf("position:fixed;left:%.0fpx;top:%.0fpx", pos.X, pos.Y))
}

// Position reports where the box was last placed.
func (b *Box) Position() Position { return b.pos }

// Element returns the mounted root or nil.
func (b *Box) Element() dom.Element { return b.root }
