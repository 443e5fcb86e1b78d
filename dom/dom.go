// Package dom is the document abstraction the tour engine drives.
//
// The engine never touches a concrete page. Backends implement Document,
// Element and Navigator: memdom over golang.org/x/net/html for tests and
// headless rehearsal, roddom over a live Chrome page via CDP.
//
// All methods are called from the engine's loop.Scheduler goroutine and all
// callbacks registered here are delivered on it.
package dom

import "errors"

// ErrDetached is returned by operations on an element no longer in the document.
var ErrDetached = errors.New("dom: element detached")

// Rect is a bounding box in viewport coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Empty reports whether the rect has no area.
func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// Event types dispatched by backends.
const (
	EventClick  = "click"
	EventInput  = "input"
	EventChange = "change"
	EventFocus  = "focus"
	EventHover  = "mouseover"
)

// Event is a DOM event delivered to a listener.
type Event struct {
	Type   string
	Target Element
	// Value is the target's value at dispatch time (inputs only).
	Value string
}

// Element is a live node in a Document.
type Element interface {
	Tag() string
	Attr(name string) (string, bool)
	SetAttr(name, value string) error
	Value() string
	// SetValue assigns the form value without dispatching events.
	SetValue(v string) error
	Text() string
	Rect() (Rect, error)
	// Connected reports whether the element is still attached to its document.
	Connected() bool
	// Listen registers fn for events of the given type. The returned function
	// removes the listener and is idempotent.
	Listen(eventType string, fn func(Event)) (remove func())
	// Dispatch delivers a synthetic event to the element's listeners.
	Dispatch(ev Event) error
	Click() error
	Focus() error
	Hover() error
	AppendChild(child Element) error
	Remove() error
}

// Document is a loaded page.
type Document interface {
	URL() string
	Body() Element
	// QuerySelector returns the first match or nil. An error means the selector
	// could not be parsed.
	QuerySelector(selector string) (Element, error)
	QuerySelectorAll(selector string) ([]Element, error)
	// EvaluateXPath returns the first node matching path or nil.
	EvaluateXPath(path string) (Element, error)
	GetElementByID(id string) Element
	// CreateElement builds a detached element whose inner content is html.
	CreateElement(tag string, attrs map[string]string, html string) (Element, error)
	// Viewport returns the visible area.
	Viewport() Rect
	// OnChange subscribes to mutation batches. See Hub.
	OnChange(fn func()) (unsubscribe func())
}
