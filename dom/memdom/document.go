// Package memdom is an in-process dom.Document built on golang.org/x/net/html.
//
// It is the reference backend for tests and for rehearsing tours against
// captured HTML. Mutations are coalesced into one change batch per scheduler
// turn, the way a browser MutationObserver delivers records after the task
// that caused them. Events dispatch synchronously and bubble to ancestors.
package memdom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/sable-inc/sable-smart-links-sub000/dom"
	"github.com/sable-inc/sable-smart-links-sub000/loop"
)

// Document implements dom.Document and dom.Navigator.
type Document struct {
	sched    loop.Scheduler
	url      string
	root     *html.Node
	hub      *dom.Hub
	pending  bool
	viewport dom.Rect

	elems     map[*html.Node]*Element
	values    map[*html.Node]string
	rects     map[*html.Node]dom.Rect
	listeners map[*html.Node][]*listener
	nextLis   int

	navNext int
	navSubs map[int]func(dom.Navigation)
}

type listener struct {
	id  int
	typ string
	fn  func(dom.Event)
}

// Parse builds a Document from an HTML source.
func Parse(sched loop.Scheduler, pageURL, src string) (*Document, error) {
	d := &Document{
		sched:    sched,
		hub:      dom.NewHub(),
		viewport: dom.Rect{Width: 1280, Height: 800},
		navSubs:  make(map[int]func(dom.Navigation)),
	}
	if err := d.reset(pageURL, src); err != nil {
		return nil, err
	}
	return d, nil
}

// MustParse is Parse for tests and constant fixtures.
func MustParse(sched loop.Scheduler, pageURL, src string) *Document {
	d, err := Parse(sched, pageURL, src)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Document) reset(pageURL, src string) error {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return fmt.Errorf("memdom: parse: %w", err)
	}
	d.url = pageURL
	d.root = root
	d.elems = make(map[*html.Node]*Element)
	d.values = make(map[*html.Node]string)
	d.rects = make(map[*html.Node]dom.Rect)
	d.listeners = make(map[*html.Node][]*listener)
	return nil
}

// Load replaces the whole document, as a full page navigation would, then
// emits a NavLoad signal and a change batch. Listeners on the old document
// are dropped.
func (d *Document) Load(pageURL, src string) error {
	if err := d.reset(pageURL, src); err != nil {
		return err
	}
	d.emitNav(dom.Navigation{Kind: dom.NavLoad, URL: pageURL})
	d.changed()
	return nil
}

// Navigate emits a navigation signal without replacing the document.
// Push, replace and popstate also update the current URL.
func (d *Document) Navigate(kind dom.NavKind, pageURL string) {
	switch kind {
	case dom.NavPush, dom.NavReplace, dom.NavPopState:
		d.url = pageURL
	}
	d.emitNav(dom.Navigation{Kind: kind, URL: pageURL})
}

// OnNavigate implements dom.Navigator.
func (d *Document) OnNavigate(fn func(dom.Navigation)) func() {
	d.navNext++
	id := d.navNext
	d.navSubs[id] = fn
	return func() { delete(d.navSubs, id) }
}

func (d *Document) emitNav(n dom.Navigation) {
	for id := 1; id <= d.navNext; id++ {
		if fn, ok := d.navSubs[id]; ok {
			fn(n)
		}
	}
}

// changed schedules one hub notification for the current turn.
func (d *Document) changed() {
	if d.pending {
		return
	}
	d.pending = true
	d.sched.Post(func() {
		d.pending = false
		d.hub.Notify()
	})
}

// OnChange implements dom.Document.
func (d *Document) OnChange(fn func()) func() { return d.hub.Subscribe(fn) }

// URL implements dom.Document.
func (d *Document) URL() string { return d.url }

// Viewport implements dom.Document.
func (d *Document) Viewport() dom.Rect { return d.viewport }

// SetViewport changes the visible area used for overlay placement.
func (d *Document) SetViewport(r dom.Rect) { d.viewport = r }

// Body implements dom.Document.
func (d *Document) Body() dom.Element {
	var body *html.Node
	walk(d.root, func(n *html.Node) {
		if body == nil && n.Type == html.ElementNode && n.DataAtom == atom.Body {
			body = n
		}
	})
	if body == nil {
		return nil
	}
	return d.wrap(body)
}

// QuerySelector implements dom.Document.
func (d *Document) QuerySelector(sel string) (dom.Element, error) {
	nodes, err := d.query(sel, true)
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	return d.wrap(nodes[0]), nil
}

// QuerySelectorAll implements dom.Document.
func (d *Document) QuerySelectorAll(sel string) ([]dom.Element, error) {
	nodes, err := d.query(sel, false)
	if err != nil {
		return nil, err
	}
	out := make([]dom.Element, len(nodes))
	for i, n := range nodes {
		out[i] = d.wrap(n)
	}
	return out, nil
}

func (d *Document) query(src string, first bool) ([]*html.Node, error) {
	sel, err := compileSelector(src)
	if err != nil {
		return nil, err
	}
	var out []*html.Node
	walk(d.root, func(n *html.Node) {
		if first && len(out) > 0 {
			return
		}
		if sel.matches(n) {
			out = append(out, n)
		}
	})
	return out, nil
}

// EvaluateXPath implements dom.Document.
func (d *Document) EvaluateXPath(path string) (dom.Element, error) {
	xp, err := compileXPath(path)
	if err != nil {
		return nil, err
	}
	nodes := xp.evaluate(d.root)
	if len(nodes) == 0 {
		return nil, nil
	}
	return d.wrap(nodes[0]), nil
}

// GetElementByID implements dom.Document.
func (d *Document) GetElementByID(id string) dom.Element {
	var found *html.Node
	walk(d.root, func(n *html.Node) {
		if found == nil && n.Type == html.ElementNode && getAttr(n, "id") == id {
			found = n
		}
	})
	if found == nil {
		return nil
	}
	return d.wrap(found)
}

// CreateElement implements dom.Document.
func (d *Document) CreateElement(tag string, attrs map[string]string, inner string) (dom.Element, error) {
	tag = strings.ToLower(tag)
	n := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
	for k, v := range attrs {
		n.Attr = append(n.Attr, html.Attribute{Key: k, Val: v})
	}
	if inner != "" {
		frag, err := html.ParseFragment(strings.NewReader(inner), &html.Node{
			Type: html.ElementNode, Data: "div", DataAtom: atom.Div,
		})
		if err != nil {
			return nil, fmt.Errorf("memdom: parse fragment: %w", err)
		}
		for _, c := range frag {
			n.AppendChild(c)
		}
	}
	return d.wrap(n), nil
}

// Insert parses src and appends it under the first match of parentSel.
func (d *Document) Insert(parentSel, src string) error {
	parent, err := d.QuerySelector(parentSel)
	if err != nil {
		return err
	}
	if parent == nil {
		return fmt.Errorf("memdom: no parent matches %q", parentSel)
	}
	pn := parent.(*Element).node
	frag, err := html.ParseFragment(strings.NewReader(src), pn)
	if err != nil {
		return fmt.Errorf("memdom: parse fragment: %w", err)
	}
	for _, c := range frag {
		pn.AppendChild(c)
	}
	d.changed()
	return nil
}

// RemoveAll detaches every element matching sel and returns how many.
func (d *Document) RemoveAll(sel string) (int, error) {
	nodes, err := d.query(sel, false)
	if err != nil {
		return 0, err
	}
	for _, n := range nodes {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}
	if len(nodes) > 0 {
		d.changed()
	}
	return len(nodes), nil
}

// SetRect fixes the layout box reported for elements matching sel.
func (d *Document) SetRect(sel string, r dom.Rect) error {
	nodes, err := d.query(sel, false)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		d.rects[n] = r
	}
	return nil
}

// HTML renders the current document.
func (d *Document) HTML() string {
	var b strings.Builder
	html.Render(&b, d.root)
	return b.String()
}

// Listeners reports the number of live listeners in the document.
func (d *Document) Listeners() int {
	n := 0
	for _, ls := range d.listeners {
		n += len(ls)
	}
	return n
}

// Subscribers reports the number of change subscribers.
func (d *Document) Subscribers() int { return d.hub.Len() }

func (d *Document) wrap(n *html.Node) *Element {
	if e, ok := d.elems[n]; ok {
		return e
	}
	e := &Element{doc: d, node: n}
	d.elems[n] = e
	return e
}

func (d *Document) connected(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == d.root {
			return true
		}
	}
	return false
}
