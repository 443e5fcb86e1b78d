// Package roddom drives a live Chrome page through go-rod as a dom.Document.
//
// The page side is the embedded bridge.js, installed on every new
// document. It reports mutations, listened events and navigation through a
// runtime binding; the Go side re-posts them onto the engine's scheduler.
// Load events come from CDP Page.loadEventFired.
//
// Calls on Document and Element are blocking CDP round trips made from the
// scheduler goroutine.
package roddom

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/sable-inc/sable-smart-links-sub000/dom"
	"github.com/sable-inc/sable-smart-links-sub000/loop"
)

//go:embed bridge.js
var bridgeJS string

var (
	_ dom.Document  = (*Document)(nil)
	_ dom.Navigator = (*Document)(nil)
	_ dom.Element   = (*Element)(nil)
)

// Document is a dom.Document and dom.Navigator over a rod page.
type Document struct {
	page   *rod.Page
	sched  loop.Scheduler
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	hub *dom.Hub
	url string
	// viewport is the last size read from the page.
	viewport dom.Rect

	listeners    map[int]*listener
	nextListener int
	navSubs      map[int]func(dom.Navigation)
	navNext      int

	removeScript func() error
}

type listener struct {
	el *Element
	fn func(dom.Event)
}

// Attach installs the bridge on page and starts relaying its messages to
// sched. Close detaches.
func Attach(page *rod.Page, sched loop.Scheduler, logger *slog.Logger) (*Document, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Document{
		page:      page,
		sched:     sched,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		hub:       dom.NewHub(),
		viewport:  dom.Rect{Width: 1280, Height: 800},
		listeners: make(map[int]*listener),
		navSubs:   make(map[int]func(dom.Navigation)),
	}

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(page); err != nil {
		logger.Warn("roddom: addBinding failed (may already exist)", "error", err)
	}
	remove, err := page.EvalOnNewDocument(bridgeJS)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("roddom: install bridge: %w", err)
	}
	d.removeScript = remove
	// The document already loaded did not get the new-document script.
	if _, err := (proto.RuntimeEvaluate{Expression: bridgeJS}).Call(page); err != nil {
		logger.Warn("roddom: inject bridge into current document", "error", err)
	}
	d.url = d.currentURL()

	wait := page.Context(ctx).EachEvent(
		func(e *proto.RuntimeBindingCalled) {
			if e.Name != bindingName {
				return
			}
			m, err := parseMessage(e.Payload)
			if err != nil {
				logger.Warn("roddom: bad binding message", "error", err)
				return
			}
			sched.Post(func() { d.handle(m) })
		},
		func(e *proto.PageLoadEventFired) {
			sched.Post(d.loaded)
		},
	)
	go wait()

	logger.Debug("roddom: attached", "url", d.url)
	return d, nil
}

// Close stops relaying page messages and removes the new-document script.
func (d *Document) Close() error {
	d.cancel()
	if d.removeScript != nil {
		return d.removeScript()
	}
	return nil
}

// Page returns the underlying rod page.
func (d *Document) Page() *rod.Page { return d.page }

func (d *Document) handle(m message) {
	switch m.Kind {
	case kindMutation:
		d.hub.Notify()
	case kindEvent:
		l, ok := d.listeners[m.ID]
		if !ok {
			return
		}
		var target dom.Element = l.el
		if m.Target > 0 {
			if t, err := d.take(m.Target); err == nil && t != nil {
				target = t
			}
		}
		l.fn(dom.Event{Type: m.Type, Target: target, Value: m.Value})
	case kindNavigate:
		kind, _ := navKind(m.Nav)
		switch kind {
		case dom.NavPush, dom.NavReplace, dom.NavPopState:
			d.url = m.URL
		}
		d.emitNav(dom.Navigation{Kind: kind, URL: m.URL})
	}
}

// loaded runs on the scheduler after a new document finished loading.
// Listeners of the previous document died with it.
func (d *Document) loaded() {
	d.listeners = make(map[int]*listener)
	d.url = d.currentURL()
	d.logger.Debug("roddom: document loaded", "url", d.url)
	d.emitNav(dom.Navigation{Kind: dom.NavLoad, URL: d.url})
	d.hub.Notify()
}

func (d *Document) currentURL() string {
	info, err := d.page.Context(d.ctx).Info()
	if err != nil {
		d.logger.Warn("roddom: page info", "error", err)
		return d.url
	}
	return info.URL
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

// URL implements dom.Document.
func (d *Document) URL() string { return d.url }

// OnChange implements dom.Document.
func (d *Document) OnChange(fn func()) func() { return d.hub.Subscribe(fn) }

// Body implements dom.Document.
func (d *Document) Body() dom.Element {
	el, err := d.evalElement(`() => document.body`)
	if err != nil {
		d.logger.Warn("roddom: body", "error", err)
		return nil
	}
	return el
}

// QuerySelector implements dom.Document.
func (d *Document) QuerySelector(selector string) (dom.Element, error) {
	return d.evalElement(`(s) => document.querySelector(s)`, selector)
}

// QuerySelectorAll implements dom.Document.
func (d *Document) QuerySelectorAll(selector string) ([]dom.Element, error) {
	els, err := d.page.Context(d.ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("roddom: query %q: %w", selector, err)
	}
	return d.wrapAll(els), nil
}

// EvaluateXPath implements dom.Document.
func (d *Document) EvaluateXPath(path string) (dom.Element, error) {
	els, err := d.page.Context(d.ctx).ElementsX(path)
	if err != nil {
		return nil, fmt.Errorf("roddom: xpath %q: %w", path, err)
	}
	if len(els) == 0 {
		return nil, nil
	}
	return d.wrap(els[0]), nil
}

// GetElementByID implements dom.Document.
func (d *Document) GetElementByID(id string) dom.Element {
	el, err := d.evalElement(`(id) => document.getElementById(id)`, id)
	if err != nil {
		return nil
	}
	return el
}

// CreateElement implements dom.Document.
func (d *Document) CreateElement(tag string, attrs map[string]string, html string) (dom.Element, error) {
	if attrs == nil {
		attrs = map[string]string{}
	}
	el, err := d.evalElement(`(tag, attrs, html) => {
		const e = document.createElement(tag);
		for (const [k, v] of Object.entries(attrs)) e.setAttribute(k, v);
		e.innerHTML = html;
		return e;
	}`, tag, attrs, html)
	if err != nil {
		return nil, err
	}
	if el == nil {
		return nil, fmt.Errorf("roddom: create %s: no element", tag)
	}
	return el, nil
}

// Viewport implements dom.Document.
func (d *Document) Viewport() dom.Rect {
	res, err := d.page.Context(d.ctx).Eval(`() => ({width: window.innerWidth, height: window.innerHeight})`)
	if err != nil {
		d.logger.Debug("roddom: viewport", "error", err)
		return d.viewport
	}
	d.viewport = dom.Rect{Width: res.Value.Get("width").Num(), Height: res.Value.Get("height").Num()}
	return d.viewport
}

// take resolves an event target stashed by bridge.js.
func (d *Document) take(n int) (dom.Element, error) {
	return d.evalElement(`(n) => window.__tourguide ? window.__tourguide.take(n) : null`, n)
}

// evalElement runs js in the page and wraps the node it returns. A null
// result is (nil, nil).
func (d *Document) evalElement(js string, args ...any) (dom.Element, error) {
	page := d.page.Context(d.ctx)
	obj, err := page.Evaluate(rod.Eval(js, args...).ByObject())
	if err != nil {
		return nil, fmt.Errorf("roddom: eval: %w", err)
	}
	if obj == nil || obj.ObjectID == "" || obj.Subtype == proto.RuntimeRemoteObjectSubtypeNull {
		return nil, nil
	}
	el, err := page.ElementFromObject(obj)
	if err != nil {
		return nil, fmt.Errorf("roddom: element from object: %w", err)
	}
	return d.wrap(el), nil
}

func (d *Document) wrap(el *rod.Element) *Element {
	return &Element{doc: d, el: el}
}

func (d *Document) wrapAll(els rod.Elements) []dom.Element {
	out := make([]dom.Element, len(els))
	for i, el := range els {
		out[i] = d.wrap(el)
	}
	return out
}

func (d *Document) listen(e *Element, eventType string, fn func(dom.Event)) func() {
	d.nextListener++
	id := d.nextListener
	d.listeners[id] = &listener{el: e, fn: fn}
	if _, err := e.el.Eval(`(type, id) => window.__tourguide && window.__tourguide.listen(this, type, id)`, eventType, id); err != nil {
		d.logger.Warn("roddom: listen", "type", eventType, "error", err)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			delete(d.listeners, id)
			if _, err := d.page.Context(d.ctx).Eval(`(id) => window.__tourguide && window.__tourguide.unlisten(id)`, id); err != nil {
				d.logger.Debug("roddom: unlisten", "error", err)
			}
		})
	}
}
