// Package locator resolves declarative step targets to live elements.
package locator

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sable-inc/sable-smart-links-sub000/dom"
	"github.com/sable-inc/sable-smart-links-sub000/loop"
)

// ErrElementNotFound is reported by WaitFor when the target never resolved
// within the timeout.
var ErrElementNotFound = errors.New("locator: element not found")

// DefaultTimeout bounds WaitFor when the caller passes zero.
const DefaultTimeout = 10 * time.Second

// Finder is a caller-supplied resolver tried after every built-in strategy.
type Finder func(doc dom.Document) dom.Element

// Target describes what a step points at.
type Target struct {
	Selector string
	Finder   Finder
}

// String renders the target for logs.
func (t Target) String() string {
	if t.Selector != "" {
		return t.Selector
	}
	if t.Finder != nil {
		return "<finder>"
	}
	return "<none>"
}

// Empty reports whether the target names nothing.
func (t Target) Empty() bool { return t.Selector == "" && t.Finder == nil }

// Locator resolves targets against one document.
type Locator struct {
	doc    dom.Document
	sched  loop.Scheduler
	logger *slog.Logger
}

// New creates a Locator.
func New(doc dom.Document, sched loop.Scheduler, logger *slog.Logger) *Locator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locator{doc: doc, sched: sched, logger: logger}
}

// Find resolves t, trying in order: CSS selector, XPath (when the selector
// looks like a path), element id, then the custom finder. A malformed
// selector counts as not found. Find never panics on a finder's behalf.
func (l *Locator) Find(t Target) (el dom.Element) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Warn("locator: finder panicked", "target", t.String(), "panic", r)
			el = nil
		}
	}()

	if sel := strings.TrimSpace(t.Selector); sel != "" {
		if e, err := l.doc.QuerySelector(sel); err == nil && e != nil {
			return e
		}
		if looksLikePath(sel) {
			if e, err := l.doc.EvaluateXPath(sel); err == nil && e != nil {
				return e
			}
		}
		if id := strings.TrimPrefix(sel, "#"); isPlainID(id) {
			if e := l.doc.GetElementByID(id); e != nil {
				return e
			}
		}
	}
	if t.Finder != nil {
		if e := t.Finder(l.doc); e != nil {
			return e
		}
	}
	return nil
}

// FindAll returns every CSS match for selector. When CSS matches nothing it
// falls back like Find: the first XPath match for path-like selectors, then
// the element id. Malformed selectors match nothing.
func (l *Locator) FindAll(selector string) []dom.Element {
	sel := strings.TrimSpace(selector)
	if sel == "" {
		return nil
	}
	if els, err := l.doc.QuerySelectorAll(sel); err == nil && len(els) > 0 {
		return els
	}
	if looksLikePath(sel) {
		if e, err := l.doc.EvaluateXPath(sel); err == nil && e != nil {
			return []dom.Element{e}
		}
	}
	if id := strings.TrimPrefix(sel, "#"); isPlainID(id) {
		if e := l.doc.GetElementByID(id); e != nil {
			return []dom.Element{e}
		}
	}
	return nil
}

// WaitFor calls done with the element as soon as t resolves, re-checking on
// every document change batch. If timeout elapses first done receives
// ErrElementNotFound. done runs at most once, and never after cancel.
func (l *Locator) WaitFor(t Target, timeout time.Duration, done func(dom.Element, error)) loop.Cancel {
	if el := l.Find(t); el != nil {
		done(el, nil)
		return loop.Noop
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	w := &wait{}
	w.unsubscribe = l.doc.OnChange(func() {
		if w.finished {
			return
		}
		if el := l.Find(t); el != nil {
			w.finish()
			done(el, nil)
		}
	})
	w.stopTimer = l.sched.After(timeout, func() {
		if w.finished {
			return
		}
		w.finish()
		l.logger.Debug("locator: wait timed out", "target", t.String(), "timeout", timeout)
		done(nil, fmt.Errorf("%w: %s after %s", ErrElementNotFound, t.String(), timeout))
	})
	return w.finish
}

type wait struct {
	finished    bool
	unsubscribe func()
	stopTimer   loop.Cancel
}

func (w *wait) finish() {
	if w.finished {
		return
	}
	w.finished = true
	if w.unsubscribe != nil {
		w.unsubscribe()
	}
	if w.stopTimer != nil {
		w.stopTimer()
	}
}

func looksLikePath(s string) bool {
	return strings.HasPrefix(s, "/") || strings.HasPrefix(s, "./") || strings.HasPrefix(s, "(")
}

func isPlainID(s string) bool {
	if s == "" {
		return false
	}
	return !strings.ContainsAny(s, " .[]>/:,()*=\"'")
}
