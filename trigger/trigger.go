// Package trigger arms the DOM conditions a step waits for before it is
// shown: the first keystroke in a field, a pause in typing, or a press on
// any of a set of buttons.
//
// Every arm follows Idle -> Armed -> Fired | Cancelled and fires at most
// once. Arms whose target is missing retry resolution on a fixed interval.
package trigger

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/sable-inc/sable-smart-links-sub000/dom"
	"github.com/sable-inc/sable-smart-links-sub000/locator"
	"github.com/sable-inc/sable-smart-links-sub000/loop"
)

// Kind selects the condition a trigger waits for.
type Kind string

const (
	None        Kind = ""
	TypingStart Kind = "typing_start"
	TypingStop  Kind = "typing_stop"
	ButtonPress Kind = "button_press"
)

// Defaults.
const (
	DefaultDebounce      = 1000 * time.Millisecond
	DefaultRetryInterval = 500 * time.Millisecond
	DefaultPressEvent    = dom.EventClick
)

// Spec declares a step trigger.
type Spec struct {
	Kind Kind `yaml:"kind" json:"kind"`
	// Selector names the element(s) to listen on. Typing triggers fall back to
	// the step target when empty.
	Selector string `yaml:"selector" json:"selector,omitempty"`
	// Event overrides the DOM event for ButtonPress. Default: click.
	Event string `yaml:"event" json:"event,omitempty"`
	// Debounce is the quiet window for TypingStop. Default: 1s.
	Debounce time.Duration `yaml:"debounce" json:"debounce,omitempty"`
}

// Validate reports a malformed spec.
func (s Spec) Validate() error {
	switch s.Kind {
	case None:
		return nil
	case TypingStart, TypingStop:
		return nil
	case ButtonPress:
		if s.Selector == "" {
			return fmt.Errorf("trigger: %s requires a selector", s.Kind)
		}
		return nil
	default:
		return fmt.Errorf("trigger: unknown kind %q", s.Kind)
	}
}

// State of an arm.
type State int

const (
	Idle State = iota
	Armed
	Fired
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Fired:
		return "fired"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Detector arms triggers against one document.
type Detector struct {
	doc    dom.Document
	sched  loop.Scheduler
	loc    *locator.Locator
	logger *slog.Logger

	// RetryInterval is how often an unresolved target is looked up again.
	RetryInterval time.Duration
}

// New creates a Detector.
func New(doc dom.Document, sched loop.Scheduler, loc *locator.Locator, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		doc:           doc,
		sched:         sched,
		loc:           loc,
		logger:        logger,
		RetryInterval: DefaultRetryInterval,
	}
}

// Arm starts waiting for spec. fallback is the step target, used by typing
// triggers that name no selector of their own. fire runs at most once.
// An arm with Kind None fires immediately.
func (d *Detector) Arm(spec Spec, fallback locator.Target, fire func()) *Arm {
	a := &Arm{d: d, spec: spec, fallback: fallback, fire: fire}
	if spec.Kind == None {
		a.state = Armed
		a.trip()
		return a
	}
	if err := spec.Validate(); err != nil {
		d.logger.Warn("trigger: invalid spec, never fires", "error", err)
		a.state = Armed
		return a
	}
	a.attach()
	return a
}

// Arm is one armed trigger.
type Arm struct {
	d        *Detector
	spec     Spec
	fallback locator.Target
	fire     func()

	state    State
	removers []func()
	retry    loop.Cancel
	debounce loop.Cancel
	unwatch  func()
	attached []dom.Element
}

// State reports where the arm is in its lifecycle.
func (a *Arm) State() State { return a.state }

// Cancel tears the arm down. Idempotent; a no-op after the arm fired.
func (a *Arm) Cancel() {
	if a.state == Fired || a.state == Cancelled {
		return
	}
	a.state = Cancelled
	a.release()
}

// Listeners reports how many DOM listeners the arm currently holds.
func (a *Arm) Listeners() int { return len(a.removers) }

func (a *Arm) attach() {
	if a.state == Fired || a.state == Cancelled {
		return
	}
	els := a.resolve()
	if len(els) == 0 {
		a.state = Idle
		a.retry = a.d.sched.After(a.d.RetryInterval, func() {
			a.retry = nil
			a.attach()
		})
		return
	}

	switch a.spec.Kind {
	case TypingStart:
		el := els[0]
		a.listen(el, dom.EventInput, func(ev dom.Event) {
			if ev.Value != "" {
				a.trip()
			}
		})
	case TypingStop:
		el := els[0]
		window := a.spec.Debounce
		if window <= 0 {
			window = DefaultDebounce
		}
		a.listen(el, dom.EventInput, func(dom.Event) {
			if a.debounce != nil {
				a.debounce()
			}
			a.debounce = a.d.sched.After(window, func() {
				a.debounce = nil
				a.trip()
			})
		})
	case ButtonPress:
		event := a.spec.Event
		if event == "" {
			event = DefaultPressEvent
		}
		for _, el := range els {
			a.listen(el, event, func(dom.Event) { a.trip() })
		}
	}
	a.state = Armed

	// A host re-render can replace the elements we listen on; start over
	// when none of them is attached any more.
	a.unwatch = a.d.doc.OnChange(func() {
		if a.state != Armed {
			return
		}
		for _, el := range a.attached {
			if el.Connected() {
				return
			}
		}
		a.d.logger.Debug("trigger: targets detached, re-arming", "kind", string(a.spec.Kind))
		a.release()
		a.attach()
	})
}

func (a *Arm) resolve() []dom.Element {
	switch a.spec.Kind {
	case ButtonPress:
		return a.d.loc.FindAll(a.spec.Selector)
	default:
		t := a.fallback
		if a.spec.Selector != "" {
			t = locator.Target{Selector: a.spec.Selector}
		}
		if t.Empty() {
			return nil
		}
		if el := a.d.loc.Find(t); el != nil {
			return []dom.Element{el}
		}
		return nil
	}
}

func (a *Arm) listen(el dom.Element, event string, fn func(dom.Event)) {
	a.removers = append(a.removers, el.Listen(event, fn))
	a.attached = append(a.attached, el)
}

func (a *Arm) trip() {
	if a.state != Armed {
		return
	}
	a.state = Fired
	a.release()
	if a.fire != nil {
		a.fire()
	}
}

// release drops every listener, watcher and timer held by the arm.
func (a *Arm) release() {
	for _, rm := range a.removers {
		rm()
	}
	a.removers = nil
	a.attached = nil
	if a.unwatch != nil {
		a.unwatch()
		a.unwatch = nil
	}
	if a.retry != nil {
		a.retry()
		a.retry = nil
	}
	if a.debounce != nil {
		a.debounce()
		a.debounce = nil
	}
}
