package tour

import (
	"fmt"
	"time"

	"github.com/sable-inc/sable-smart-links-sub000/dom"
	"github.com/sable-inc/sable-smart-links-sub000/locator"
)

// ActionKind is a scripted interaction performed after a step is shown.
type ActionKind string

const (
	ActionClick  ActionKind = "click"
	ActionInput  ActionKind = "input"
	ActionFocus  ActionKind = "focus"
	ActionHover  ActionKind = "hover"
	ActionCustom ActionKind = "custom"
)

// Action scripts a UI interaction on the step target, or on Selector.
type Action struct {
	Kind     ActionKind `yaml:"kind" json:"kind"`
	Selector string     `yaml:"selector" json:"selector,omitempty"`
	Value    string     `yaml:"value" json:"value,omitempty"`
	// Typing emits one input event per character, Interval apart, instead of
	// setting the value at once and emitting a single change event.
	Typing   bool          `yaml:"typing" json:"typing,omitempty"`
	Interval time.Duration `yaml:"interval" json:"interval,omitempty"`
	// Run implements ActionCustom.
	Run func(ActionContext) error `yaml:"-" json:"-"`
}

// ActionContext is passed to custom actions.
type ActionContext struct {
	Document dom.Document
	Target   dom.Element
	TourID   string
	StepID   string
}

func (e *Engine) perform(r *stepRun, a *Action) {
	el := r.target
	if a.Selector != "" {
		el = e.loc.Find(locator.Target{Selector: a.Selector})
	}
	if el == nil && a.Kind != ActionCustom {
		e.logger.Warn("tour: action target missing", "step", r.step.ID, "action", string(a.Kind))
		return
	}

	var err error
	switch a.Kind {
	case ActionClick:
		err = el.Click()
	case ActionFocus:
		err = el.Focus()
	case ActionHover:
		err = el.Hover()
	case ActionInput:
		if a.Typing {
			err = e.typeInto(r, el, a)
		} else if err = el.SetValue(a.Value); err == nil {
			err = el.Dispatch(dom.Event{Type: dom.EventChange, Value: a.Value})
		}
	case ActionCustom:
		if a.Run == nil {
			err = fmt.Errorf("custom action without Run")
			break
		}
		err = runCustom(a.Run, ActionContext{Document: e.doc, Target: el, TourID: e.inst.tour.ID, StepID: r.step.ID})
	default:
		err = fmt.Errorf("unknown action %q", a.Kind)
	}
	if err != nil {
		e.logger.Warn("tour: action failed", "step", r.step.ID, "action", string(a.Kind), "error", err)
	}
}

func runCustom(fn func(ActionContext) error, ac ActionContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("custom action panicked: %v", r)
		}
	}()
	return fn(ac)
}

// typeInto clears el and types a.Value one character per interval. The
// first character lands immediately; the rest are step-owned timers.
func (e *Engine) typeInto(r *stepRun, el dom.Element, a *Action) error {
	interval := a.Interval
	if interval <= 0 {
		interval = e.timing.TypingInterval
	}
	if err := el.SetValue(""); err != nil {
		return err
	}
	chars := []rune(a.Value)
	var typeAt func(i int)
	typeAt = func(i int) {
		if !e.live(r) || i >= len(chars) {
			return
		}
		v := string(chars[:i+1])
		if err := el.SetValue(v); err != nil {
			e.logger.Warn("tour: typing interrupted", "step", r.step.ID, "error", err)
			return
		}
		if err := el.Dispatch(dom.Event{Type: dom.EventInput, Value: v}); err != nil {
			e.logger.Warn("tour: typing interrupted", "step", r.step.ID, "error", err)
			return
		}
		if i+1 < len(chars) {
			r.hold(e.sched.After(interval, func() { typeAt(i + 1) }))
		}
	}
	typeAt(0)
	return nil
}
