package tour

import (
	"github.com/sable-inc/sable-smart-links-sub000/dom"
	"github.com/sable-inc/sable-smart-links-sub000/loop"
	"github.com/sable-inc/sable-smart-links-sub000/overlay"
	"github.com/sable-inc/sable-smart-links-sub000/trigger"
)

type direction int

const (
	forward direction = iota
	backward
)

// stepRun owns everything a displayed or pending step holds. teardown
// releases it all exactly once; callbacks check live() before touching
// engine state, so a callback from a superseded step does nothing.
type stepRun struct {
	gen     uint64
	index   int
	step    *Step
	target  dom.Element
	handle  *overlay.Handle
	arm     *trigger.Arm // the step's own trigger
	advance *trigger.Arm // the following step's trigger, armed while shown
	cancels []loop.Cancel
	done    bool
}

func (r *stepRun) hold(c loop.Cancel) {
	if c != nil {
		r.cancels = append(r.cancels, c)
	}
}

func (r *stepRun) teardown() {
	if r.done {
		return
	}
	r.done = true
	for _, c := range r.cancels {
		c()
	}
	r.cancels = nil
	if r.arm != nil {
		r.arm.Cancel()
	}
	if r.advance != nil {
		r.advance.Cancel()
	}
	if r.handle != nil {
		r.handle.Unmount()
		r.handle = nil
	}
}

func (e *Engine) live(r *stepRun) bool { return e.run == r && !r.done }

// runStep executes step index: wait for the target, wait for the trigger,
// evaluate the condition, show, act, and schedule auto-advance.
func (e *Engine) runStep(index int, skipTrigger bool, dir direction) {
	if e.run != nil {
		e.run.teardown()
	}
	e.gen++
	reg := e.inst.tour
	r := &stepRun{gen: e.gen, index: index, step: &reg.Steps[index]}
	e.run = r
	st := r.step

	if st.Target != nil && st.Target.WaitForElement {
		timeout := st.Target.Timeout
		if timeout <= 0 {
			timeout = e.timing.WaitTimeout
		}
		r.hold(e.loc.WaitFor(st.Target.locator(), timeout, func(el dom.Element, err error) {
			if !e.live(r) {
				return
			}
			if err != nil {
				e.stepFailed(r, dir, err)
				return
			}
			r.target = el
			e.awaitTrigger(r, skipTrigger, dir)
		}))
		return
	}
	if st.Target != nil {
		r.target = e.loc.Find(st.Target.locator())
	}
	e.awaitTrigger(r, skipTrigger, dir)
}

func (e *Engine) stepFailed(r *stepRun, dir direction, err error) {
	inst := e.inst
	e.recorder.Record(Event{
		Type: EventStepFailed, TourID: inst.tour.ID, InstanceID: inst.id,
		StepID: r.step.ID, StepIndex: r.index, At: e.sched.Now(), Reason: err.Error(),
	})
	if r.step.ContinueOnError {
		e.logger.Warn("tour: step target missing, continuing", "tour", inst.tour.ID, "step", r.step.ID, "error", err)
		e.skip(r, dir)
		return
	}
	e.logger.Warn("tour: step target missing, ending tour", "tour", inst.tour.ID, "step", r.step.ID, "error", err)
	e.finish(false, "element_not_found")
}

func (e *Engine) awaitTrigger(r *stepRun, skipTrigger bool, dir direction) {
	if skipTrigger || r.step.Trigger.Kind == trigger.None {
		r.hold(e.sched.After(e.timing.SettleDelay, func() {
			if e.live(r) {
				e.present(r, dir)
			}
		}))
		return
	}
	r.arm = e.detector.Arm(r.step.Trigger, r.step.Target.locator(), func() {
		if e.live(r) {
			e.present(r, dir)
		}
	})
}

// present evaluates the condition and, when it holds, shows the step.
func (e *Engine) present(r *stepRun, dir direction) {
	inst := e.inst
	reg := inst.tour
	st := r.step

	if st.Target != nil && (r.target == nil || !r.target.Connected()) {
		r.target = e.loc.Find(st.Target.locator())
	}

	ok, err := e.condition(r)
	if err != nil {
		e.logger.Warn("tour: condition failed, skipping step", "tour", reg.ID, "step", st.ID, "error", err)
	}
	if !ok {
		e.recorder.Record(Event{
			Type: EventStepSkipped, TourID: reg.ID, InstanceID: inst.id,
			StepID: st.ID, StepIndex: r.index, At: e.sched.Now(),
		})
		e.logger.Debug("tour: step skipped by condition", "tour", reg.ID, "step", st.ID)
		e.skip(r, dir)
		return
	}

	view := View{Tour: reg.ID, Step: st, Index: r.index, Count: len(reg.Steps), Content: e.content(r.index)}
	r.handle = e.overlays.Show(e.render(view, e.handleAction(inst, false)), overlay.Options{Target: r.target})
	if r.handle == nil {
		e.logger.Warn("tour: overlay not shown", "tour", reg.ID, "step", st.ID)
	}
	if r.handle != nil && st.Target != nil {
		r.hold(e.doc.OnChange(func() { e.reposition(r) }))
	}

	now := e.sched.Now()
	dwell := now.Sub(inst.startedAt)
	if !inst.lastShown.IsZero() {
		dwell = now.Sub(inst.lastShown)
	}
	inst.lastShown = now
	inst.shown[st.ID] = now
	inst.rendered = true
	e.recorder.Record(Event{
		Type: EventStepShown, TourID: reg.ID, InstanceID: inst.id,
		StepID: st.ID, StepIndex: r.index, At: now, Dwell: dwell,
	})
	e.logger.Debug("tour: step shown", "tour", reg.ID, "step", st.ID, "index", r.index)
	e.notify()
	if !e.live(r) {
		return
	}

	if st.Action != nil {
		e.perform(r, st.Action)
		if !e.live(r) {
			return
		}
	}
	if st.AutoAdvance > 0 {
		r.hold(e.sched.After(st.AutoAdvance, func() {
			if e.live(r) {
				e.Next()
			}
		}))
	}
	e.armAdvance(r)
}

// armAdvance arms the trigger of the step that follows r, so that the user
// doing what that step waits for moves the tour on.
func (e *Engine) armAdvance(r *stepRun) {
	next := e.following(r.index)
	reg := e.inst.tour
	if next >= len(reg.Steps) {
		return
	}
	ns := &reg.Steps[next]
	if ns.Trigger.Kind == trigger.None {
		return
	}
	r.advance = e.detector.Arm(ns.Trigger, ns.Target.locator(), func() {
		if e.live(r) {
			e.next(true)
		}
	})
}

// skip moves past r without the inter-step delay, in the direction of travel.
// Going backward from the first step turns around.
func (e *Engine) skip(r *stepRun, dir direction) {
	inst := e.inst
	e.leaveStep()
	if dir == backward {
		if prev := e.back(); prev >= 0 {
			inst.index = prev
			e.notify()
			e.runStep(prev, true, backward)
			return
		}
	}
	target := e.following(r.index)
	if target >= len(inst.tour.Steps) {
		if inst.tour.Config.Final != nil && !inst.finalShown {
			e.showFinal()
			return
		}
		e.finish(true, "completed")
		return
	}
	inst.index = target
	e.notify()
	e.runStep(target, false, forward)
}

func (e *Engine) condition(r *stepRun) (bool, error) {
	inst := e.inst
	prog := inst.tour.conditions[r.index]
	if prog == nil && r.step.When == nil {
		return true, nil
	}
	env := newEnv(e.doc.URL(), inst.tour.ID, r.step.ID, r.index, func(sel string) bool {
		return len(e.loc.FindAll(sel)) > 0
	})
	ok, err := evalCondition(prog, env)
	if err != nil || !ok {
		return false, err
	}
	if r.step.When != nil {
		return r.step.When(env), nil
	}
	return true, nil
}

func (e *Engine) reposition(r *stepRun) {
	if !e.live(r) || r.handle == nil {
		return
	}
	if r.target == nil || !r.target.Connected() {
		r.target = e.loc.Find(r.step.Target.locator())
		if r.target == nil {
			return
		}
	}
	rect, err := r.target.Rect()
	if err != nil {
		return
	}
	r.handle.UpdatePosition(rect)
}
