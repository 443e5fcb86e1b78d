// Package tour is the tour orchestration engine: a registry of tours, the
// single running instance, and the per-step runtime that resolves targets,
// arms triggers, shows overlays, performs scripted actions and advances.
//
// The engine is confined to one loop.Scheduler. Every public method must be
// called on it; control surfaces use loop.Loop.Do.
package tour

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/expr-lang/expr/vm"

	"github.com/sable-inc/sable-smart-links-sub000/dom"
	"github.com/sable-inc/sable-smart-links-sub000/idgen"
	"github.com/sable-inc/sable-smart-links-sub000/locator"
	"github.com/sable-inc/sable-smart-links-sub000/loop"
	"github.com/sable-inc/sable-smart-links-sub000/overlay"
	"github.com/sable-inc/sable-smart-links-sub000/storage"
	"github.com/sable-inc/sable-smart-links-sub000/trigger"
)

// ErrInvalidRegistration rejects a tour definition. The prior registration
// under the same id, if any, is kept.
var ErrInvalidRegistration = errors.New("tour: invalid registration")

// AutoStartedKeyPrefix prefixes the per-tour auto-started-once flag.
const AutoStartedKeyPrefix = "tourguide:autostarted:"

// Timing holds the engine delays. Zero fields take defaults.
type Timing struct {
	InterStepDelay time.Duration `yaml:"inter_step_delay"` // between Next and the following step; default 300ms
	SettleDelay    time.Duration `yaml:"settle_delay"`     // before showing a step without trigger; default 100ms
	WaitTimeout    time.Duration `yaml:"wait_timeout"`     // WaitForElement bound when the step sets none; default 10s
	TypingInterval time.Duration `yaml:"typing_interval"`  // per character of a typing action; default 50ms
	StoreTimeout   time.Duration `yaml:"store_timeout"`    // per storage call; default 2s
}

func (t *Timing) defaults() {
	if t.InterStepDelay <= 0 {
		t.InterStepDelay = 300 * time.Millisecond
	}
	if t.SettleDelay <= 0 {
		t.SettleDelay = 100 * time.Millisecond
	}
	if t.WaitTimeout <= 0 {
		t.WaitTimeout = locator.DefaultTimeout
	}
	if t.TypingInterval <= 0 {
		t.TypingInterval = 50 * time.Millisecond
	}
	if t.StoreTimeout <= 0 {
		t.StoreTimeout = 2 * time.Second
	}
}

// Renderer builds the overlay for a step. The default renders overlay.Box.
type Renderer func(v View, act func(action, value string)) overlay.Factory

// View is what a Renderer gets to draw.
type View struct {
	Tour    string
	Step    *Step // nil for the final screen
	Index   int
	Count   int
	Final   bool
	Content overlay.Content
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Scheduler loop.Scheduler
	Document  dom.Document
	// Overlays defaults to a coordinator over Document.
	Overlays *overlay.Coordinator
	// Store defaults to storage.NewMemory.
	Store    storage.Store
	Logger   *slog.Logger
	IDs      idgen.Generator
	Recorder Recorder
	Render   Renderer
	Timing   Timing
	// StrictStepIDs rejects steps without an explicit ID instead of deriving
	// "<tour>-step-<index>".
	StrictStepIDs bool
}

type registration struct {
	Tour
	conditions []*vm.Program
	index      map[string]int
	unwatch    loop.Cancel
}

// Engine runs at most one tour instance at a time.
type Engine struct {
	sched    loop.Scheduler
	doc      dom.Document
	overlays *overlay.Coordinator
	store    storage.Store
	logger   *slog.Logger
	ids      idgen.Generator
	recorder Recorder
	render   Renderer
	timing   Timing
	strict   bool

	loc      *locator.Locator
	detector *trigger.Detector

	tours map[string]*registration
	order []string

	inst    *instance
	run     *stepRun
	pending loop.Cancel
	gen     uint64

	listeners map[int]func(Status)
	nextLis   int

	autoStarted map[string]bool // per page
	onceStarted map[string]bool // AutoStartOnce tours, never reset
}

// New creates an Engine.
func New(d Deps) *Engine {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Overlays == nil {
		d.Overlays = overlay.NewCoordinator(d.Document, d.Logger)
	}
	if d.Store == nil {
		d.Store = storage.NewMemory()
	}
	if d.IDs == nil {
		d.IDs = idgen.Default
	}
	if d.Recorder == nil {
		d.Recorder = nopRecorder{}
	}
	if d.Render == nil {
		d.Render = boxRenderer(d.Document)
	}
	d.Timing.defaults()

	loc := locator.New(d.Document, d.Scheduler, d.Logger)
	return &Engine{
		sched:       d.Scheduler,
		doc:         d.Document,
		overlays:    d.Overlays,
		store:       d.Store,
		logger:      d.Logger,
		ids:         d.IDs,
		recorder:    d.Recorder,
		render:      d.Render,
		timing:      d.Timing,
		strict:      d.StrictStepIDs,
		loc:         loc,
		detector:    trigger.New(d.Document, d.Scheduler, loc, d.Logger),
		tours:       make(map[string]*registration),
		listeners:   make(map[int]func(Status)),
		autoStarted: make(map[string]bool),
		onceStarted: make(map[string]bool),
	}
}

// Overlays returns the engine's overlay coordinator.
func (e *Engine) Overlays() *overlay.Coordinator { return e.overlays }

// Locator returns the engine's element locator.
func (e *Engine) Locator() *locator.Locator { return e.loc }

// Register validates and stores a tour, replacing any prior registration
// under id. A running instance keeps the definition it started with.
func (e *Engine) Register(id string, steps []Step, cfg Config) error {
	reg, err := e.compile(id, steps, cfg)
	if err != nil {
		e.logger.Warn("tour: registration rejected", "tour", id, "error", err)
		return err
	}
	if prev, ok := e.tours[id]; ok {
		if prev.unwatch != nil {
			prev.unwatch()
		}
	} else {
		e.order = append(e.order, id)
	}
	e.tours[id] = reg
	e.logger.Debug("tour: registered", "tour", id, "steps", len(steps), "variant", string(reg.Config.Variant))
	e.watchAutoStart(reg)
	return nil
}

func (e *Engine) compile(id string, steps []Step, cfg Config) (*registration, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty tour id", ErrInvalidRegistration)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: tour %q has no steps", ErrInvalidRegistration, id)
	}
	switch cfg.Variant {
	case "":
		cfg.Variant = Linear
	case Linear, Branching:
	default:
		return nil, fmt.Errorf("%w: tour %q: unknown variant %q", ErrInvalidRegistration, id, cfg.Variant)
	}

	reg := &registration{
		Tour:       Tour{ID: id, Steps: append([]Step(nil), steps...), Config: cfg},
		conditions: make([]*vm.Program, len(steps)),
		index:      make(map[string]int, len(steps)),
	}
	for i := range reg.Steps {
		st := &reg.Steps[i]
		if st.ID == "" {
			if e.strict {
				return nil, fmt.Errorf("%w: tour %q step %d has no id", ErrInvalidRegistration, id, i)
			}
			st.ID = fmt.Sprintf("%s-step-%d", id, i)
			e.logger.Warn("tour: step id derived from index is deprecated", "tour", id, "step", st.ID)
		}
		if _, dup := reg.index[st.ID]; dup {
			return nil, fmt.Errorf("%w: tour %q: duplicate step id %q", ErrInvalidRegistration, id, st.ID)
		}
		reg.index[st.ID] = i
		if err := st.Trigger.Validate(); err != nil {
			return nil, fmt.Errorf("%w: tour %q step %q: %w", ErrInvalidRegistration, id, st.ID, err)
		}
		switch st.Trigger.Kind {
		case trigger.TypingStart, trigger.TypingStop:
			if st.Trigger.Selector == "" && st.Target.locator().Empty() {
				return nil, fmt.Errorf("%w: tour %q step %q: %s trigger has neither a selector nor a step target",
					ErrInvalidRegistration, id, st.ID, st.Trigger.Kind)
			}
		}
		prog, err := compileCondition(st.Condition)
		if err != nil {
			return nil, fmt.Errorf("%w: tour %q step %q: %w", ErrInvalidRegistration, id, st.ID, err)
		}
		reg.conditions[i] = prog
	}
	for _, st := range reg.Steps {
		if st.Next != "" {
			if _, ok := reg.index[st.Next]; !ok {
				return nil, fmt.Errorf("%w: tour %q step %q: unknown next %q", ErrInvalidRegistration, id, st.ID, st.Next)
			}
		}
		for _, c := range st.Choices {
			if _, ok := reg.index[c.Step]; !ok {
				return nil, fmt.Errorf("%w: tour %q step %q: unknown choice target %q", ErrInvalidRegistration, id, st.ID, c.Step)
			}
		}
	}
	return reg, nil
}

// Tours lists registered tour ids in registration order.
func (e *Engine) Tours() []string { return append([]string(nil), e.order...) }

// Tour returns a registered tour.
func (e *Engine) Tour(id string) (Tour, bool) {
	reg, ok := e.tours[id]
	if !ok {
		return Tour{}, false
	}
	return reg.Tour, true
}

// Start ends any running instance, then runs tour id from opts.StepID (or the
// first step). It reports false for an unknown tour.
func (e *Engine) Start(id string, opts StartOptions) bool {
	reg, ok := e.tours[id]
	if !ok {
		e.logger.Warn("tour: start: unknown tour", "tour", id)
		return false
	}
	index := 0
	if opts.StepID != "" {
		if i, ok := reg.index[opts.StepID]; ok {
			index = i
		} else {
			e.logger.Warn("tour: start: unknown step, starting at first", "tour", id, "step", opts.StepID)
		}
	}
	e.begin(reg, index, opts.SkipTrigger, "start")
	return true
}

// Restart is Start, and is the target of bus signals.
func (e *Engine) Restart(id string, opts StartOptions) bool {
	return e.Start(id, opts)
}

// Resume starts tour id directly at index without waiting for its trigger.
// Out-of-range indexes are rejected.
func (e *Engine) Resume(id string, index int) bool {
	reg, ok := e.tours[id]
	if !ok || index < 0 || index >= len(reg.Steps) {
		e.logger.Warn("tour: resume rejected", "tour", id, "index", index)
		return false
	}
	e.begin(reg, index, true, "resume")
	return true
}

func (e *Engine) begin(reg *registration, index int, skipTrigger bool, reason string) {
	if e.inst != nil {
		e.finish(false, "superseded")
	}
	// A tour that ran on this page is not auto-started again after it ends.
	e.autoStarted[reg.ID] = true
	now := e.sched.Now()
	e.inst = &instance{
		tour:      reg,
		id:        e.ids(),
		index:     index,
		startedAt: now,
		shown:     make(map[string]time.Time),
	}
	e.logger.Info("tour: started", "tour", reg.ID, "instance", e.inst.id, "step", reg.Steps[index].ID, "reason", reason)
	e.recorder.Record(Event{
		Type: EventTourStarted, TourID: reg.ID, InstanceID: e.inst.id,
		StepID: reg.Steps[index].ID, StepIndex: index, At: now, Reason: reason,
	})
	e.notify()
	e.runStep(index, skipTrigger, forward)
}

// Next leaves the current step. Past the last step it shows the final screen
// once, then ends. A Next during a pending inter-step delay cancels it and
// moves on again.
func (e *Engine) Next() { e.next(false) }

func (e *Engine) next(skipTrigger bool) {
	inst := e.inst
	if inst == nil {
		return
	}
	if inst.finalOpen {
		e.finish(true, "completed")
		return
	}
	e.leaveStep()

	target := e.following(inst.index)
	if target >= len(inst.tour.Steps) {
		if inst.tour.Config.Final != nil && !inst.finalShown {
			e.showFinal()
			return
		}
		e.finish(true, "completed")
		return
	}
	if inst.tour.Config.Variant == Branching {
		inst.history = append(inst.history, inst.index)
	}
	e.moveTo(target, skipTrigger, forward)
}

// Previous goes back one step (or along the branching history). It does nothing
// on the first step.
func (e *Engine) Previous() {
	inst := e.inst
	if inst == nil {
		return
	}
	if inst.finalOpen {
		e.closeFinal()
		e.moveTo(inst.index, true, backward)
		return
	}
	target := e.back()
	if target < 0 {
		return
	}
	e.leaveStep()
	e.moveTo(target, true, backward)
}

// back pops the step before the current one: the top of the branching
// history when there is one, the previous index otherwise. -1 means the
// current step is the first.
func (e *Engine) back() int {
	inst := e.inst
	if inst.tour.Config.Variant == Branching && len(inst.history) > 0 {
		prev := inst.history[len(inst.history)-1]
		inst.history = inst.history[:len(inst.history)-1]
		return prev
	}
	return inst.index - 1
}

// GoTo jumps to stepID in a running Branching tour.
func (e *Engine) GoTo(stepID string) bool {
	inst := e.inst
	if inst == nil {
		return false
	}
	if inst.tour.Config.Variant != Branching {
		e.logger.Warn("tour: goto requires a branching tour", "tour", inst.tour.ID)
		return false
	}
	target, ok := inst.tour.index[stepID]
	if !ok {
		e.logger.Warn("tour: goto: unknown step", "tour", inst.tour.ID, "step", stepID)
		return false
	}
	e.leaveStep()
	e.closeFinal()
	inst.history = append(inst.history, inst.index)
	e.moveTo(target, false, forward)
	return true
}

// End stops the running instance. A second End does nothing.
func (e *Engine) End() {
	if e.inst == nil {
		return
	}
	e.finish(false, "ended")
}

// Suspend drops the running instance without ending it: no completion
// callback, no analytics, no notification. Used when the page it ran on is
// gone and the instance will be resumed from a snapshot.
func (e *Engine) Suspend() {
	if e.inst == nil {
		return
	}
	e.logger.Debug("tour: suspended", "tour", e.inst.tour.ID, "step", e.inst.index)
	e.leaveStep()
	e.overlays.CloseActive()
	e.inst = nil
}

// Status reports the current state.
func (e *Engine) Status() Status {
	inst := e.inst
	if inst == nil {
		return Status{StepIndex: -1, HasOverlay: e.overlays.HasActive()}
	}
	st := inst.tour.Steps[inst.index]
	s := Status{
		Running:    true,
		TourID:     inst.tour.ID,
		InstanceID: inst.id,
		StepID:     st.ID,
		StepIndex:  inst.index,
		StepCount:  len(inst.tour.Steps),
		Rendered:   inst.rendered,
		FinalShown: inst.finalShown,
		FinalOpen:  inst.finalOpen,
		HasOverlay: e.overlays.HasActive(),
		StartedAt:  inst.startedAt,
		Content:    st.Overlay,
	}
	if inst.finalOpen {
		s.Content = *inst.tour.Config.Final
	}
	return s
}

// OnChange registers fn for every state change. The returned function
// unsubscribes.
func (e *Engine) OnChange(fn func(Status)) func() {
	e.nextLis++
	id := e.nextLis
	e.listeners[id] = fn
	return func() { delete(e.listeners, id) }
}

// Listen restarts tours on bus signals. The returned function unsubscribes.
func (e *Engine) Listen(bus *Bus) func() {
	return bus.Subscribe(func(sig Signal) {
		if !e.Restart(sig.AgentID, StartOptions{StepID: sig.StepID, SkipTrigger: sig.SkipTrigger}) {
			e.logger.Warn("tour: signal for unknown tour", "agent", sig.AgentID)
		}
	})
}

func (e *Engine) notify() {
	if len(e.listeners) == 0 {
		return
	}
	st := e.Status()
	ids := make([]int, 0, len(e.listeners))
	for id := range e.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		if fn, ok := e.listeners[id]; ok {
			fn(st)
		}
	}
}

// following returns the index after i for the instance's variant.
func (e *Engine) following(i int) int {
	reg := e.inst.tour
	if reg.Config.Variant == Branching {
		if next := reg.Steps[i].Next; next != "" {
			return reg.index[next]
		}
	}
	return i + 1
}

// moveTo commits the new index and runs it after the inter-step delay.
func (e *Engine) moveTo(index int, skipTrigger bool, dir direction) {
	e.inst.index = index
	e.notify()
	inst := e.inst
	e.pending = e.sched.After(e.timing.InterStepDelay, func() {
		e.pending = nil
		if e.inst != inst {
			return
		}
		e.runStep(index, skipTrigger, dir)
	})
}

// leaveStep cancels a pending inter-step delay and tears the current step down.
func (e *Engine) leaveStep() {
	if e.pending != nil {
		e.pending()
		e.pending = nil
	}
	if e.run != nil {
		e.run.teardown()
		e.run = nil
	}
}

func (e *Engine) closeFinal() {
	if e.inst != nil && e.inst.finalOpen {
		e.inst.finalOpen = false
		e.overlays.CloseActive()
	}
}

func (e *Engine) showFinal() {
	inst := e.inst
	inst.finalShown = true
	inst.finalOpen = true
	reg := inst.tour
	view := View{Tour: reg.ID, Index: inst.index, Count: len(reg.Steps), Final: true, Content: *reg.Config.Final}
	if view.Content.Kind == "" {
		view.Content.Kind = overlay.Final
	}
	if len(view.Content.Buttons) == 0 {
		view.Content.Buttons = []overlay.Button{{Action: overlay.ActionClose, Label: "Done"}}
	}
	if e.overlays.Show(e.render(view, e.handleAction(inst, true)), overlay.Options{}) == nil {
		e.logger.Warn("tour: final screen could not be shown", "tour", reg.ID)
	}
	now := e.sched.Now()
	e.recorder.Record(Event{Type: EventFinalShown, TourID: reg.ID, InstanceID: inst.id, StepIndex: inst.index, At: now})
	e.logger.Debug("tour: final screen shown", "tour", reg.ID)
	e.notify()
}

// finish tears the instance down once. completed distinguishes reaching the
// end from being stopped.
func (e *Engine) finish(completed bool, reason string) {
	inst := e.inst
	if inst == nil {
		return
	}
	e.leaveStep()
	e.overlays.CloseActive()
	e.inst = nil

	now := e.sched.Now()
	res := Result{
		TourID: inst.tour.ID, InstanceID: inst.id, Completed: completed,
		StepIndex: inst.index, Duration: now.Sub(inst.startedAt), Reason: reason,
	}
	typ := EventTourEnded
	if completed {
		typ = EventTourCompleted
	}
	e.recorder.Record(Event{
		Type: typ, TourID: inst.tour.ID, InstanceID: inst.id,
		StepID: inst.tour.Steps[inst.index].ID, StepIndex: inst.index,
		At: now, Dwell: res.Duration, Reason: reason,
	})
	e.logger.Info("tour: ended", "tour", inst.tour.ID, "instance", inst.id, "completed", completed, "reason", reason)
	e.notify()
	if cb := inst.tour.Config.OnComplete; cb != nil {
		cb(res)
	}
	if reason != "superseded" {
		e.sched.Post(e.evaluateAutoStart)
	}
}

func (e *Engine) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), e.timing.StoreTimeout)
}
