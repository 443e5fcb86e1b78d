package tour

import (
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/sable-inc/sable-smart-links-sub000/dom"
	"github.com/sable-inc/sable-smart-links-sub000/dom/memdom"
	"github.com/sable-inc/sable-smart-links-sub000/idgen"
	"github.com/sable-inc/sable-smart-links-sub000/loop"
	"github.com/sable-inc/sable-smart-links-sub000/overlay"
	"github.com/sable-inc/sable-smart-links-sub000/storage"
	"github.com/sable-inc/sable-smart-links-sub000/trigger"
)

const page = `<html><body>
<div id="a">Alpha</div>
<div id="b">Beta</div>
<button id="go">Go</button>
<input id="q">
</body></html>`

type harness struct {
	t      *testing.T
	clk    *loop.Manual
	doc    *memdom.Document
	store  *storage.Memory
	eng    *Engine
	events []Event
	status []Status
}

func newHarness(t *testing.T, opts ...func(*Deps)) *harness {
	t.Helper()
	clk := loop.NewManual(time.Unix(1700000000, 0))
	h := &harness{
		t:     t,
		clk:   clk,
		doc:   memdom.MustParse(clk, "https://app.test/dashboard?plan=pro", page),
		store: storage.NewMemory(),
	}
	h.eng = h.engine(opts...)
	return h
}

// engine builds an engine over the harness document and store. Events and
// status changes of the latest engine are recorded on h.
func (h *harness) engine(opts ...func(*Deps)) *Engine {
	d := Deps{
		Scheduler: h.clk,
		Document:  h.doc,
		Store:     h.store,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		IDs:       idgen.Sequence("run"),
		Recorder:  RecorderFunc(func(ev Event) { h.events = append(h.events, ev) }),
	}
	for _, o := range opts {
		o(&d)
	}
	eng := New(d)
	eng.OnChange(func(s Status) { h.status = append(h.status, s) })
	return eng
}

func (h *harness) register(id string, steps []Step, cfg Config) {
	h.t.Helper()
	if err := h.eng.Register(id, steps, cfg); err != nil {
		h.t.Fatalf("Register(%q): %v", id, err)
	}
}

func (h *harness) click(sel string) {
	h.t.Helper()
	el, err := h.doc.QuerySelector(sel)
	if err != nil || el == nil {
		h.t.Fatalf("click %q: element not found (%v)", sel, err)
	}
	if err := el.Click(); err != nil {
		h.t.Fatalf("click %q: %v", sel, err)
	}
}

// title is the title of the mounted overlay, or "" when none is mounted.
func (h *harness) title() string {
	el, _ := h.doc.QuerySelector(".tourguide-title")
	if el == nil {
		return ""
	}
	return el.Text()
}

func (h *harness) overlays() int {
	els, _ := h.doc.QuerySelectorAll("[" + overlay.AttrOverlay + "]")
	return len(els)
}

func (h *harness) count(typ EventType) int {
	n := 0
	for _, ev := range h.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func (h *harness) wantStep(id string) {
	h.t.Helper()
	st := h.eng.Status()
	if !st.Running || st.StepID != id {
		h.t.Fatalf("status = running:%v step:%q, want step %q", st.Running, st.StepID, id)
	}
}

func step(id, sel, title string) Step {
	s := Step{ID: id, Overlay: overlay.Content{Title: title}}
	if sel != "" {
		s.Target = &Target{Selector: sel}
	}
	return s
}

// settle covers the inter-step delay plus the settle delay.
const settle = 400 * time.Millisecond

func TestOnboarding_ButtonPressAdvances(t *testing.T) {
	h := newHarness(t)
	s2 := step("s2", "#b", "Second")
	s2.Trigger = trigger.Spec{Kind: trigger.ButtonPress, Selector: "#go"}
	h.register("onboarding", []Step{step("s1", "#a", "First"), s2}, Config{})

	if !h.eng.Start("onboarding", StartOptions{}) {
		t.Fatal("Start returned false")
	}
	h.clk.Advance(settle)
	h.wantStep("s1")
	if got := h.title(); got != "First" {
		t.Fatalf("title = %q, want First", got)
	}
	if act := h.eng.Overlays().Active(); act == nil || !act.Active() {
		t.Fatal("no active overlay for s1")
	}

	h.click("#go")
	h.clk.Advance(settle)
	h.wantStep("s2")
	if got := h.title(); got != "Second" {
		t.Fatalf("title = %q, want Second", got)
	}
	if n := h.overlays(); n != 1 {
		t.Fatalf("%d overlays mounted, want 1", n)
	}

	h.eng.Next()
	if h.eng.Status().Running {
		t.Fatal("tour still running after last Next")
	}
	if h.eng.Overlays().HasActive() {
		t.Fatal("overlay still active after the tour ended")
	}
	if h.count(EventTourCompleted) != 1 {
		t.Fatalf("events = %+v, want one tour_completed", h.events)
	}
}

func TestStep_WaitsForOwnTrigger(t *testing.T) {
	h := newHarness(t)
	s1 := step("s1", "#q", "Type something")
	s1.Trigger = trigger.Spec{Kind: trigger.TypingStart}
	h.register("typing", []Step{s1}, Config{})

	h.eng.Start("typing", StartOptions{})
	h.clk.Advance(time.Second)
	if h.eng.Overlays().HasActive() {
		t.Fatal("step shown before its trigger fired")
	}
	q, _ := h.doc.QuerySelector("#q")
	q.(*memdom.Element).Type("x")
	h.clk.Advance(settle)
	if got := h.title(); got != "Type something" {
		t.Fatalf("title = %q after typing", got)
	}
}

func TestStart_TearsDownPrevious(t *testing.T) {
	h := newHarness(t)
	var results []Result
	cfg := Config{OnComplete: func(r Result) { results = append(results, r) }}
	h.register("A", []Step{step("a1", "#a", "Tour A")}, cfg)
	h.register("B", []Step{step("b1", "#b", "Tour B")}, cfg)

	h.eng.Start("A", StartOptions{})
	h.clk.Advance(settle)
	h.status = nil

	h.eng.Start("B", StartOptions{})
	if len(h.status) < 2 || h.status[0].Running {
		t.Fatalf("statuses = %+v, want a stopped status before B runs", h.status)
	}
	if h.status[1].TourID != "B" {
		t.Fatalf("second status = %+v, want tour B", h.status[1])
	}
	if len(results) != 1 || results[0].TourID != "A" || results[0].Reason != "superseded" {
		t.Fatalf("results = %+v", results)
	}
	if h.eng.Overlays().HasActive() {
		t.Fatal("A's overlay survived the switch")
	}

	h.clk.Advance(settle)
	if n := h.overlays(); n != 1 {
		t.Fatalf("%d overlays mounted, want 1", n)
	}
	if got := h.title(); got != "Tour B" {
		t.Fatalf("title = %q", got)
	}
}

func TestEnd_Idempotent(t *testing.T) {
	h := newHarness(t)
	var results []Result
	h.register("t", []Step{step("s1", "#a", "One")}, Config{OnComplete: func(r Result) { results = append(results, r) }})
	h.eng.Start("t", StartOptions{})
	h.clk.Advance(settle)

	n := len(h.status)
	h.eng.End()
	h.eng.End()
	if got := len(h.status) - n; got != 1 {
		t.Fatalf("End twice notified %d times, want 1", got)
	}
	if len(results) != 1 || results[0].Completed || results[0].Reason != "ended" {
		t.Fatalf("results = %+v", results)
	}
	if st := h.eng.Status(); st.Running || st.StepIndex != -1 {
		t.Fatalf("idle status = %+v", st)
	}
}

func TestCloseButton_EndsTour(t *testing.T) {
	h := newHarness(t)
	h.register("t", []Step{step("s1", "#a", "One"), step("s2", "#b", "Two")}, Config{})
	h.eng.Start("t", StartOptions{})
	h.clk.Advance(settle)

	h.click("[" + overlay.AttrAction + "=close]")
	if h.eng.Status().Running {
		t.Fatal("close button did not end the tour")
	}
}

func TestDefaultButtons(t *testing.T) {
	h := newHarness(t)
	h.register("t", []Step{step("s1", "#a", "One"), step("s2", "#b", "Two")}, Config{})
	h.eng.Start("t", StartOptions{})
	h.clk.Advance(settle)

	labels := func() []string {
		els, _ := h.doc.QuerySelectorAll("[" + overlay.AttrAction + "]")
		var out []string
		for _, el := range els {
			out = append(out, el.Text())
		}
		return out
	}
	if got := labels(); !slices.Equal(got, []string{"Next", "Close"}) {
		t.Fatalf("first step buttons = %v", got)
	}
	h.click("[" + overlay.AttrAction + "=next]")
	h.clk.Advance(settle)
	if got := labels(); !slices.Equal(got, []string{"Back", "Done", "Close"}) {
		t.Fatalf("last step buttons = %v", got)
	}
	h.click("[" + overlay.AttrAction + "=back]")
	h.clk.Advance(settle)
	h.wantStep("s1")
}

func TestFinalScreen_ShownOnce(t *testing.T) {
	h := newHarness(t)
	var results []Result
	h.register("t", []Step{step("s1", "#a", "One")}, Config{
		Final:      &overlay.Content{Title: "All done"},
		OnComplete: func(r Result) { results = append(results, r) },
	})
	h.eng.Start("t", StartOptions{})
	h.clk.Advance(settle)

	h.eng.Next()
	if got := h.title(); got != "All done" {
		t.Fatalf("title = %q, want final screen", got)
	}
	st := h.eng.Status()
	if !st.Running || !st.FinalShown || st.Content.Title != "All done" {
		t.Fatalf("status on final screen = %+v", st)
	}

	h.eng.Previous()
	h.clk.Advance(settle)
	h.wantStep("s1")

	h.eng.Next()
	if h.eng.Status().Running {
		t.Fatal("second pass past the last step showed the final screen again")
	}
	if n := h.count(EventFinalShown); n != 1 {
		t.Fatalf("final_shown recorded %d times", n)
	}
	if len(results) != 1 || !results[0].Completed {
		t.Fatalf("results = %+v", results)
	}
}

func TestFinalScreen_DoneCompletes(t *testing.T) {
	h := newHarness(t)
	var results []Result
	h.register("t", []Step{step("s1", "#a", "One")}, Config{
		Final:      &overlay.Content{Title: "All done"},
		OnComplete: func(r Result) { results = append(results, r) },
	})
	h.eng.Start("t", StartOptions{})
	h.clk.Advance(settle)
	h.eng.Next()

	h.click("[" + overlay.AttrAction + "=close]")
	if h.eng.Status().Running || h.eng.Overlays().HasActive() {
		t.Fatal("Done on the final screen did not finish the tour")
	}
	if len(results) != 1 || !results[0].Completed || results[0].Reason != "completed" {
		t.Fatalf("results = %+v", results)
	}
}

func TestCondition_SkipsInDirectionOfTravel(t *testing.T) {
	h := newHarness(t)
	s2 := step("s2", "#b", "Hidden")
	s2.Condition = `exists("#missing")`
	s3 := step("s3", "#go", "Pro only")
	s3.Condition = `query.plan == "pro" && index == 2`
	s3.When = func(env Env) bool { return env.Path == "/dashboard" }
	h.register("t", []Step{step("s1", "#a", "One"), s2, s3}, Config{})

	h.eng.Start("t", StartOptions{})
	h.clk.Advance(settle)
	h.eng.Next()
	h.clk.Advance(600 * time.Millisecond)
	h.wantStep("s3")
	if h.count(EventStepSkipped) != 1 {
		t.Fatalf("events = %+v, want one step_skipped", h.events)
	}

	h.eng.Previous()
	h.clk.Advance(600 * time.Millisecond)
	h.wantStep("s1")
	if h.count(EventStepSkipped) != 2 {
		t.Fatalf("going back did not skip s2")
	}
}

func TestCondition_AllSkippedCompletes(t *testing.T) {
	h := newHarness(t)
	s := step("s1", "#a", "Never")
	s.When = func(Env) bool { return false }
	var results []Result
	h.register("t", []Step{s}, Config{OnComplete: func(r Result) { results = append(results, r) }})
	h.eng.Start("t", StartOptions{})
	h.clk.Advance(settle)
	if h.eng.Status().Running {
		t.Fatal("tour with every step skipped is still running")
	}
	if len(results) != 1 || !results[0].Completed {
		t.Fatalf("results = %+v", results)
	}
}

func TestWaitForElement(t *testing.T) {
	late := func(continueOnError bool) []Step {
		s1 := Step{
			ID:              "s1",
			Target:          &Target{Selector: "#late", WaitForElement: true, Timeout: time.Second},
			ContinueOnError: continueOnError,
			Overlay:         overlay.Content{Title: "Late"},
		}
		return []Step{s1, step("s2", "#b", "Two")}
	}

	t.Run("timeout ends the tour", func(t *testing.T) {
		h := newHarness(t)
		var results []Result
		h.register("t", late(false), Config{OnComplete: func(r Result) { results = append(results, r) }})
		h.eng.Start("t", StartOptions{})
		h.clk.Advance(1200 * time.Millisecond)
		if h.eng.Status().Running {
			t.Fatal("tour still running after the wait timed out")
		}
		if len(results) != 1 || results[0].Reason != "element_not_found" {
			t.Fatalf("results = %+v", results)
		}
		if h.count(EventStepFailed) != 1 {
			t.Fatalf("events = %+v", h.events)
		}
	})

	t.Run("timeout continues", func(t *testing.T) {
		h := newHarness(t)
		h.register("t", late(true), Config{})
		h.eng.Start("t", StartOptions{})
		h.clk.Advance(1200 * time.Millisecond)
		h.wantStep("s2")
		if got := h.title(); got != "Two" {
			t.Fatalf("title = %q", got)
		}
	})

	t.Run("element appears", func(t *testing.T) {
		h := newHarness(t)
		h.register("t", late(false), Config{})
		h.eng.Start("t", StartOptions{})
		h.clk.Advance(500 * time.Millisecond)
		if err := h.doc.Insert("body", `<div id="late">here</div>`); err != nil {
			t.Fatal(err)
		}
		h.clk.Advance(200 * time.Millisecond)
		if got := h.title(); got != "Late" {
			t.Fatalf("title = %q", got)
		}
		h.clk.Advance(2 * time.Second)
		h.wantStep("s1")
	})
}

func TestAutoAdvance(t *testing.T) {
	steps := func() []Step {
		s1 := step("s1", "#a", "One")
		s1.AutoAdvance = 2 * time.Second
		return []Step{s1, step("s2", "#b", "Two"), step("s3", "#go", "Three")}
	}

	t.Run("fires", func(t *testing.T) {
		h := newHarness(t)
		h.register("t", steps(), Config{})
		h.eng.Start("t", StartOptions{})
		h.clk.Advance(100*time.Millisecond + 2*time.Second + settle)
		h.wantStep("s2")
	})

	t.Run("cancelled when the step is left", func(t *testing.T) {
		h := newHarness(t)
		h.register("t", steps(), Config{})
		h.eng.Start("t", StartOptions{})
		h.clk.Advance(settle)
		h.eng.Next()
		h.clk.Advance(settle)
		h.wantStep("s2")
		h.clk.Advance(3 * time.Second)
		h.wantStep("s2")
	})
}

func TestNext_DuringInterStepDelay(t *testing.T) {
	h := newHarness(t)
	h.register("t", []Step{step("s1", "#a", "One"), step("s2", "#b", "Two"), step("s3", "#go", "Three")}, Config{})
	h.eng.Start("t", StartOptions{})
	h.clk.Advance(settle)

	h.eng.Next()
	h.clk.Advance(100 * time.Millisecond)
	h.eng.Next()
	h.clk.Advance(settle)
	h.wantStep("s3")
	for _, ev := range h.events {
		if ev.Type == EventStepShown && ev.StepID == "s2" {
			t.Fatal("s2 was shown although its delay was cancelled")
		}
	}
	if n := h.overlays(); n != 1 {
		t.Fatalf("%d overlays mounted", n)
	}
}

func TestBranching_ChoicesAndHistory(t *testing.T) {
	h := newHarness(t)
	intro := step("intro", "#a", "Pick one")
	intro.Choices = []Choice{{Label: "Billing", Step: "billing"}, {Label: "Team", Step: "team"}}
	billing := step("billing", "#b", "Billing")
	billing.Next = "done"
	team := step("team", "#go", "Team")
	team.Next = "done"
	h.register("b", []Step{intro, billing, team, step("done", "#q", "Done")}, Config{Variant: Branching})

	h.eng.Start("b", StartOptions{})
	h.clk.Advance(settle)
	h.click("[" + overlay.AttrValue + "=team]")
	h.clk.Advance(settle)
	h.wantStep("team")

	h.eng.Next()
	h.clk.Advance(settle)
	h.wantStep("done")

	h.eng.Previous()
	h.clk.Advance(settle)
	h.wantStep("team")
	h.eng.Previous()
	h.clk.Advance(settle)
	h.wantStep("intro")

	if !h.eng.GoTo("billing") {
		t.Fatal("GoTo(billing) = false")
	}
	h.clk.Advance(settle)
	h.wantStep("billing")
	if h.eng.GoTo("nowhere") {
		t.Fatal("GoTo(unknown) = true")
	}
}

func TestBranching_PreviousSkipsAlongHistory(t *testing.T) {
	h := newHarness(t)
	showC := true
	a := step("a", "#a", "A")
	a.Next = "c"
	c := step("c", "#go", "C")
	c.Next = "d"
	c.When = func(Env) bool { return showC }
	h.register("b", []Step{a, step("b", "#b", "B"), c, step("d", "#q", "D")}, Config{Variant: Branching})

	h.eng.Start("b", StartOptions{})
	h.clk.Advance(settle)
	h.wantStep("a")
	h.eng.Next()
	h.clk.Advance(settle)
	h.wantStep("c")
	h.eng.Next()
	h.clk.Advance(settle)
	h.wantStep("d")

	// c no longer applies; going back passes over it to where the user came from.
	showC = false
	h.eng.Previous()
	h.clk.Advance(2 * settle)
	h.wantStep("a")
	if got := h.title(); got != "A" {
		t.Fatalf("title = %q, want A", got)
	}
	for _, ev := range h.events {
		if ev.Type == EventStepShown && ev.StepID == "b" {
			t.Fatal("step b shown although it was never on the path")
		}
	}
}

func TestStepTeardown_ReleasesEverything(t *testing.T) {
	h := newHarness(t)
	s2 := step("s2", "#b", "Second")
	s2.Trigger = trigger.Spec{Kind: trigger.ButtonPress, Selector: "#go"}
	s3 := step("s3", "#q", "Third")
	s3.Trigger = trigger.Spec{Kind: trigger.TypingStop}
	h.register("t", []Step{step("s1", "#a", "First"), s2, s3}, Config{})
	baseListeners, baseSubs := h.doc.Listeners(), h.doc.Subscribers()

	h.eng.Start("t", StartOptions{})
	h.clk.Advance(settle)
	h.wantStep("s1")
	h.click("#go")
	h.clk.Advance(settle)
	h.wantStep("s2")
	onS2, subsOnS2 := h.doc.Listeners(), h.doc.Subscribers()

	h.eng.Previous()
	h.clk.Advance(settle)
	h.wantStep("s1")
	h.eng.Next()
	h.clk.Advance(settle)
	h.click("#go")
	h.clk.Advance(settle)
	h.wantStep("s2")
	if got, subs := h.doc.Listeners(), h.doc.Subscribers(); got != onS2 || subs != subsOnS2 {
		t.Fatalf("second visit of s2: listeners %d->%d subscribers %d->%d", onS2, got, subsOnS2, subs)
	}

	h.eng.End()
	if got := h.doc.Listeners(); got != baseListeners {
		t.Errorf("listeners: %d after End, %d before Start", got, baseListeners)
	}
	if got := h.doc.Subscribers(); got != baseSubs {
		t.Errorf("subscribers: %d after End, %d before Start", got, baseSubs)
	}
	if n := h.clk.Pending(); n != 0 {
		t.Errorf("%d timers pending after End", n)
	}
}

func TestGoTo_LinearRejected(t *testing.T) {
	h := newHarness(t)
	h.register("t", []Step{step("s1", "#a", "One"), step("s2", "#b", "Two")}, Config{})
	h.eng.Start("t", StartOptions{})
	h.clk.Advance(settle)
	if h.eng.GoTo("s2") {
		t.Fatal("GoTo on a linear tour = true")
	}
	h.wantStep("s1")
}

func TestAction_Typing(t *testing.T) {
	h := newHarness(t)
	q, _ := h.doc.QuerySelector("#q")
	var inputs []string
	var changes int
	q.Listen(dom.EventInput, func(ev dom.Event) { inputs = append(inputs, ev.Value) })
	q.Listen(dom.EventChange, func(dom.Event) { changes++ })

	s := step("s1", "#q", "Watch")
	s.Action = &Action{Kind: ActionInput, Value: "hey", Typing: true, Interval: 50 * time.Millisecond}
	h.register("t", []Step{s}, Config{})
	h.eng.Start("t", StartOptions{})
	h.clk.Advance(settle)

	if !slices.Equal(inputs, []string{"h", "he", "hey"}) {
		t.Fatalf("inputs = %q", inputs)
	}
	if changes != 0 {
		t.Fatalf("typing emitted %d change events", changes)
	}
	if q.Value() != "hey" {
		t.Fatalf("value = %q", q.Value())
	}
}

func TestAction_TypingStopsWithStep(t *testing.T) {
	h := newHarness(t)
	q, _ := h.doc.QuerySelector("#q")
	var inputs int
	q.Listen(dom.EventInput, func(dom.Event) { inputs++ })

	s := step("s1", "#q", "Watch")
	s.Action = &Action{Kind: ActionInput, Value: "abcdef", Typing: true, Interval: 100 * time.Millisecond}
	h.register("t", []Step{s, step("s2", "#a", "Two")}, Config{})
	h.eng.Start("t", StartOptions{})
	h.clk.Advance(150 * time.Millisecond)
	h.eng.End()
	h.clk.Advance(time.Second)
	if inputs != 1 {
		t.Fatalf("%d input events after End, want 1", inputs)
	}
}

func TestAction_SetValueAndCustom(t *testing.T) {
	h := newHarness(t)
	q, _ := h.doc.QuerySelector("#q")
	var changes []string
	q.Listen(dom.EventChange, func(ev dom.Event) { changes = append(changes, ev.Value) })

	s1 := step("s1", "#a", "One")
	s1.Action = &Action{Kind: ActionInput, Selector: "#q", Value: "filled"}
	var ran ActionContext
	s2 := step("s2", "#b", "Two")
	s2.Action = &Action{Kind: ActionCustom, Run: func(ac ActionContext) error {
		ran = ac
		panic("boom")
	}}
	h.register("t", []Step{s1, s2}, Config{})
	h.eng.Start("t", StartOptions{})
	h.clk.Advance(settle)
	if !slices.Equal(changes, []string{"filled"}) {
		t.Fatalf("changes = %q", changes)
	}

	h.eng.Next()
	h.clk.Advance(settle)
	if ran.StepID != "s2" || ran.TourID != "t" || ran.Target == nil {
		t.Fatalf("custom action context = %+v", ran)
	}
	h.wantStep("s2")
}

func TestAutoStart_SelectorPresence(t *testing.T) {
	h := newHarness(t)
	h.register("hint", []Step{step("s1", "#widget", "Widget")}, Config{AutoStart: true, RequiredSelector: "#widget"})
	h.clk.Advance(time.Second)
	if h.eng.Status().Running {
		t.Fatal("auto-start without the required selector")
	}

	if err := h.doc.Insert("body", `<div id="widget">w</div>`); err != nil {
		t.Fatal(err)
	}
	h.clk.Advance(settle)
	h.wantStep("s1")

	// Rendered, so losing the selector does not end it.
	h.doc.RemoveAll("#widget")
	h.clk.Advance(settle)
	h.wantStep("s1")

	h.eng.End()
	h.doc.Insert("body", `<div id="widget">w</div>`)
	h.clk.Advance(settle)
	if h.eng.Status().Running {
		t.Fatal("auto-started twice on the same page")
	}

	h.eng.PageLoaded()
	h.clk.Advance(settle)
	h.wantStep("s1")
}

func TestAutoStart_EndsWithoutSelector(t *testing.T) {
	h := newHarness(t)
	var results []Result
	h.doc.Insert("body", `<div id="widget">w</div>`)
	h.register("hint", []Step{step("s1", "#widget", "Widget")}, Config{
		AutoStart: true, RequiredSelector: "#widget", EndWithoutSelector: true,
		OnComplete: func(r Result) { results = append(results, r) },
	})
	h.clk.Advance(settle)
	h.wantStep("s1")

	h.doc.RemoveAll("#widget")
	h.clk.Advance(10 * time.Millisecond)
	if h.eng.Status().Running {
		t.Fatal("tour kept running without its required selector")
	}
	if len(results) != 1 || results[0].Reason != "selector_absent" {
		t.Fatalf("results = %+v", results)
	}
}

func TestAutoStart_NotWhileAnotherRuns(t *testing.T) {
	h := newHarness(t)
	h.register("manual", []Step{step("m1", "#a", "Manual")}, Config{})
	h.eng.Start("manual", StartOptions{})
	h.register("auto", []Step{step("s1", "#b", "Auto")}, Config{AutoStart: true})
	h.clk.Advance(settle)
	h.wantStep("m1")

	h.eng.End()
	h.clk.Advance(settle)
	if st := h.eng.Status(); st.TourID != "auto" {
		t.Fatalf("status after End = %+v, want auto tour started", st)
	}
}

func TestAutoStartOnce(t *testing.T) {
	h := newHarness(t)
	once := func() {
		h.register("once", []Step{step("s1", "#a", "Once")}, Config{AutoStart: true, AutoStartOnce: true})
	}
	once()
	h.clk.Advance(settle)
	h.wantStep("s1")
	if v, ok, _ := h.store.Get(t.Context(), AutoStartedKeyPrefix+"once"); !ok || v == "" {
		t.Fatal("auto-started flag not persisted")
	}
	h.eng.End()

	// A new engine over the same store does not start it again.
	h.eng = h.engine()
	once()
	h.clk.Advance(settle)
	if h.eng.Status().Running {
		t.Fatal("once tour auto-started twice")
	}
	h.eng.PageLoaded()
	h.clk.Advance(settle)
	if h.eng.Status().Running {
		t.Fatal("once tour auto-started after a page load")
	}
}

func TestAutoStartOnce_StoreUnavailable(t *testing.T) {
	h := newHarness(t)
	h.store.SetFail(true)
	h.register("once", []Step{step("s1", "#a", "Once")}, Config{AutoStart: true, AutoStartOnce: true})
	h.clk.Advance(settle)
	h.wantStep("s1")

	h.eng.End()
	h.eng.PageLoaded()
	h.clk.Advance(settle)
	if h.eng.Status().Running {
		t.Fatal("once tour repeated within the session while the store was down")
	}
}

func TestBus_SignalRestarts(t *testing.T) {
	h := newHarness(t)
	s2 := step("s2", "#b", "Two")
	s2.Trigger = trigger.Spec{Kind: trigger.ButtonPress, Selector: "#go"}
	h.register("agent", []Step{step("s1", "#a", "One"), s2}, Config{})

	bus := NewBus(h.clk)
	unsub := h.eng.Listen(bus)
	bus.Emit(Signal{AgentID: "agent", StepID: "s2", SkipTrigger: true})
	if h.eng.Status().Running {
		t.Fatal("signal delivered inside Emit")
	}
	h.clk.Advance(settle)
	h.wantStep("s2")
	if got := h.title(); got != "Two" {
		t.Fatalf("title = %q", got)
	}

	unsub()
	h.eng.End()
	bus.Emit(Signal{AgentID: "agent"})
	h.clk.Advance(settle)
	if h.eng.Status().Running {
		t.Fatal("unsubscribed engine reacted to a signal")
	}
}

func TestRegister_Invalid(t *testing.T) {
	ok := []Step{step("s1", "#a", "One")}
	cases := []struct {
		name  string
		id    string
		steps []Step
		cfg   Config
	}{
		{"empty id", "", ok, Config{}},
		{"no steps", "t", nil, Config{}},
		{"unknown variant", "t", ok, Config{Variant: "spiral"}},
		{"duplicate step", "t", []Step{step("s1", "#a", ""), step("s1", "#b", "")}, Config{}},
		{"button without selector", "t", []Step{{ID: "s1", Trigger: trigger.Spec{Kind: trigger.ButtonPress}}}, Config{}},
		{"typing without target", "t", []Step{{ID: "s1", Trigger: trigger.Spec{Kind: trigger.TypingStop}}}, Config{}},
		{"typing start without target", "t", []Step{{ID: "s1", Trigger: trigger.Spec{Kind: trigger.TypingStart}}}, Config{}},
		{"bad condition", "t", []Step{{ID: "s1", Condition: "index +"}}, Config{}},
		{"non-bool condition", "t", []Step{{ID: "s1", Condition: "index + 1"}}, Config{}},
		{"unknown next", "t", []Step{{ID: "s1", Next: "s9"}}, Config{Variant: Branching}},
		{"unknown choice", "t", []Step{{ID: "s1", Choices: []Choice{{Label: "x", Step: "s9"}}}}, Config{}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			h := newHarness(t)
			h.register("t", []Step{step("orig", "#a", "Original")}, Config{})
			err := h.eng.Register(c.id, c.steps, c.cfg)
			if !errors.Is(err, ErrInvalidRegistration) {
				t.Fatalf("err = %v, want ErrInvalidRegistration", err)
			}
			tr, found := h.eng.Tour("t")
			if !found || len(tr.Steps) != 1 || tr.Steps[0].ID != "orig" {
				t.Fatalf("prior registration lost: %+v", tr)
			}
		})
	}
}

func TestRegister_DerivedStepIDs(t *testing.T) {
	h := newHarness(t)
	h.register("t", []Step{{Target: &Target{Selector: "#a"}}, {Target: &Target{Selector: "#b"}}}, Config{})
	tr, _ := h.eng.Tour("t")
	if tr.Steps[0].ID != "t-step-0" || tr.Steps[1].ID != "t-step-1" {
		t.Fatalf("derived ids = %q, %q", tr.Steps[0].ID, tr.Steps[1].ID)
	}

	strict := newHarness(t, func(d *Deps) { d.StrictStepIDs = true })
	if err := strict.eng.Register("t", []Step{{}}, Config{}); !errors.Is(err, ErrInvalidRegistration) {
		t.Fatalf("strict register err = %v", err)
	}
}

func TestRegister_RunningKeepsDefinition(t *testing.T) {
	h := newHarness(t)
	h.register("t", []Step{step("s1", "#a", "One"), step("s2", "#b", "Two")}, Config{})
	h.eng.Start("t", StartOptions{})
	h.clk.Advance(settle)

	h.register("t", []Step{step("only", "#a", "Replaced")}, Config{})
	if st := h.eng.Status(); st.StepCount != 2 || st.StepID != "s1" {
		t.Fatalf("running instance changed definition: %+v", st)
	}
	h.eng.Next()
	h.clk.Advance(settle)
	h.wantStep("s2")

	h.eng.Start("t", StartOptions{})
	h.clk.Advance(settle)
	h.wantStep("only")
	if ids := h.eng.Tours(); !slices.Equal(ids, []string{"t"}) {
		t.Fatalf("Tours() = %v", ids)
	}
}

func TestStart_Options(t *testing.T) {
	h := newHarness(t)
	s2 := step("s2", "#b", "Two")
	s2.Trigger = trigger.Spec{Kind: trigger.ButtonPress, Selector: "#go"}
	h.register("t", []Step{step("s1", "#a", "One"), s2}, Config{})

	if h.eng.Start("missing", StartOptions{}) {
		t.Fatal("Start(unknown) = true")
	}
	h.eng.Start("t", StartOptions{StepID: "nope"})
	h.clk.Advance(settle)
	h.wantStep("s1")

	h.eng.Start("t", StartOptions{StepID: "s2"})
	h.clk.Advance(settle)
	if h.eng.Overlays().HasActive() {
		t.Fatal("s2 shown without its trigger")
	}
	h.click("#go")
	h.clk.Advance(settle)
	if got := h.title(); got != "Two" {
		t.Fatalf("title = %q", got)
	}
}

func TestResume(t *testing.T) {
	h := newHarness(t)
	s2 := step("s2", "#b", "Two")
	s2.Trigger = trigger.Spec{Kind: trigger.ButtonPress, Selector: "#go"}
	h.register("t", []Step{step("s1", "#a", "One"), s2}, Config{})

	if h.eng.Resume("t", 5) || h.eng.Resume("t", -1) || h.eng.Resume("x", 0) {
		t.Fatal("Resume accepted an invalid target")
	}
	if !h.eng.Resume("t", 1) {
		t.Fatal("Resume(t, 1) = false")
	}
	h.clk.Advance(settle)
	if got := h.title(); got != "Two" {
		t.Fatalf("resumed step title = %q, want shown without trigger", got)
	}
}

func TestSuspend_Silent(t *testing.T) {
	h := newHarness(t)
	called := false
	h.register("t", []Step{step("s1", "#a", "One")}, Config{OnComplete: func(Result) { called = true }})
	h.eng.Start("t", StartOptions{})
	h.clk.Advance(settle)

	n, evs := len(h.status), len(h.events)
	h.eng.Suspend()
	if called || len(h.status) != n || len(h.events) != evs {
		t.Fatal("Suspend reported the instance as ended")
	}
	if h.eng.Status().Running || h.eng.Overlays().HasActive() {
		t.Fatal("Suspend left the instance in place")
	}
}

func TestEvents_CorrelatedByInstance(t *testing.T) {
	h := newHarness(t)
	h.register("t", []Step{step("s1", "#a", "One"), step("s2", "#b", "Two")}, Config{})
	h.eng.Start("t", StartOptions{})
	h.clk.Advance(settle)
	h.eng.Next()
	h.clk.Advance(settle)
	h.eng.Next()

	want := []EventType{EventTourStarted, EventStepShown, EventStepShown, EventTourCompleted}
	var got []EventType
	for _, ev := range h.events {
		got = append(got, ev.Type)
		if ev.InstanceID != "run1" {
			t.Errorf("event %s instance = %q", ev.Type, ev.InstanceID)
		}
	}
	if !slices.Equal(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	// s1 shown at 100ms, s2 at 800ms.
	if d := h.events[2].Dwell; d != 700*time.Millisecond {
		t.Fatalf("dwell on s1 = %v, want 700ms", d)
	}
}
