package locator

import (
	"errors"
	"testing"
	"time"

	"github.com/sable-inc/sable-smart-links-sub000/dom"
	"github.com/sable-inc/sable-smart-links-sub000/dom/memdom"
	"github.com/sable-inc/sable-smart-links-sub000/loop"
)

func setup(t *testing.T, body string) (*Locator, *memdom.Document, *loop.Manual) {
	t.Helper()
	clk := loop.NewManual(time.Unix(1700000000, 0))
	doc := memdom.MustParse(clk, "https://app.test/", "<html><body>"+body+"</body></html>")
	return New(doc, clk, nil), doc, clk
}

func TestFind_Strategies(t *testing.T) {
	l, _, _ := setup(t, `<div id="main"><button class="go">Go</button><span id="weird.id">x</span></div>`)

	if el := l.Find(Target{Selector: "button.go"}); el == nil || el.Text() != "Go" {
		t.Errorf("css: got %v", el)
	}
	if el := l.Find(Target{Selector: "//div/button"}); el == nil || el.Tag() != "button" {
		t.Errorf("xpath: got %v", el)
	}
	// Not a valid compound selector, but a valid id.
	if el := l.Find(Target{Selector: "main"}); el == nil || el.Tag() != "div" {
		t.Errorf("id fallback: got %v", el)
	}
	custom := Target{Finder: func(doc dom.Document) dom.Element { return doc.GetElementByID("weird.id") }}
	if el := l.Find(custom); el == nil || el.Text() != "x" {
		t.Errorf("finder: got %v", el)
	}
}

func TestFindAll_FallsBackLikeFind(t *testing.T) {
	l, _, _ := setup(t, `<div id="main"><button class="go">A</button><button class="go">B</button></div>`)

	if els := l.FindAll("button.go"); len(els) != 2 {
		t.Errorf("css: got %d elements, want 2", len(els))
	}
	if els := l.FindAll("//div/button[2]"); len(els) != 1 || els[0].Text() != "B" {
		t.Errorf("xpath: got %v", els)
	}
	if els := l.FindAll("main"); len(els) != 1 || els[0].Tag() != "div" {
		t.Errorf("id fallback: got %v", els)
	}
	if els := l.FindAll("div[[["); els != nil {
		t.Errorf("malformed: got %v", els)
	}
}

func TestFind_MalformedIsNotFound(t *testing.T) {
	l, _, _ := setup(t, `<div id="main"></div>`)
	for _, sel := range []string{"div[", "a:hover", "///", ">"} {
		if el := l.Find(Target{Selector: sel}); el != nil {
			t.Errorf("%q: want nil, got %v", sel, el)
		}
	}
}

func TestFind_PanickingFinder(t *testing.T) {
	l, _, _ := setup(t, ``)
	el := l.Find(Target{Finder: func(dom.Document) dom.Element { panic("boom") }})
	if el != nil {
		t.Fatalf("want nil, got %v", el)
	}
}

func TestWaitFor_Immediate(t *testing.T) {
	l, _, _ := setup(t, `<p id="here"></p>`)
	calls := 0
	l.WaitFor(Target{Selector: "#here"}, time.Second, func(el dom.Element, err error) {
		calls++
		if err != nil || el == nil {
			t.Errorf("got %v, %v", el, err)
		}
	})
	if calls != 1 {
		t.Fatalf("calls: got %d, want 1", calls)
	}
}

func TestWaitFor_ResolvesOnMutation(t *testing.T) {
	l, doc, clk := setup(t, `<div id="root"></div>`)
	var got dom.Element
	calls := 0
	l.WaitFor(Target{Selector: "#late"}, 5*time.Second, func(el dom.Element, err error) {
		calls++
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		got = el
	})

	clk.Advance(time.Second)
	if calls != 0 {
		t.Fatal("resolved before element existed")
	}
	doc.Insert("#root", `<button id="late">late</button>`)
	clk.Flush()
	if calls != 1 || got == nil || got.Text() != "late" {
		t.Fatalf("after insert: calls=%d el=%v", calls, got)
	}
	// Nothing left behind.
	if doc.Subscribers() != 0 {
		t.Errorf("subscribers: got %d, want 0", doc.Subscribers())
	}
	if clk.Pending() != 0 {
		t.Errorf("timers: got %d, want 0", clk.Pending())
	}
	clk.Advance(10 * time.Second)
	if calls != 1 {
		t.Errorf("done called again: %d", calls)
	}
}

func TestWaitFor_Timeout(t *testing.T) {
	l, doc, clk := setup(t, ``)
	var gotErr error
	l.WaitFor(Target{Selector: "#never"}, 2*time.Second, func(_ dom.Element, err error) { gotErr = err })

	clk.Advance(2 * time.Second)
	if !errors.Is(gotErr, ErrElementNotFound) {
		t.Fatalf("err: got %v, want ErrElementNotFound", gotErr)
	}
	if doc.Subscribers() != 0 {
		t.Errorf("observer leaked: %d subscribers", doc.Subscribers())
	}
}

func TestWaitFor_CancelReleasesObserver(t *testing.T) {
	l, doc, clk := setup(t, `<div id="root"></div>`)
	called := false
	cancel := l.WaitFor(Target{Selector: "#late"}, time.Second, func(dom.Element, error) { called = true })
	if doc.Subscribers() != 1 {
		t.Fatalf("subscribers while waiting: %d", doc.Subscribers())
	}
	cancel()
	cancel()

	doc.Insert("#root", `<i id="late"></i>`)
	clk.Advance(5 * time.Second)
	if called {
		t.Fatal("done ran after cancel")
	}
	if doc.Subscribers() != 0 || clk.Pending() != 0 {
		t.Fatalf("leaked: subscribers=%d timers=%d", doc.Subscribers(), clk.Pending())
	}
	// Find is unaffected.
	if l.Find(Target{Selector: "#late"}) == nil {
		t.Fatal("Find after cancel: not found")
	}
}
