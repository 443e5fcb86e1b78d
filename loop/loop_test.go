package loop

import (
	"context"
	"testing"
	"time"
)

func TestManual_TimersRunInOrder(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	var order []string

	m.After(300*time.Millisecond, func() { order = append(order, "c") })
	m.After(100*time.Millisecond, func() { order = append(order, "a") })
	m.After(100*time.Millisecond, func() { order = append(order, "b") })

	m.Advance(200 * time.Millisecond)
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("after 200ms: got %v", order)
	}
	m.Advance(100 * time.Millisecond)
	if len(order) != 3 || order[2] != "c" {
		t.Fatalf("after 300ms: got %v", order)
	}
}

func TestManual_CancelPreventsRun(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	ran := false
	cancel := m.After(time.Second, func() { ran = true })
	cancel()
	cancel()
	m.Advance(2 * time.Second)
	if ran {
		t.Fatal("cancelled timer ran")
	}
	if m.Pending() != 0 {
		t.Fatalf("Pending: got %d, want 0", m.Pending())
	}
}

func TestManual_NestedTimersWithinWindow(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	var at []time.Duration
	start := m.Now()
	m.After(100*time.Millisecond, func() {
		at = append(at, m.Now().Sub(start))
		m.After(100*time.Millisecond, func() {
			at = append(at, m.Now().Sub(start))
		})
	})
	m.Advance(250 * time.Millisecond)
	if len(at) != 2 || at[0] != 100*time.Millisecond || at[1] != 200*time.Millisecond {
		t.Fatalf("nested timers: got %v", at)
	}
	if got := m.Now().Sub(start); got != 250*time.Millisecond {
		t.Fatalf("clock: got %v", got)
	}
}

func TestManual_FlushRunsPosted(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	n := 0
	m.Post(func() {
		n++
		m.Post(func() { n++ })
	})
	m.Flush()
	if n != 2 {
		t.Fatalf("posted: got %d, want 2", n)
	}
}

func TestLoop_DoAndAfter(t *testing.T) {
	l := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	fired := make(chan struct{})
	if err := l.Do(ctx, func() {
		l.After(10*time.Millisecond, func() { close(fired) })
	}); err != nil {
		t.Fatalf("Do: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestLoop_CancelledTimerDoesNotRun(t *testing.T) {
	l := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	ran := make(chan struct{}, 1)
	stop := l.After(20*time.Millisecond, func() { ran <- struct{}{} })
	stop()

	select {
	case <-ran:
		t.Fatal("cancelled timer ran")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestLoop_DoAfterClose(t *testing.T) {
	l := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	cancel()
	<-l.done

	if err := l.Do(context.Background(), func() {}); err != ErrClosed {
		t.Fatalf("Do after close: got %v, want ErrClosed", err)
	}
}

func TestLoop_PostFromCallbackNeverBlocks(t *testing.T) {
	l := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	const n = 5000
	var got []int
	all := make(chan struct{})
	err := l.Do(ctx, func() {
		for i := 0; i < n; i++ {
			l.Post(func() {
				got = append(got, i)
				if len(got) == n {
					close(all)
				}
			})
		}
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}

	select {
	case <-all:
	case <-time.After(5 * time.Second):
		t.Fatal("posted callbacks did not all run")
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("callback %d ran at position %d", v, i)
		}
	}
}
