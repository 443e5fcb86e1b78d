package tour

import (
	"sort"

	"github.com/sable-inc/sable-smart-links-sub000/loop"
)

// Signal asks for a tour (agent) to be (re)started, optionally at a step.
// UI handlers emit signals instead of holding an engine reference.
type Signal struct {
	AgentID     string `json:"agentId"`
	StepID      string `json:"stepId,omitempty"`
	SkipTrigger bool   `json:"skipTrigger,omitempty"`
}

// Bus delivers signals to subscribers on the scheduler, never inside Emit.
type Bus struct {
	sched loop.Scheduler
	next  int
	subs  map[int]func(Signal)
}

// NewBus creates a Bus delivering on sched.
func NewBus(sched loop.Scheduler) *Bus {
	return &Bus{sched: sched, subs: make(map[int]func(Signal))}
}

// Subscribe registers fn. The returned function unsubscribes.
func (b *Bus) Subscribe(fn func(Signal)) func() {
	b.next++
	id := b.next
	b.subs[id] = fn
	return func() { delete(b.subs, id) }
}

// Emit queues sig for every subscriber.
func (b *Bus) Emit(sig Signal) {
	b.sched.Post(func() {
		ids := make([]int, 0, len(b.subs))
		for id := range b.subs {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			if fn, ok := b.subs[id]; ok {
				fn(sig)
			}
		}
	})
}
