package dom

import "sort"

// Hub is the single "DOM changed" event source of a document. Locator waits,
// presence watchers and the auto-start watcher all subscribe here instead of
// each observing the subtree on their own.
//
// Hub is loop-confined: Subscribe, Notify and unsubscribe must be called from
// the scheduler goroutine.
type Hub struct {
	next int
	subs map[int]func()
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]func())}
}

// Subscribe registers fn to run on every Notify. The returned function
// unsubscribes and may be called more than once.
func (h *Hub) Subscribe(fn func()) func() {
	h.next++
	id := h.next
	h.subs[id] = fn
	return func() { delete(h.subs, id) }
}

// Notify runs every subscriber once, in subscription order. Subscribers
// added or removed during Notify take effect from the next call.
func (h *Hub) Notify() {
	ids := make([]int, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		if fn, ok := h.subs[id]; ok {
			fn()
		}
	}
}

// Len reports the number of subscribers.
func (h *Hub) Len() int { return len(h.subs) }
