// Package overlay owns the single overlay slot of a page.
//
// The Coordinator is the only way tour code shows anything. It keeps at most
// one overlay mounted: Show always unmounts the current one before the new
// one is attached, so two overlays are never in the document together.
package overlay

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/sable-inc/sable-smart-links-sub000/dom"
)

// ErrConstruction wraps a factory that failed or panicked.
var ErrConstruction = errors.New("overlay: construction failed")

// Overlay is a visual artifact the coordinator can attach to a page.
type Overlay interface {
	Mount(parent dom.Element) error
	Unmount()
	// UpdatePosition re-anchors the overlay to the target's box.
	UpdatePosition(target dom.Rect)
}

// Factory constructs an overlay. It runs inside Show.
type Factory func() (Overlay, error)

// Options for Show.
type Options struct {
	// Parent to mount under. Default: document body.
	Parent dom.Element
	// Target the overlay is positioned against, if any.
	Target dom.Element
}

// State is the coordinator state broadcast to listeners.
type State struct {
	HasActivePopup bool `json:"hasActivePopup"`
}

// ListenerID identifies a registered listener.
type ListenerID int

// Coordinator arbitrates the overlay slot of one document.
type Coordinator struct {
	doc    dom.Document
	logger *slog.Logger

	active    *Handle
	listeners map[ListenerID]func(State)
	nextID    ListenerID
}

// NewCoordinator creates a Coordinator for doc.
func NewCoordinator(doc dom.Document, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		doc:       doc,
		logger:    logger,
		listeners: make(map[ListenerID]func(State)),
	}
}

// Handle is a mounted overlay returned by Show.
type Handle struct {
	c       *Coordinator
	ov      Overlay
	target  dom.Element
	mounted bool
}

// Overlay returns the wrapped overlay.
func (h *Handle) Overlay() Overlay { return h.ov }

// Active reports whether h is the coordinator's current overlay.
func (h *Handle) Active() bool { return h != nil && h.c.active == h }

// Mount re-attaches the overlay under parent. Only the active handle mounts.
func (h *Handle) Mount(parent dom.Element) error {
	if !h.Active() {
		return fmt.Errorf("overlay: mount: handle is not active")
	}
	if h.mounted {
		h.ov.Unmount()
		h.mounted = false
	}
	if err := h.ov.Mount(parent); err != nil {
		return fmt.Errorf("overlay: mount: %w", err)
	}
	h.mounted = true
	return nil
}

// Unmount closes the overlay. Unmounting a superseded handle does nothing.
func (h *Handle) Unmount() {
	if h.Active() {
		h.c.CloseActive()
	}
}

// UpdatePosition forwards a new target box to the overlay.
func (h *Handle) UpdatePosition(r dom.Rect) {
	if h.Active() && h.mounted {
		h.ov.UpdatePosition(r)
	}
}

// Reposition re-reads the target's box and forwards it.
func (h *Handle) Reposition() {
	if h.target == nil || !h.Active() {
		return
	}
	r, err := h.target.Rect()
	if err != nil {
		return
	}
	h.UpdatePosition(r)
}

// Show replaces the current overlay with one built by f. It returns nil when
// construction or mounting failed; the slot is then empty.
func (c *Coordinator) Show(f Factory, opts Options) *Handle {
	hadActive := c.active != nil
	if hadActive {
		c.detach()
	}

	ov, err := build(f)
	if err != nil {
		c.logger.Warn("overlay: show failed", "error", err)
		if hadActive {
			c.notify()
		}
		return nil
	}

	parent := opts.Parent
	if parent == nil {
		parent = c.doc.Body()
	}
	if parent == nil {
		c.logger.Warn("overlay: show failed", "error", "document has no body")
		if hadActive {
			c.notify()
		}
		return nil
	}

	h := &Handle{c: c, ov: ov, target: opts.Target}
	c.active = h
	if err := h.Mount(parent); err != nil {
		c.active = nil
		c.logger.Warn("overlay: show failed", "error", err)
		if hadActive {
			c.notify()
		}
		return nil
	}
	h.Reposition()
	c.notify()
	return h
}

func build(f Factory) (ov Overlay, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrConstruction, r)
		}
	}()
	if f == nil {
		return nil, fmt.Errorf("%w: nil factory", ErrConstruction)
	}
	ov, err = f()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConstruction, err)
	}
	if ov == nil {
		return nil, fmt.Errorf("%w: factory returned nil", ErrConstruction)
	}
	return ov, nil
}

// CloseActive unmounts the current overlay. Calling it with nothing active
// does nothing and notifies nobody.
func (c *Coordinator) CloseActive() {
	if c.active == nil {
		return
	}
	c.detach()
	c.notify()
}

func (c *Coordinator) detach() {
	h := c.active
	c.active = nil
	if h.mounted {
		h.mounted = false
		h.ov.Unmount()
	}
}

// HasActive reports whether an overlay is mounted.
func (c *Coordinator) HasActive() bool { return c.active != nil }

// Active returns the current handle or nil.
func (c *Coordinator) Active() *Handle { return c.active }

// State returns the current state.
func (c *Coordinator) State() State { return State{HasActivePopup: c.active != nil} }

// AddListener registers fn for state changes.
func (c *Coordinator) AddListener(fn func(State)) ListenerID {
	c.nextID++
	c.listeners[c.nextID] = fn
	return c.nextID
}

// RemoveListener unregisters a listener. Unknown ids are ignored.
func (c *Coordinator) RemoveListener(id ListenerID) { delete(c.listeners, id) }

func (c *Coordinator) notify() {
	st := c.State()
	ids := make([]ListenerID, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if fn, ok := c.listeners[id]; ok {
			fn(st)
		}
	}
}
