// Package persist carries a running tour across page loads. The bridge
// snapshots the engine into a storage.Store whenever it changes or the page
// is about to go away, and restores the snapshot once the next document is
// ready. Without a snapshot, a tour can be activated from a URL parameter.
package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/sable-inc/sable-smart-links-sub000/dom"
	"github.com/sable-inc/sable-smart-links-sub000/loop"
	"github.com/sable-inc/sable-smart-links-sub000/storage"
	"github.com/sable-inc/sable-smart-links-sub000/tour"
)

// Defaults for Options.
const (
	DefaultKey     = "tourguide:snapshot"
	DefaultParam   = "tour"
	DefaultTTL     = time.Hour
	DefaultTimeout = 2 * time.Second
)

// Snapshot is the persisted position of a running tour.
type Snapshot struct {
	TourID    string `json:"tourId"`
	StepIndex int    `json:"stepIndex"`
	StepID    string `json:"stepId,omitempty"`
	Running   bool   `json:"running"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
}

// Time returns the snapshot timestamp.
func (s Snapshot) Time() time.Time { return time.UnixMilli(s.Timestamp) }

// MarshalSnapshot serialises a Snapshot to JSON.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalSnapshot deserialises a Snapshot from JSON.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.TourID == "" {
		return nil, fmt.Errorf("persist: snapshot without tour id")
	}
	return &s, nil
}

// Engine is the part of tour.Engine the bridge drives.
type Engine interface {
	Status() tour.Status
	OnChange(fn func(tour.Status)) func()
	Tour(id string) (tour.Tour, bool)
	Start(id string, opts tour.StartOptions) bool
	Resume(id string, index int) bool
	Suspend()
	PageLoaded()
}

// Options tune a Bridge. Zero fields take the defaults.
type Options struct {
	Key     string        // storage key of the snapshot
	Param   string        // URL query parameter naming a tour to start
	TTL     time.Duration // snapshots older than this are ignored
	Timeout time.Duration // per storage call
}

func (o *Options) defaults() {
	if o.Key == "" {
		o.Key = DefaultKey
	}
	if o.Param == "" {
		o.Param = DefaultParam
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
}

// Bridge connects an engine to a store and a navigator. All methods run on
// the engine's scheduler.
type Bridge struct {
	eng    Engine
	store  storage.Store
	sched  loop.Scheduler
	logger *slog.Logger
	opts   Options

	unwatch func()
	unnav   func()
}

// New creates a Bridge and starts mirroring engine changes into store:
// a running instance is saved, an ended one cleared.
func New(eng Engine, store storage.Store, sched loop.Scheduler, logger *slog.Logger, opts Options) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	opts.defaults()
	b := &Bridge{eng: eng, store: store, sched: sched, logger: logger, opts: opts}
	b.unwatch = eng.OnChange(b.mirror)
	return b
}

// Attach subscribes to nav. Signals that precede leaving the page save the
// snapshot; a load suspends the old instance and boots the new page.
func (b *Bridge) Attach(nav dom.Navigator) {
	if b.unnav != nil {
		b.unnav()
	}
	b.unnav = nav.OnNavigate(b.onNavigate)
}

// Close stops mirroring and detaches from the navigator.
func (b *Bridge) Close() {
	if b.unwatch != nil {
		b.unwatch()
		b.unwatch = nil
	}
	if b.unnav != nil {
		b.unnav()
		b.unnav = nil
	}
}

func (b *Bridge) onNavigate(n dom.Navigation) {
	if n.Leaving() {
		if st := b.eng.Status(); st.Running {
			b.logger.Debug("persist: saving before navigation", "kind", string(n.Kind), "tour", st.TourID)
			b.save(st)
		}
		return
	}
	b.eng.Suspend()
	b.eng.PageLoaded()
	b.Boot(n.URL)
}

func (b *Bridge) mirror(st tour.Status) {
	if st.Running {
		b.save(st)
		return
	}
	b.Clear()
}

func (b *Bridge) save(st tour.Status) {
	b.Save(Snapshot{
		TourID:    st.TourID,
		StepIndex: st.StepIndex,
		StepID:    st.StepID,
		Running:   true,
		Timestamp: b.sched.Now().UnixMilli(),
	})
}

// Save writes s. Failures are logged; the tour keeps running.
func (b *Bridge) Save(s Snapshot) {
	data, err := MarshalSnapshot(&s)
	if err != nil {
		b.logger.Warn("persist: encode snapshot", "error", err)
		return
	}
	ctx, cancel := b.context()
	defer cancel()
	if err := b.store.Set(ctx, b.opts.Key, string(data)); err != nil {
		b.logger.Warn("persist: save snapshot", "tour", s.TourID, "error", err)
	}
}

// Load returns the stored snapshot. Missing, unreadable, undecodable and
// expired snapshots all report false; the last two are also cleared.
func (b *Bridge) Load() (Snapshot, bool) {
	ctx, cancel := b.context()
	raw, ok, err := b.store.Get(ctx, b.opts.Key)
	cancel()
	if err != nil {
		b.logger.Warn("persist: load snapshot", "error", err)
		return Snapshot{}, false
	}
	if !ok {
		return Snapshot{}, false
	}
	s, err := UnmarshalSnapshot([]byte(raw))
	if err != nil {
		b.logger.Warn("persist: corrupt snapshot dropped", "error", err)
		b.Clear()
		return Snapshot{}, false
	}
	if age := b.sched.Now().Sub(s.Time()); age > b.opts.TTL {
		b.logger.Debug("persist: snapshot expired", "tour", s.TourID, "age", age)
		b.Clear()
		return Snapshot{}, false
	}
	return *s, true
}

// Clear removes the snapshot.
func (b *Bridge) Clear() {
	ctx, cancel := b.context()
	defer cancel()
	if err := b.store.Delete(ctx, b.opts.Key); err != nil {
		b.logger.Warn("persist: clear snapshot", "error", err)
	}
}

// Restore resumes the snapshotted tour at its saved step without waiting
// for the step's trigger. The step id wins over the index when the tour
// definition changed in between.
func (b *Bridge) Restore() bool {
	s, ok := b.Load()
	if !ok {
		return false
	}
	if !s.Running {
		b.Clear()
		return false
	}
	t, ok := b.eng.Tour(s.TourID)
	if !ok {
		b.logger.Warn("persist: snapshot names unknown tour", "tour", s.TourID)
		b.Clear()
		return false
	}
	index := s.StepIndex
	if s.StepID != "" {
		for i, st := range t.Steps {
			if st.ID == s.StepID {
				index = i
				break
			}
		}
	}
	if !b.eng.Resume(s.TourID, index) {
		b.Clear()
		return false
	}
	b.logger.Info("persist: restored", "tour", s.TourID, "step", index)
	return true
}

// Boot restores a snapshot or, failing that, starts the tour named by the
// URL parameter of pageURL. It reports whether a tour runs afterwards.
func (b *Bridge) Boot(pageURL string) bool {
	if b.Restore() {
		return true
	}
	id := b.ParamTour(pageURL)
	if id == "" {
		return false
	}
	if _, ok := b.eng.Tour(id); !ok {
		b.logger.Warn("persist: url names unknown tour", "tour", id, "param", b.opts.Param)
		return false
	}
	b.logger.Info("persist: url activation", "tour", id)
	return b.eng.Start(id, tour.StartOptions{})
}

// ParamTour returns the tour id carried by pageURL, or "".
func (b *Bridge) ParamTour(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	return u.Query().Get(b.opts.Param)
}

func (b *Bridge) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), b.opts.Timeout)
}
