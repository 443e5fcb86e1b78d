// Package observability persists tour analytics and control-surface audit
// entries to SQLite.
//
// Components write to a shared observability database, usually the daemon's
// state database. Call Init() on the *sql.DB first, then pass it to the
// individual constructors.
//
// Persistence is async and non-blocking: the engine loop never waits on the
// database, and a full buffer drops events rather than stalling a tour.
package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/sable-inc/sable-smart-links-sub000/idgen"
	"github.com/sable-inc/sable-smart-links-sub000/tour"
)

// EventStore records tour events. It implements tour.Recorder.
type EventStore struct {
	db       *sql.DB
	newID    idgen.Generator
	logger   *slog.Logger
	interval time.Duration
	buf      *batcher[storedEvent]
}

type storedEvent struct {
	id string
	tour.Event
}

// EventStoreOption configures an EventStore.
type EventStoreOption func(*EventStore)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventStoreOption {
	return func(s *EventStore) { s.newID = gen }
}

// WithLogger sets the logger that also receives every event.
func WithLogger(l *slog.Logger) EventStoreOption {
	return func(s *EventStore) { s.logger = l }
}

// WithFlushInterval sets how often buffered events are written. Default 5s.
func WithFlushInterval(d time.Duration) EventStoreOption {
	return func(s *EventStore) { s.interval = d }
}

// NewEventStore creates a store flushing to db. Recommended bufferSize: 1000.
func NewEventStore(db *sql.DB, bufferSize int, opts ...EventStoreOption) *EventStore {
	s := &EventStore{
		db:       db,
		newID:    idgen.Prefixed("evt_", idgen.Default),
		logger:   slog.Default(),
		interval: 5 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	s.buf = newBatcher("event store", bufferSize, s.interval, s.logger, s.insert)
	return s
}

// Record implements tour.Recorder. It never blocks.
func (s *EventStore) Record(ev tour.Event) {
	s.logger.Debug("observability: tour event",
		"type", string(ev.Type), "tour", ev.TourID, "instance", ev.InstanceID,
		"step", ev.StepID, "index", ev.StepIndex, "dwell_ms", ev.Dwell.Milliseconds(), "reason", ev.Reason)
	if !s.buf.offer(storedEvent{id: s.newID(), Event: ev}) {
		s.logger.Warn("observability: event buffer full, dropping", "type", string(ev.Type), "tour", ev.TourID)
	}
}

// Flush writes everything recorded so far and returns when it is stored.
func (s *EventStore) Flush(ctx context.Context) error { return s.buf.flush(ctx) }

// Close drains the buffer and stops the flush goroutine.
func (s *EventStore) Close() error {
	s.buf.close()
	return nil
}

func (s *EventStore) insert(batch []storedEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO tour_events
		(event_id, event_type, tour_id, instance_id, step_id, step_index, dwell_ms, reason, at_ms)
		VALUES (?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range batch {
		if _, err := stmt.ExecContext(ctx,
			e.id, string(e.Type), e.TourID, e.InstanceID, e.StepID, e.StepIndex,
			e.Dwell.Milliseconds(), e.Reason, e.At.UnixMilli(),
		); err != nil {
			s.logger.Error("observability: insert event", "error", err, "event_id", e.id)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// EventFilter controls Query results. Empty fields match everything.
type EventFilter struct {
	TourID     string
	InstanceID string
	Type       tour.EventType
	Since      *time.Time
	Limit      int // default 100
}

// StoredEvent is a tour event read back from the store.
type StoredEvent struct {
	ID string
	tour.Event
}

// Query returns events matching f in chronological order.
func (s *EventStore) Query(ctx context.Context, f EventFilter) ([]StoredEvent, error) {
	q := `SELECT event_id, event_type, tour_id, instance_id, step_id, step_index, dwell_ms, reason, at_ms
		FROM tour_events WHERE 1=1`
	var args []any
	if f.TourID != "" {
		q += " AND tour_id = ?"
		args = append(args, f.TourID)
	}
	if f.InstanceID != "" {
		q += " AND instance_id = ?"
		args = append(args, f.InstanceID)
	}
	if f.Type != "" {
		q += " AND event_type = ?"
		args = append(args, string(f.Type))
	}
	if f.Since != nil {
		q += " AND at_ms >= ?"
		args = append(args, f.Since.UnixMilli())
	}
	limit := 100
	if f.Limit > 0 {
		limit = f.Limit
	}
	q += " ORDER BY at_ms, rowid LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query tour events: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var e StoredEvent
		var typ string
		var stepID, reason sql.NullString
		var dwell, at int64
		if err := rows.Scan(&e.ID, &typ, &e.TourID, &e.InstanceID, &stepID, &e.StepIndex, &dwell, &reason, &at); err != nil {
			return nil, fmt.Errorf("scan tour event: %w", err)
		}
		e.Type = tour.EventType(typ)
		e.StepID = stepID.String
		e.Reason = reason.String
		e.Dwell = time.Duration(dwell) * time.Millisecond
		e.At = time.UnixMilli(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// StepStats aggregates step_shown events of one step.
type StepStats struct {
	StepID string
	Shown  int
	// AvgDwell is the average time users spent on the step before it,
	// which is what step_shown carries.
	AvgDwell time.Duration
}

// Funnel summarises one tour.
type Funnel struct {
	TourID    string
	Started   int
	Completed int
	Ended     int
	Steps     []StepStats
}

// Funnel aggregates the stored events of tourID.
func (s *EventStore) Funnel(ctx context.Context, tourID string) (*Funnel, error) {
	f := &Funnel{TourID: tourID}
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_type, COUNT(*) FROM tour_events WHERE tour_id = ? GROUP BY event_type`, tourID)
	if err != nil {
		return nil, fmt.Errorf("funnel counts: %w", err)
	}
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan funnel count: %w", err)
		}
		switch tour.EventType(typ) {
		case tour.EventTourStarted:
			f.Started = n
		case tour.EventTourCompleted:
			f.Completed = n
		case tour.EventTourEnded:
			f.Ended = n
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT step_id, COUNT(*), AVG(dwell_ms) FROM tour_events
		WHERE tour_id = ? AND event_type = ?
		GROUP BY step_id ORDER BY MIN(step_index), step_id`, tourID, string(tour.EventStepShown))
	if err != nil {
		return nil, fmt.Errorf("funnel steps: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var st StepStats
		var avg float64
		if err := rows.Scan(&st.StepID, &st.Shown, &avg); err != nil {
			return nil, fmt.Errorf("scan funnel step: %w", err)
		}
		st.AvgDwell = time.Duration(avg * float64(time.Millisecond))
		f.Steps = append(f.Steps, st)
	}
	return f, rows.Err()
}
