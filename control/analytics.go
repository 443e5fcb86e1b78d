package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sable-inc/sable-smart-links-sub000/observability"
	"github.com/sable-inc/sable-smart-links-sub000/tour"
)

// ErrNoAnalytics is returned by the read-side operations when the service
// has no event store or audit log.
var ErrNoAnalytics = errors.New("control: analytics not enabled")

// Analytics is the read side of the tour event store.
// *observability.EventStore implements it.
type Analytics interface {
	Flush(ctx context.Context) error
	Query(ctx context.Context, f observability.EventFilter) ([]observability.StoredEvent, error)
	Funnel(ctx context.Context, tourID string) (*observability.Funnel, error)
}

// WithAnalytics enables tour_funnel, tour_events and their routes.
func WithAnalytics(a Analytics) Option { return func(s *Service) { s.events = a } }

// FunnelReport summarises how far users get through a tour.
type FunnelReport struct {
	TourID    string `json:"tourId"`
	Started   int    `json:"started"`
	Completed int    `json:"completed"`
	Ended     int    `json:"ended"`
	// CompletionRate is Completed / Started, 0 when nothing started.
	CompletionRate float64       `json:"completionRate"`
	Steps          []StepReport `json:"steps"`
}

// StepReport is the step_shown aggregate of one step.
type StepReport struct {
	StepID     string `json:"stepId"`
	Shown      int    `json:"shown"`
	AvgDwellMs int64  `json:"avgDwellMs"`
}

// EventRecord is a stored tour event.
type EventRecord struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	TourID     string    `json:"tourId"`
	InstanceID string    `json:"instanceId"`
	StepID     string    `json:"stepId,omitempty"`
	StepIndex  int       `json:"stepIndex"`
	At         time.Time `json:"at"`
	DwellMs    int64     `json:"dwellMs,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// AuditRecord is one audited control call.
type AuditRecord struct {
	ID         string    `json:"id"`
	At         time.Time `json:"at"`
	Surface    string    `json:"surface"`
	Operation  string    `json:"operation"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"durationMs"`
	Parameters string    `json:"parameters,omitempty"`
}

// Funnel aggregates the recorded events of a registered tour.
func (s *Service) Funnel(ctx context.Context, tourID string) (FunnelReport, error) {
	if s.events == nil {
		return FunnelReport{}, ErrNoAnalytics
	}
	if tourID == "" {
		return FunnelReport{}, fmt.Errorf("%w: tour id is required", ErrInvalid)
	}
	var known bool
	if err := s.do(ctx, func() { _, known = s.eng.Tour(tourID) }); err != nil {
		return FunnelReport{}, err
	}
	if !known {
		return FunnelReport{}, fmt.Errorf("%w: %q", ErrUnknownTour, tourID)
	}
	if err := s.events.Flush(ctx); err != nil {
		return FunnelReport{}, fmt.Errorf("control: flush events: %w", err)
	}
	f, err := s.events.Funnel(ctx, tourID)
	if err != nil {
		return FunnelReport{}, fmt.Errorf("control: funnel: %w", err)
	}
	out := FunnelReport{
		TourID:    f.TourID,
		Started:   f.Started,
		Completed: f.Completed,
		Ended:     f.Ended,
		Steps:     make([]StepReport, 0, len(f.Steps)),
	}
	if f.Started > 0 {
		out.CompletionRate = float64(f.Completed) / float64(f.Started)
	}
	for _, st := range f.Steps {
		out.Steps = append(out.Steps, StepReport{StepID: st.StepID, Shown: st.Shown, AvgDwellMs: st.AvgDwell.Milliseconds()})
	}
	return out, nil
}

// Events returns recorded events matching f, oldest first.
func (s *Service) Events(ctx context.Context, f observability.EventFilter) ([]EventRecord, error) {
	if s.events == nil {
		return nil, ErrNoAnalytics
	}
	if err := s.events.Flush(ctx); err != nil {
		return nil, fmt.Errorf("control: flush events: %w", err)
	}
	evs, err := s.events.Query(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("control: events: %w", err)
	}
	out := make([]EventRecord, 0, len(evs))
	for _, e := range evs {
		out = append(out, EventRecord{
			ID: e.ID, Type: string(e.Type), TourID: e.TourID, InstanceID: e.InstanceID,
			StepID: e.StepID, StepIndex: e.StepIndex, At: e.At,
			DwellMs: e.Dwell.Milliseconds(), Reason: e.Reason,
		})
	}
	return out, nil
}

// Audit returns audited control calls matching f, newest first.
func (s *Service) Audit(ctx context.Context, f observability.AuditFilter) ([]AuditRecord, error) {
	if s.audit == nil {
		return nil, ErrNoAnalytics
	}
	if err := s.audit.Flush(ctx); err != nil {
		return nil, fmt.Errorf("control: flush audit: %w", err)
	}
	entries, err := s.audit.Query(ctx, &f)
	if err != nil {
		return nil, fmt.Errorf("control: audit: %w", err)
	}
	out := make([]AuditRecord, 0, len(entries))
	for _, e := range entries {
		out = append(out, AuditRecord{
			ID: e.EntryID, At: e.Timestamp, Surface: e.Surface, Operation: e.Operation,
			Status: e.Status, Error: e.ErrorMessage, DurationMs: e.DurationMs, Parameters: e.Parameters,
		})
	}
	return out, nil
}

type funnelRequest struct {
	TourID string `json:"tour_id"`
}

type eventsRequest struct {
	TourID     string `json:"tour_id,omitempty"`
	InstanceID string `json:"instance_id,omitempty"`
	Type       string `json:"type,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

func (r *eventsRequest) filter() observability.EventFilter {
	return observability.EventFilter{
		TourID:     r.TourID,
		InstanceID: r.InstanceID,
		Type:       tour.EventType(r.Type),
		Limit:      r.Limit,
	}
}

type auditRequest struct {
	Surface   string `json:"surface,omitempty"`
	Operation string `json:"operation,omitempty"`
	Status    string `json:"status,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

func (r *auditRequest) filter() observability.AuditFilter {
	var f observability.AuditFilter
	if r.Surface != "" {
		f.Surface = &r.Surface
	}
	if r.Operation != "" {
		f.Operation = &r.Operation
	}
	if r.Status != "" {
		f.Status = &r.Status
	}
	f.Limit = r.Limit
	return f
}

func (s *Service) funnelEndpoint(ctx context.Context, req any) (any, error) {
	return s.Funnel(ctx, req.(*funnelRequest).TourID)
}

func (s *Service) eventsEndpoint(ctx context.Context, req any) (any, error) {
	return s.Events(ctx, req.(*eventsRequest).filter())
}

func (s *Service) auditEndpoint(ctx context.Context, req any) (any, error) {
	return s.Audit(ctx, req.(*auditRequest).filter())
}
