// Package control exposes a tour engine to agents and operators over MCP
// and HTTP. Every operation is a kit.Endpoint run on the engine's loop, so
// surface goroutines never touch engine state directly.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"

	"github.com/sable-inc/sable-smart-links-sub000/kit"
	"github.com/sable-inc/sable-smart-links-sub000/observability"
	"github.com/sable-inc/sable-smart-links-sub000/tour"
)

var (
	ErrUnknownTour = errors.New("control: unknown tour")
	ErrNotRunning  = errors.New("control: no tour running")
	ErrRejected    = errors.New("control: rejected")
	ErrNoBus       = errors.New("control: signals not enabled")
	ErrInvalid     = errors.New("control: invalid request")
)

// Engine is the part of tour.Engine the control surface drives.
type Engine interface {
	Tours() []string
	Tour(id string) (tour.Tour, bool)
	Start(id string, opts tour.StartOptions) bool
	Restart(id string, opts tour.StartOptions) bool
	Next()
	Previous()
	End()
	GoTo(stepID string) bool
	Status() tour.Status
}

// Runner executes fn on the engine's loop and waits for it. *loop.Loop
// implements it.
type Runner interface {
	Do(ctx context.Context, fn func()) error
}

// Service implements the control operations.
type Service struct {
	eng     Engine
	run     Runner
	bus     *tour.Bus
	audit   *observability.AuditLogger
	events  Analytics
	logger  *slog.Logger
	timeout time.Duration
	md      *converter.Converter
}

// Option configures a Service.
type Option func(*Service)

// WithBus enables tour_signal / POST /signal.
func WithBus(b *tour.Bus) Option { return func(s *Service) { s.bus = b } }

// WithAudit records every call in the control audit log.
func WithAudit(a *observability.AuditLogger) Option { return func(s *Service) { s.audit = a } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithTimeout bounds how long a call waits for the loop. Default 5s.
func WithTimeout(d time.Duration) Option { return func(s *Service) { s.timeout = d } }

// New creates a Service driving eng through run.
func New(eng Engine, run Runner, opts ...Option) *Service {
	s := &Service{
		eng:     eng,
		run:     run,
		logger:  slog.Default(),
		timeout: 5 * time.Second,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) do(ctx context.Context, fn func()) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.run.Do(ctx, fn); err != nil {
		return fmt.Errorf("control: loop: %w", err)
	}
	return nil
}

// TourInfo describes a registered tour.
type TourInfo struct {
	ID        string   `json:"id"`
	Variant   string   `json:"variant"`
	Steps     []string `json:"steps"`
	AutoStart bool     `json:"autoStart,omitempty"`
	HasFinal  bool     `json:"hasFinal,omitempty"`
}

// List returns the registered tours in registration order.
func (s *Service) List(ctx context.Context) ([]TourInfo, error) {
	var out []TourInfo
	err := s.do(ctx, func() {
		for _, id := range s.eng.Tours() {
			t, ok := s.eng.Tour(id)
			if !ok {
				continue
			}
			info := TourInfo{
				ID:        id,
				Variant:   string(t.Config.Variant),
				AutoStart: t.Config.AutoStart,
				HasFinal:  t.Config.Final != nil,
				Steps:     make([]string, len(t.Steps)),
			}
			if info.Variant == "" {
				info.Variant = string(tour.Linear)
			}
			for i, st := range t.Steps {
				info.Steps[i] = st.ID
			}
			out = append(out, info)
		}
	})
	return out, err
}

// Status reports the engine state.
func (s *Service) Status(ctx context.Context) (tour.Status, error) {
	var st tour.Status
	err := s.do(ctx, func() { st = s.eng.Status() })
	return st, err
}

// Start runs tour id, ending whatever runs.
func (s *Service) Start(ctx context.Context, id string, opts tour.StartOptions) (tour.Status, error) {
	return s.start(ctx, id, opts, s.eng.Start)
}

// Restart is Start under the restart name.
func (s *Service) Restart(ctx context.Context, id string, opts tour.StartOptions) (tour.Status, error) {
	return s.start(ctx, id, opts, s.eng.Restart)
}

func (s *Service) start(ctx context.Context, id string, opts tour.StartOptions, fn func(string, tour.StartOptions) bool) (tour.Status, error) {
	if id == "" {
		return tour.Status{}, fmt.Errorf("%w: tour id is required", ErrInvalid)
	}
	var st tour.Status
	var ok bool
	if err := s.do(ctx, func() {
		ok = fn(id, opts)
		st = s.eng.Status()
	}); err != nil {
		return tour.Status{}, err
	}
	if !ok {
		return st, fmt.Errorf("%w: %q", ErrUnknownTour, id)
	}
	return st, nil
}

// Next advances the running tour.
func (s *Service) Next(ctx context.Context) (tour.Status, error) {
	return s.step(ctx, s.eng.Next)
}

// Previous goes back one step.
func (s *Service) Previous(ctx context.Context) (tour.Status, error) {
	return s.step(ctx, s.eng.Previous)
}

func (s *Service) step(ctx context.Context, fn func()) (tour.Status, error) {
	var st tour.Status
	running := false
	if err := s.do(ctx, func() {
		if running = s.eng.Status().Running; running {
			fn()
		}
		st = s.eng.Status()
	}); err != nil {
		return tour.Status{}, err
	}
	if !running {
		return st, ErrNotRunning
	}
	return st, nil
}

// End stops the running tour. Ending when nothing runs is not an error.
func (s *Service) End(ctx context.Context) (tour.Status, error) {
	var st tour.Status
	err := s.do(ctx, func() {
		s.eng.End()
		st = s.eng.Status()
	})
	return st, err
}

// GoTo jumps to stepID in the running branching tour.
func (s *Service) GoTo(ctx context.Context, stepID string) (tour.Status, error) {
	if stepID == "" {
		return tour.Status{}, fmt.Errorf("%w: step id is required", ErrInvalid)
	}
	var st tour.Status
	var running, ok bool
	if err := s.do(ctx, func() {
		running = s.eng.Status().Running
		ok = running && s.eng.GoTo(stepID)
		st = s.eng.Status()
	}); err != nil {
		return tour.Status{}, err
	}
	switch {
	case !running:
		return st, ErrNotRunning
	case !ok:
		return st, fmt.Errorf("%w: goto %q (unknown step or linear tour)", ErrRejected, stepID)
	}
	return st, nil
}

// Signal emits sig on the engine's bus. Delivery happens on the loop after
// the call returns.
func (s *Service) Signal(ctx context.Context, sig tour.Signal) error {
	if s.bus == nil {
		return ErrNoBus
	}
	if sig.AgentID == "" {
		return fmt.Errorf("%w: agent id is required", ErrInvalid)
	}
	return s.do(ctx, func() { s.bus.Emit(sig) })
}

// StatusMarkdown renders the state and the content on screen as Markdown.
func (s *Service) StatusMarkdown(ctx context.Context) (string, error) {
	st, err := s.Status(ctx)
	if err != nil {
		return "", err
	}
	return s.renderMarkdown(st), nil
}

func (s *Service) renderMarkdown(st tour.Status) string {
	if !st.Running {
		return "No tour is running.\n"
	}
	var b strings.Builder
	if st.Content.Title != "" {
		fmt.Fprintf(&b, "### %s\n\n", st.Content.Title)
	}
	if st.Content.Body != "" {
		body, err := s.md.ConvertString(st.Content.Body)
		if err != nil {
			s.logger.Warn("control: markdown conversion failed", "error", err, "tour", st.TourID)
			body = st.Content.Body
		}
		if body = strings.TrimSpace(body); body != "" {
			b.WriteString(body)
			b.WriteString("\n\n")
		}
	}
	where := fmt.Sprintf("step %d of %d (`%s`)", st.StepIndex+1, st.StepCount, st.StepID)
	if st.FinalOpen {
		where = "final screen"
	}
	fmt.Fprintf(&b, "_Tour `%s`, %s, instance `%s`", st.TourID, where, st.InstanceID)
	if !st.Rendered {
		b.WriteString(", waiting to render")
	}
	b.WriteString("._\n")
	return b.String()
}

// audited records each call of next in the audit log, keyed by the surface
// and operation carried in ctx.
func (s *Service) audited(next kit.Endpoint) kit.Endpoint {
	if s.audit == nil {
		return next
	}
	return func(ctx context.Context, req any) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		s.audit.LogAsync(s.audit.NewAuditEntry(kit.GetTransport(ctx), kit.GetOperation(ctx), req, resp, err, time.Since(start)))
		return resp, err
	}
}

// logged reports failed calls.
func (s *Service) logged(next kit.Endpoint) kit.Endpoint {
	return func(ctx context.Context, req any) (any, error) {
		resp, err := next(ctx, req)
		if err != nil {
			s.logger.Info("control: call failed",
				"surface", kit.GetTransport(ctx), "operation", kit.GetOperation(ctx),
				"trace_id", kit.GetTraceID(ctx), "error", err)
		}
		return resp, err
	}
}

func (s *Service) wrap(ep kit.Endpoint) kit.Endpoint {
	return kit.Chain(s.logged, s.audited)(ep)
}
