package control

import (
	"context"

	"github.com/sable-inc/sable-smart-links-sub000/kit"
	"github.com/sable-inc/sable-smart-links-sub000/tour"
)

type emptyRequest struct{}

type startRequest struct {
	TourID      string `json:"tour_id"`
	StepID      string `json:"step_id,omitempty"`
	SkipTrigger bool   `json:"skip_trigger,omitempty"`
}

func (r *startRequest) options() tour.StartOptions {
	return tour.StartOptions{StepID: r.StepID, SkipTrigger: r.SkipTrigger}
}

type gotoRequest struct {
	StepID string `json:"step_id"`
}

type statusRequest struct {
	// Format is "markdown" (default) or "json".
	Format string `json:"format,omitempty"`
}

type signalRequest struct {
	AgentID     string `json:"agent_id"`
	StepID      string `json:"step_id,omitempty"`
	SkipTrigger bool   `json:"skip_trigger,omitempty"`
}

type signalResponse struct {
	Queued bool `json:"queued"`
}

// The endpoints below are shared by the MCP and HTTP adapters.

func (s *Service) listEndpoint(ctx context.Context, _ any) (any, error) {
	return s.List(ctx)
}

func (s *Service) statusEndpoint(ctx context.Context, req any) (any, error) {
	if r, ok := req.(*statusRequest); ok && r.Format == "json" {
		return s.Status(ctx)
	}
	md, err := s.StatusMarkdown(ctx)
	return kit.Text(md), err
}

func (s *Service) startEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*startRequest)
	return s.Start(ctx, r.TourID, r.options())
}

func (s *Service) restartEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*startRequest)
	return s.Restart(ctx, r.TourID, r.options())
}

func (s *Service) nextEndpoint(ctx context.Context, _ any) (any, error) {
	return s.Next(ctx)
}

func (s *Service) previousEndpoint(ctx context.Context, _ any) (any, error) {
	return s.Previous(ctx)
}

func (s *Service) endEndpoint(ctx context.Context, _ any) (any, error) {
	return s.End(ctx)
}

func (s *Service) gotoEndpoint(ctx context.Context, req any) (any, error) {
	return s.GoTo(ctx, req.(*gotoRequest).StepID)
}

func (s *Service) signalEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*signalRequest)
	if err := s.Signal(ctx, tour.Signal{AgentID: r.AgentID, StepID: r.StepID, SkipTrigger: r.SkipTrigger}); err != nil {
		return nil, err
	}
	return signalResponse{Queued: true}, nil
}
