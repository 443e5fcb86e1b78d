package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sable-inc/sable-smart-links-sub000/kit"
	"github.com/sable-inc/sable-smart-links-sub000/loop"
	"github.com/sable-inc/sable-smart-links-sub000/shield"
)

// Router returns the control API with the shield middleware stack.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultAPIStack(s.logger) {
		r.Use(mw)
	}
	s.Routes(r)
	return r
}

// Routes registers the control routes on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/health", s.health)
	r.Get("/tours", s.handle("GET /tours", noBody, s.listEndpoint))
	r.Get("/status", s.handle("GET /status", decodeStatus, s.statusEndpoint))

	r.Route("/tours/{id}", func(r chi.Router) {
		r.Post("/start", s.handle("POST /tours/{id}/start", decodeStart, s.startEndpoint))
		r.Post("/restart", s.handle("POST /tours/{id}/restart", decodeStart, s.restartEndpoint))
		r.Get("/funnel", s.handle("GET /tours/{id}/funnel", func(r *http.Request) (any, error) {
			return &funnelRequest{TourID: chi.URLParam(r, "id")}, nil
		}, s.funnelEndpoint))
	})
	r.Post("/next", s.handle("POST /next", noBody, s.nextEndpoint))
	r.Post("/previous", s.handle("POST /previous", noBody, s.previousEndpoint))
	r.Post("/end", s.handle("POST /end", noBody, s.endEndpoint))
	r.Post("/goto/{stepID}", s.handle("POST /goto/{stepID}", func(r *http.Request) (any, error) {
		return &gotoRequest{StepID: chi.URLParam(r, "stepID")}, nil
	}, s.gotoEndpoint))
	r.Post("/signal", s.handle("POST /signal", func(r *http.Request) (any, error) {
		var req signalRequest
		return &req, decodeBody(r, &req)
	}, s.signalEndpoint))

	r.Get("/events", s.handle("GET /events", decodeEvents, s.eventsEndpoint))
	r.Get("/audit", s.handle("GET /audit", decodeAudit, s.auditEndpoint))
}

// health reports whether the engine loop answers.
func (s *Service) health(w http.ResponseWriter, r *http.Request) {
	st, err := s.Status(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "running": st.Running})
}

func (s *Service) handle(op string, decode func(*http.Request) (any, error), ep kit.Endpoint) http.HandlerFunc {
	wrapped := s.wrap(ep)
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := kit.WithOperation(kit.WithTransport(r.Context(), "http"), op)
		req, err := decode(r)
		if err != nil {
			code := http.StatusBadRequest
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				code = http.StatusRequestEntityTooLarge
			}
			writeError(w, code, fmt.Errorf("invalid request: %w", err))
			return
		}
		resp, err := wrapped(ctx, req)
		if err != nil {
			writeError(w, statusCode(err), err)
			return
		}
		if text, ok := resp.(kit.Text); ok {
			w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			io.WriteString(w, string(text))
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, ErrUnknownTour):
		return http.StatusNotFound
	case errors.Is(err, ErrNotRunning), errors.Is(err, ErrRejected):
		return http.StatusConflict
	case errors.Is(err, ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrNoBus), errors.Is(err, ErrNoAnalytics):
		return http.StatusNotImplemented
	case errors.Is(err, loop.ErrClosed), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func noBody(*http.Request) (any, error) { return &emptyRequest{}, nil }

func decodeStatus(r *http.Request) (any, error) {
	f := r.URL.Query().Get("format")
	if f == "" {
		f = "json"
	}
	return &statusRequest{Format: f}, nil
}

func decodeEvents(r *http.Request) (any, error) {
	q := r.URL.Query()
	limit, err := queryLimit(q.Get("limit"))
	if err != nil {
		return nil, err
	}
	return &eventsRequest{
		TourID:     q.Get("tour"),
		InstanceID: q.Get("instance"),
		Type:       q.Get("type"),
		Limit:      limit,
	}, nil
}

func decodeAudit(r *http.Request) (any, error) {
	q := r.URL.Query()
	limit, err := queryLimit(q.Get("limit"))
	if err != nil {
		return nil, err
	}
	return &auditRequest{
		Surface:   q.Get("surface"),
		Operation: q.Get("operation"),
		Status:    q.Get("status"),
		Limit:     limit,
	}, nil
}

func queryLimit(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("limit %q is not a non-negative integer", v)
	}
	return n, nil
}

// decodeStart reads optional start options from the body; the tour id comes
// from the path.
func decodeStart(r *http.Request) (any, error) {
	var req startRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	req.TourID = chi.URLParam(r, "id")
	return &req, nil
}

// decodeBody decodes a JSON body into v. An empty body leaves v unchanged.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
