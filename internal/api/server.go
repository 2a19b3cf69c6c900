// Package api exposes the conversation engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/partsflow/partsflow/internal/engine"
	"github.com/partsflow/partsflow/internal/session"
)

// Pinger is one dependency health probe.
type Pinger struct {
	Name string
	Ping func(ctx context.Context) error
}

// Server wires the engine into HTTP handlers.
type Server struct {
	engine  *engine.Engine
	logger  *slog.Logger
	pingers []Pinger
}

// NewServer creates a Server.
func NewServer(e *engine.Engine, logger *slog.Logger, pingers ...Pinger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: e, logger: logger, pingers: pingers}
}

// Router builds the HTTP routing table. gatherer serves /metrics; pass the
// registry the process collectors were registered on.
func (s *Server) Router(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Post("/v1/chat", s.handleChat)
	r.Post("/v1/sessions/{id}/end", s.handleEndSession)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}

// logRequests emits one structured line per request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type chatRequest struct {
	SessionID  string `json:"session_id"`
	CustomerID string `json:"customer_id"`
	Channel    string `json:"channel,omitempty"`
	Language   string `json:"language,omitempty"`
	Message    string `json:"message"`
}

type chatResponse struct {
	SessionID     string `json:"session_id"`
	State         string `json:"state"`
	Message       string `json:"message"`
	Outcome       string `json:"outcome"`
	RetryAfter    int64  `json:"retry_after_seconds,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || req.CustomerID == "" || req.Message == "" {
		s.writeError(w, http.StatusBadRequest, "session_id, customer_id and message are required")
		return
	}

	result, err := s.engine.Turn(r.Context(), engine.Request{
		SessionID:  req.SessionID,
		CustomerID: req.CustomerID,
		Channel:    req.Channel,
		Language:   req.Language,
		Message:    req.Message,
	})
	if err != nil {
		switch {
		case errors.Is(err, session.ErrTurnInFlight):
			s.writeError(w, http.StatusConflict, "a turn for this session is already in progress")
		case errors.Is(err, session.ErrSessionEnded):
			s.writeError(w, http.StatusGone, "session has ended")
		default:
			s.logger.Error("chat handler", "error", err)
			s.writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	resp := chatResponse{
		SessionID:     result.SessionID,
		State:         string(result.State),
		Message:       result.Message,
		Outcome:       string(result.Outcome),
		CorrelationID: result.CorrelationID,
	}

	status := http.StatusOK
	if result.Outcome == engine.OutcomeRateLimited {
		status = http.StatusTooManyRequests
		seconds := int64(math.Ceil(result.RetryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		resp.RetryAfter = seconds
		w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		s.writeError(w, http.StatusBadRequest, "session id is required")
		return
	}
	if err := s.engine.EndSession(r.Context(), id); err != nil {
		s.logger.Error("end session handler", "session_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.pingers))
	for _, p := range s.pingers {
		if err := p.Ping(ctx); err != nil {
			checks[p.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[p.Name] = "ok"
	}
	s.writeJSON(w, status, map[string]any{
		"status": http.StatusText(status),
		"checks": checks,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
