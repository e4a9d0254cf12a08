package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"peregovorka/internal/config"
	"peregovorka/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// HTTPServer exposes the booking and approval operations as JSON over HTTP.
type HTTPServer struct {
	cfg       *config.APIConfig
	bookings  bookingAPI
	approvals approvalAPI
	server    *http.Server
	auth      *HTTPAuth
	logger    zerolog.Logger
}

func NewHTTPServer(cfg *config.APIConfig, bookings bookingAPI, approvals approvalAPI, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{
		cfg:       cfg,
		bookings:  bookings,
		approvals: approvals,
		auth:      NewHTTPAuth(cfg),
		logger:    zerolog.Nop(),
	}
	if logger != nil {
		srv.logger = logger.With().Str("component", "http").Logger()
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return srv
}

func (s *HTTPServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.auth.Wrap)

		r.Get("/rooms", s.handleListRooms)
		r.Get("/rooms/{id}/availability", s.handleRoomAvailability)
		r.Post("/conflicts/check", s.handleCheckConflicts)

		r.Post("/bookings", s.handleCreateBooking)
		r.Route("/bookings/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetBooking)
			r.Patch("/", s.handleUpdateBooking)
			r.Post("/extend", s.handleExtendBooking)
			r.Post("/end", s.handleEndBooking)
			r.Post("/cancel", s.handleCancelBooking)
			r.Post("/attendees/{userID}/respond", s.handleRespond)
			r.Post("/approvals", s.handleCreateApproval)
		})

		r.Route("/approvals/{id}", func(r chi.Router) {
			r.Post("/decision", s.handleDecision)
			r.Post("/suggest-room", s.handleSuggestRoom)
			r.Get("/alternatives", s.handleAlternatives)
		})
		r.Get("/managers/{id}/approvals", s.handleManagerApprovals)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorMessage(w, http.StatusNotFound, "not_found", "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorMessage(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	return r
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// requestLogger assigns a request id, logs the outcome and counts the matched route.
func (s *HTTPServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDKey)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDKey, requestID)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		metrics.IncHTTP(route)

		ev := s.logger.Info()
		if recorder.status >= http.StatusInternalServerError {
			ev = s.logger.Error()
		}
		ev.Str("request_id", requestID).
			Str("method", r.Method).
			Str("route", route).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
