package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/schema"

	"github.com/blackmichael/hub-notifier/internal/config"
	"github.com/blackmichael/hub-notifier/internal/fanout"
	"github.com/blackmichael/hub-notifier/internal/metrics"
	"github.com/blackmichael/hub-notifier/internal/rollinglog"
)

// Server is the HTTP server that exposes the subscription and history
// endpoints.
type Server struct {
	cfg        *config.Config
	router     *fanout.Router
	events     *rollinglog.Log
	backfill   *rollinglog.Backfill
	decoder    *schema.Decoder
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates a new HTTP server over the given router and log.
func NewServer(cfg *config.Config, router *fanout.Router, events *rollinglog.Log, backfill *rollinglog.Backfill, logger *slog.Logger) *Server {
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)

	s := &Server{
		cfg:      cfg,
		router:   router,
		events:   events,
		backfill: backfill,
		decoder:  decoder,
		logger:   logger,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /subscribe", s.handleSubscribe)
	mux.HandleFunc("GET /recent-events", s.handleRecentEvents)
	mux.HandleFunc("GET /logs", s.handleRecentEvents)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	return withLogging(s.logger, mux)
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"sessions":       s.router.SessionCount(),
		"cachedEvents":   s.events.Len(),
		"lastSequenceId": s.events.LastSequenceID(),
	})
}

type recentParams struct {
	Limit string `schema:"limit"`
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	var params recentParams
	if err := s.decoder.Decode(&params, r.URL.Query()); err != nil {
		s.logger.Warn("invalid query parameters", "error", err)
		writeError(w, http.StatusBadRequest, "InvalidRequest", "invalid query parameters")
		return
	}

	// Missing or non-numeric limits get the default; numeric ones are
	// clamped by the responder.
	limit := 0
	if params.Limit != "" {
		if n, err := strconv.Atoi(params.Limit); err == nil {
			limit = max(n, 1)
		}
	}

	events := s.backfill.Respond(r.Context(), limit)
	s.logger.Debug("recent events request", "limit", params.Limit, "returned", len(events))
	writeJSON(w, http.StatusOK, events)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]string{
		"error":   errType,
		"message": message,
	})
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack lets the WebSocket upgrade take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
