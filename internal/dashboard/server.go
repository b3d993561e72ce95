package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/indiquant/kitebot/internal/portfolio"
)

// StatusFunc supplies the live engine status for /api/status.
type StatusFunc func() StatusUpdate

// Server is the local read-only status API. It exposes health,
// status, positions and performance; it never mutates trading state.
type Server struct {
	httpServer *http.Server
	log        *logrus.Logger
	pf         *portfolio.Portfolio
	status     StatusFunc
	started    time.Time
}

// NewServer wires the routes. The portfolio is read through its
// public accessors only.
func NewServer(port int, pf *portfolio.Portfolio, status StatusFunc, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.New()
	}
	s := &Server{
		log:     log,
		pf:      pf,
		status:  status,
		started: time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/positions", s.handlePositions)
	r.Get("/api/stats", s.handleStats)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start runs the listener on its own goroutine.
func (s *Server) Start() {
	go func() {
		s.log.WithField("addr", s.httpServer.Addr).Info("status server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("status server stopped")
		}
	}()
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Warn("encode response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.status == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "status unavailable"})
		return
	}
	s.writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	positions := s.pf.Positions()
	keys := make([]string, 0, len(positions))
	for k := range positions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]portfolio.Position, 0, len(keys))
	for _, k := range keys {
		out = append(out, positions[k])
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(out),
		"positions": out,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.pf.Stats())
}
