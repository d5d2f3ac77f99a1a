// Package api serves the watch-mode HTTP endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"gatewarden/internal/integrity"
)

// Config holds the server's collaborators.
type Config struct {
	Addr     string
	Verifier *integrity.Verifier
	Metrics  *integrity.Metrics // optional
	// Dirs is what POST /api/verify runs over.
	Dirs []string
	// VerifyInterval is the minimum spacing of API-triggered passes, each of
	// which rehashes every tracked file. Zero means DefaultVerifyInterval.
	VerifyInterval time.Duration
	Logger         *slog.Logger
}

// DefaultVerifyInterval limits POST /api/verify.
const DefaultVerifyInterval = 10 * time.Second

// Server exposes the verifier's state over HTTP.
type Server struct {
	verifier *integrity.Verifier
	metrics  *integrity.Metrics
	dirs     []string
	logger   *slog.Logger
	server   *http.Server
	started  time.Time
	limiter  *rate.Limiter

	mu      sync.Mutex
	reports map[string]*integrity.Report
}

// NewServer creates a server. Nothing listens until ListenAndServe.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.VerifyInterval <= 0 {
		cfg.VerifyInterval = DefaultVerifyInterval
	}

	s := &Server{
		verifier: cfg.Verifier,
		metrics:  cfg.Metrics,
		dirs:     cfg.Dirs,
		logger:   cfg.Logger.With("component", "api"),
		started:  time.Now(),
		limiter:  rate.NewLimiter(rate.Every(cfg.VerifyInterval), 1),
		reports:  make(map[string]*integrity.Report),
	}

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Router returns the request router.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/api/reports", s.handleReports).Methods(http.MethodGet)
	router.HandleFunc("/api/verify", s.handleVerify).Methods(http.MethodPost)
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	return router
}

// RecordReport remembers report as the latest for its directory. Bootstrap
// reports span every directory and are kept under "*".
func (s *Server) RecordReport(report *integrity.Report) {
	if report == nil {
		return
	}
	key := report.Directory
	if key == "" {
		key = "*"
	}

	s.mu.Lock()
	s.reports[key] = report
	s.mu.Unlock()
}

// RecordSummary records every report of summary.
func (s *Server) RecordSummary(summary *integrity.Summary) {
	if summary == nil {
		return
	}
	for _, r := range summary.Reports {
		s.RecordReport(r)
	}
}

// ListenAndServe serves until Shutdown. http.ErrServerClosed is not an error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP API listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.verifier.Status()
	if err != nil {
		if errors.Is(err, integrity.ErrNoManifest) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		s.logger.Error("status failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	keys := make([]string, 0, len(s.reports))
	for k := range s.reports {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	reports := make([]*integrity.Report, 0, len(keys))
	for _, k := range keys {
		reports = append(reports, s.reports[k])
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, errors.New("verification rate limit exceeded"))
		return
	}

	summary, err := s.verifier.Run(s.dirs)
	s.RecordSummary(summary)
	if err != nil {
		s.logger.Error("verification requested over API failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   err.Error(),
			"summary": summary,
		})
		return
	}
	s.logger.Info("verification requested over API", "run_id", summary.RunID,
		"tampered", summary.Count(integrity.OutcomeTampered))
	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
