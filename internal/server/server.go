// Package server exposes health, metrics and live transfer state over HTTP
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/curtbushko/zoom-to-vault/internal/ledger"
	"github.com/curtbushko/zoom-to-vault/internal/logging"
	"github.com/curtbushko/zoom-to-vault/internal/transfer"
)

// HealthKey is the object probed to check that the store answers
const HealthKey = ".zoom-to-vault-health"

// Transfers is the view of the orchestrator served under /transfers
type Transfers interface {
	Handles() []transfer.Snapshot
	Lookup(id string) (*transfer.Handle, bool)
	Cancel(h *transfer.Handle) bool
	Dismiss(id string) error
}

// Prober checks that the object store is reachable
type Prober interface {
	Exists(ctx context.Context, name string) (bool, error)
}

// Config wires the server's dependencies. Nil dependencies disable their routes.
type Config struct {
	Addr         string
	Transfers    Transfers
	Ledger       ledger.Reader
	Store        Prober
	Gatherer     prometheus.Gatherer
	Logger       logging.Logger
	ProbeTimeout time.Duration
}

// Server is the ops HTTP surface
type Server struct {
	config Config
	router chi.Router
	logger logging.Logger
}

// HealthReport is the body of /healthz
type HealthReport struct {
	Status  string        `json:"status"`
	Ledger  string        `json:"ledger"`
	Storage string        `json:"storage"`
	Stats   *ledger.Stats `json:"stats,omitempty"`
}

// New builds the router
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logging.GetDefaultLogger()
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}

	s := &Server{config: cfg, logger: cfg.Logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.health)
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	if cfg.Transfers != nil {
		r.Route("/transfers", func(r chi.Router) {
			r.Get("/", s.listTransfers)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getTransfer)
				r.Delete("/", s.cancelTransfer)
				r.Post("/dismiss", s.dismissTransfer)
			})
		})
	}
	if cfg.Ledger != nil {
		r.Get("/ledger/stats", s.ledgerStats)
	}

	s.router = r
	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Ops server listening on %s", s.config.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := logging.GenerateRequestID()
		s.logger.LogAPIRequest(logging.APIRequest{
			Method:    r.Method,
			URL:       r.URL.Path,
			RequestID: requestID,
		})

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(logging.WithRequestID(r.Context(), requestID)))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.logger.LogAPIResponse(logging.APIResponse{
			StatusCode: status,
			RequestID:  requestID,
			Duration:   time.Since(start),
			Success:    status < http.StatusBadRequest,
		})
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.ProbeTimeout)
	defer cancel()

	report := HealthReport{Status: "ok", Ledger: "unchecked", Storage: "unchecked"}

	if s.config.Ledger != nil {
		stats, err := s.config.Ledger.Stats(ctx)
		if err != nil {
			report.Status = "degraded"
			report.Ledger = err.Error()
		} else {
			report.Ledger = "ok"
			report.Stats = &stats
		}
	}

	if s.config.Store != nil {
		if _, err := s.config.Store.Exists(ctx, HealthKey); err != nil {
			report.Status = "degraded"
			report.Storage = err.Error()
		} else {
			report.Storage = "ok"
		}
	}

	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, report)
}

func (s *Server) listTransfers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.config.Transfers.Handles())
}

func (s *Server) getTransfer(w http.ResponseWriter, r *http.Request) {
	h, ok := s.config.Transfers.Lookup(chi.URLParam(r, "id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "transfer not found")
		return
	}
	s.writeJSON(w, http.StatusOK, h.Snapshot())
}

func (s *Server) cancelTransfer(w http.ResponseWriter, r *http.Request) {
	h, ok := s.config.Transfers.Lookup(chi.URLParam(r, "id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "transfer not found")
		return
	}
	if !s.config.Transfers.Cancel(h) {
		s.writeError(w, http.StatusConflict, "transfer can no longer be cancelled")
		return
	}
	s.logger.InfoWithContext(r.Context(), "Cancellation requested for transfer %s (file %s)", h.ID(), h.FileID())
	s.writeJSON(w, http.StatusAccepted, h.Snapshot())
}

func (s *Server) dismissTransfer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.config.Transfers.Lookup(id); !ok {
		s.writeError(w, http.StatusNotFound, "transfer not found")
		return
	}
	if err := s.config.Transfers.Dismiss(id); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ledgerStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.config.Ledger.Stats(r.Context())
	if err != nil {
		s.logger.ErrorWithContext(r.Context(), "Failed to read ledger stats: %v", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read ledger stats")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
