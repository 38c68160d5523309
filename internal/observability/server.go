package observability

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/basecamp/daemon-console/internal/poll"
)

// Health is the /healthz body.
type Health struct {
	Status    string         `json:"status"` // ok|degraded
	Scheduler poll.Stats     `json:"scheduler"`
	Session   SessionMetrics `json:"session"`
}

// Server exposes /metrics and /healthz while the daemon runs.
type Server struct {
	addr      string
	metrics   *Metrics
	collector *SessionCollector
	stats     func() poll.Stats
	logger    *slog.Logger
}

// NewServer creates a metrics server. stats reports scheduler state.
func NewServer(addr string, metrics *Metrics, collector *SessionCollector, stats func() poll.Stats, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{addr: addr, metrics: metrics, collector: collector, stats: stats, logger: logger}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	r.Get("/healthz", s.health)
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	h := Health{Status: "ok"}
	if s.stats != nil {
		h.Scheduler = s.stats()
		if h.Scheduler.Ticks > 0 && h.Scheduler.LastError != "" {
			h.Status = "degraded"
		}
	}
	if s.collector != nil {
		h.Session = s.collector.Summary()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h); err != nil {
		s.logger.Debug("healthz encode failed", "error", err)
	}
}

// Run listens until ctx is cancelled, then shuts down gracefully.
// A cancelled context is a normal stop and returns nil.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Debug("metrics server listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
