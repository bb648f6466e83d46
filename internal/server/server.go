// Package server exposes a running gostt-stream process over HTTP.
//
// Routes:
//
//   - /events  WebSocket stream of session events as JSON text messages.
//   - /healthz liveness probe, always 200.
//   - /readyz  readiness probe, 200 only when every [Check] passes.
//   - /metrics Prometheus scrape endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const (
	checkTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Check is a named readiness probe. Fn returns nil when healthy.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

type status struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Server serves the event hub, health probes and metrics.
type Server struct {
	addr    string
	hub     *Hub
	checks  []Check
	metrics bool
	logger  *slog.Logger
}

// Options configures a Server.
type Options struct {
	Addr string
	// Metrics mounts promhttp.Handler on /metrics.
	Metrics bool
	Checks  []Check
	Logger  *slog.Logger
}

// New returns a server broadcasting through hub.
func New(hub *Hub, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:    opts.Addr,
		hub:     hub,
		checks:  append([]Check(nil), opts.Checks...),
		metrics: opts.Metrics,
		logger:  logger.With("component", "server"),
	}
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /events", s.hub)
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("GET /readyz", s.readyz)
	if s.metrics {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	return mux
}

// Run listens on the configured address until ctx is cancelled, then shuts
// down gracefully. It returns nil after a clean shutdown.
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
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("[server] listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, status{Status: "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	res := status{Status: "ok", Checks: make(map[string]string, len(s.checks))}
	code := http.StatusOK
	for _, c := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Fn(ctx)
		cancel()
		if err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			code = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}
	writeJSON(w, code, res)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// ContextsLoaded reports ready once counter reports at least one loaded
// model context.
func ContextsLoaded(counter interface{ Len() int }) Check {
	return Check{Name: "contexts", Fn: func(context.Context) error {
		if counter.Len() == 0 {
			return errors.New("no model context loaded")
		}
		return nil
	}}
}
