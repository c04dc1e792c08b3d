// Package server exposes the voice pipeline over HTTP.
//
// Routes:
//
//	GET  /v1/voice    WebSocket voice turns (see VoiceHandler)
//	POST /llm/stream  SSE text relay
//	GET  /healthz     liveness
//	GET  /readyz      readiness
//	GET  /metrics     Prometheus scrape endpoint
//
// Every route is wrapped by the observe middleware.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/voiceloop/internal/health"
	"github.com/MrWong99/voiceloop/internal/observe"
)

// DefaultShutdownTimeout bounds graceful shutdown in Run.
const DefaultShutdownTimeout = 10 * time.Second

// Routes are the handlers mounted by Handler. A nil handler leaves its route
// unmounted.
type Routes struct {
	Voice   http.Handler
	Relay   http.Handler
	Health  *health.Handler
	Metrics http.Handler
}

// Handler builds the routed, instrumented handler. When rt.Metrics is nil the
// default Prometheus registry is served.
func Handler(rt Routes, m *observe.Metrics) http.Handler {
	mux := http.NewServeMux()
	if rt.Voice != nil {
		mux.Handle("GET /v1/voice", rt.Voice)
	}
	if rt.Relay != nil {
		mux.Handle("POST /llm/stream", rt.Relay)
	}
	if rt.Health != nil {
		rt.Health.Register(mux)
	}
	metrics := rt.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	mux.Handle("GET /metrics", metrics)

	if m == nil {
		m = observe.DefaultMetrics()
	}
	return observe.Middleware(m)(mux)
}

// Server is an http.Server bound to a listen address.
type Server struct {
	srv             *http.Server
	shutdownTimeout time.Duration
}

// New returns a server for addr. Nothing listens until Run.
func New(addr string, h http.Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		},
		shutdownTimeout: DefaultShutdownTimeout,
	}
}

// Run listens on the configured address and serves until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.srv.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	// Hijacked voice sockets are not tracked by Shutdown; cancelling the base
	// context ends their turns.
	base, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()
	s.srv.BaseContext = func(net.Listener) context.Context { return base }
	s.srv.RegisterOnShutdown(cancelBase)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", ln.Addr().String())
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}
