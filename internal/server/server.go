// Package server exposes the cost guard over HTTP: the two engine operations
// for out-of-process callers, a stats/dashboard surface, and the
// administrative endpoints.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/helmdesk/costguard/internal/config"
	"github.com/helmdesk/costguard/internal/costguard"
)

// Server serves the cost guard HTTP surface.
type Server struct {
	guard *costguard.Guard
	cfg   config.ServerConfig
	http  *http.Server

	startedAt time.Time
}

// New creates a server around an existing guard instance.
func New(guard *costguard.Guard, cfg config.ServerConfig) *Server {
	s := &Server{
		guard:     guard,
		cfg:       cfg,
		startedAt: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /check", s.logged(s.handleCheck))
	mux.HandleFunc("POST /record", s.logged(s.handleRecord))
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /dashboard", guard.HandleDashboard)
	mux.HandleFunc("GET /ws/stats", s.handleStatsFeed)
	mux.HandleFunc("POST /admin/reset-grace", s.logged(s.handleResetGrace))
	mux.HandleFunc("POST /admin/override-limit", s.logged(s.handleOverrideLimit))

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout.Std(),
		WriteTimeout: cfg.WriteTimeout.Std(),
	}
	return s
}

// Handler returns the underlying handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe blocks serving HTTP until the context is canceled, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.http.Addr).Msg("server: listening")
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// logged wraps a handler with a per-request id and access log line.
func (s *Server) logged(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()[:8]
		start := time.Now()
		next(w, r)
		log.Debug().
			Str("request_id", reqID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("server: request")
	}
}

// isLoopback reports whether the remote address is a loopback interface.
func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
