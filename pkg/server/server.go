// Package server exposes the memory and planning APIs over HTTP:
// session reads and writes, playbook ingestion, knowledge retrieval,
// full agent runs, and a WebSocket event stream.
package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/minder/internal/observability"
	"github.com/harun/minder/pkg/agent"
	"github.com/harun/minder/pkg/events"
	"github.com/harun/minder/pkg/knowledge"
	"github.com/harun/minder/pkg/playbook"
	"github.com/harun/minder/pkg/session"
)

const serviceName = "minder"

// Options holds server configuration.
type Options struct {
	Host               string
	Port               int
	Version            string
	RateLimitPerMinute int
}

// Server is the API HTTP server.
type Server struct {
	options     Options
	server      *http.Server
	loop        *agent.Loop
	retrieval   *knowledge.Service
	knowledge   *knowledge.Store
	sessions    *session.Store
	playbooks   *playbook.Store
	hub         *events.Hub
	rateLimiter *RateLimiter
	logger      zerolog.Logger
	startTime   time.Time

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// Deps carries the server's collaborators.
type Deps struct {
	Loop      *agent.Loop
	Retrieval *knowledge.Service
	Knowledge *knowledge.Store
	Sessions  *session.Store
	Playbooks *playbook.Store
	Hub       *events.Hub
	Logger    zerolog.Logger
}

// New creates an API server.
func New(options Options, deps Deps) (*Server, error) {
	if options.Port == 0 {
		options.Port = 8003
	}
	if options.Host == "" {
		options.Host = "0.0.0.0"
	}
	if options.RateLimitPerMinute == 0 {
		options.RateLimitPerMinute = 100
	}
	if options.Version == "" {
		options.Version = "dev"
	}

	if deps.Loop == nil {
		return nil, fmt.Errorf("agent loop is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if deps.Knowledge == nil || deps.Retrieval == nil {
		return nil, fmt.Errorf("knowledge store and retrieval service are required")
	}
	if deps.Playbooks == nil {
		return nil, fmt.Errorf("playbook store is required")
	}

	hub := deps.Hub
	if hub == nil {
		hub = events.NewHub(deps.Logger)
	}

	return &Server{
		options:     options,
		loop:        deps.Loop,
		retrieval:   deps.Retrieval,
		knowledge:   deps.Knowledge,
		sessions:    deps.Sessions,
		playbooks:   deps.Playbooks,
		hub:         hub,
		rateLimiter: NewRateLimiter(options.RateLimitPerMinute),
		logger:      deps.Logger,
		startTime:   time.Now(),
	}, nil
}

// Handler builds the full route table with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/memory/latest", s.handleMemoryLatest)
	mux.HandleFunc("/memory/store", s.handleMemoryStore)
	mux.HandleFunc("/memory/playbook", s.handleMemoryPlaybook)
	mux.HandleFunc("/rag/query", s.handleRAGQuery)
	mux.HandleFunc("/api/v1/plan", s.handlePlan)
	mux.HandleFunc("/ws", s.hub.HandleWS)
	mux.Handle("/metrics", observability.MetricsHandler())

	return s.withMiddleware(mux)
}

// Start runs the server until it is stopped. Blocking.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    net.JoinHostPort(s.options.Host, fmt.Sprintf("%d", s.options.Port)),
		Handler: s.Handler(),
	}

	s.logger.Info().
		Str("host", s.options.Host).
		Int("port", s.options.Port).
		Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start API server: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down API server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	s.rateLimiter.Stop()
	s.hub.Close()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown API server: %w", err)
	}

	s.logger.Info().Msg("API server stopped")
	return nil
}

// withMiddleware applies shutdown guarding, request-id propagation,
// rate limiting, and request logging around the route table.
func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		s.shutdownMu.RLock()
		if s.isShuttingDown {
			s.shutdownMu.RUnlock()
			http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
			return
		}
		s.shutdownMu.RUnlock()

		s.inFlightReqs.Add(1)
		defer s.inFlightReqs.Done()

		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			if id, err := gonanoid.New(); err == nil {
				requestID = id
			}
		}
		w.Header().Set("X-Request-Id", requestID)

		// The metrics scrape and the event stream are exempt from the
		// per-client budget.
		if r.URL.Path != "/metrics" && r.URL.Path != "/ws" {
			ip := clientIP(r)
			if !s.rateLimiter.Allow(ip) {
				retryAfter := s.rateLimiter.RetryAfter(ip)
				s.logger.Warn().
					Str("ip", ip).
					Str("path", r.URL.Path).
					Int("retry_after", retryAfter).
					Msg("Rate limit exceeded")
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
		}

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r.WithContext(withRequestID(r.Context(), requestID)))

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Str("request_id", requestID).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.written {
		r.status = status
		r.written = true
	}
	r.ResponseWriter.WriteHeader(status)
}

// Hijack delegates to the wrapped writer so the WebSocket upgrade on
// /ws keeps working behind the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

type requestIDKey struct{}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id set by the middleware,
// or an empty string.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
