// Package api exposes the HTTP interface for the infrastructure API.
package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/infra-api/internal/auth"
	"github.com/JakeFAU/infra-api/internal/config"
	"github.com/JakeFAU/infra-api/internal/id/uuid"
	"github.com/JakeFAU/infra-api/internal/inventory"
	"github.com/JakeFAU/infra-api/internal/metrics"
	"github.com/JakeFAU/infra-api/internal/progress"
	"github.com/JakeFAU/infra-api/internal/provider"
)

// Enqueuer accepts queue items for asynchronous execution.
type Enqueuer interface {
	Enqueue(ctx context.Context, item inventory.QueueItem) error
}

// Forwarder relays an action to the region owning a resource.
type Forwarder interface {
	Forward(ctx context.Context, region int64, collection string, id int64, action string, data map[string]any) (map[string]any, error)
}

// Deps are the collaborators the HTTP handlers call into.
type Deps struct {
	Inventory inventory.Inventory
	Tasks     inventory.TaskStore
	Events    inventory.EventStore
	Queue     Enqueuer
	IDs       inventory.IDGenerator
	Clock     inventory.Clock
	Emitter   progress.Emitter
	Auth      *auth.Authenticator
	Providers *provider.Registry
	Forwarder Forwarder
	// Ready is consulted by /readyz; nil means always ready.
	Ready func(ctx context.Context) error
}

// Server wires HTTP handlers to the inventory, task store, and queue.
type Server struct {
	router      chi.Router
	deps        Deps
	cfg         config.Config
	logger      *zap.Logger
	collections map[string]*collection
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.NopEmitter{}
	}
	if deps.Providers == nil {
		deps.Providers = provider.DefaultRegistry()
	}
	s := &Server{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
	}
	s.collections = map[string]*collection{
		collectionVMs:            s.vmsCollection(),
		collectionNetworkRouters: s.networkRoutersCollection(),
		collectionTasks:          s.tasksCollection(),
		collectionProviders:      s.providersCollection(),
		collectionServers:        s.serversCollection(),
	}

	timeout := 60 * time.Second
	if cfg.Server.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.Server.TimeoutSeconds) * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		if deps.Auth != nil {
			r.Use(deps.Auth.Middleware)
		}
		for _, name := range []string{
			collectionVMs, collectionNetworkRouters, collectionTasks, collectionProviders, collectionServers,
		} {
			c := s.collections[name]
			r.Route("/"+name, func(r chi.Router) {
				r.Get("/", s.listCollection(c))
				r.Post("/", s.postCollection(c))
				if c.options != nil {
					r.Options("/", c.options)
				}
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.getResource(c))
					r.Post("/", s.postResource(c))
					r.Delete("/", s.deleteResource(c))
					if c.resourceOptions != nil {
						r.Options("/", c.resourceOptions)
					}
				})
			})
		}
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type requestIDKey struct{}

// RequestID returns the id assigned to the request carrying ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().NewRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.Any("error", rec),
					zap.String("request_id", RequestID(r.Context())),
				)
				writeError(w, http.StatusInternalServerError, kindInternal, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}
