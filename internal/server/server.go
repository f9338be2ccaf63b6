// Package server exposes the dependency store over HTTP.
//
// The API is the authoritative validation point: every mutation is checked
// server-side with the same self/duplicate/cycle rules the client guard
// applies, so an optimistic client and the server can never disagree about
// whether an edge is legal.
package server

import (
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/taskdeck/taskgraph/pkg/layout"
	"github.com/taskdeck/taskgraph/pkg/store"
)

// Server wires the REST routes over a store.Store.
type Server struct {
	store  store.Store
	layout layout.Config // defaults for server-triggered layout runs
	logger *log.Logger
}

// New creates a Server. layoutCfg provides the defaults for the layout
// endpoint; a zero value means package defaults. A nil logger falls back
// to log.Default().
func New(s store.Store, layoutCfg layout.Config, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{store: s, layout: layoutCfg, logger: logger}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(sessionOrigin)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1/graphs/{scopeID}", func(r chi.Router) {
		r.Get("/dependencies", s.handleListDependencies)
		r.Post("/dependencies", s.handleCreateDependency)
		r.Delete("/dependencies/{edgeID}", s.handleDeleteDependency)
		r.Get("/positions", s.handleListPositions)
		r.Put("/tasks/{taskID}/position", s.handleUpdatePosition)
		r.Post("/layout", s.handleTriggerLayout)
	})
	return r
}

// logRequests logs one line per request with method, path, status, and
// duration at debug level.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).Round(time.Microsecond),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// sessionOrigin copies the caller's X-Session-ID header into the request
// context so published change events name the client session that caused
// them, letting that session skip its own echoes.
func sessionOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get("X-Session-ID"); id != "" {
			r = r.WithContext(store.WithOrigin(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
