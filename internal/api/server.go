// Package api exposes job admission and job queries over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/noteably/internal/core/apperr"
	"github.com/vietddude/noteably/internal/health"
	"github.com/vietddude/noteably/internal/infra/storage"
	"github.com/vietddude/noteably/internal/ingest"
)

// OwnerHeader carries the authenticated owner id, set by the fronting
// authentication proxy.
const OwnerHeader = "X-User-ID"

// Submitter admits uploads.
type Submitter interface {
	Submit(ctx context.Context, up ingest.Upload) (*ingest.Result, error)
}

// Deps bundles the server's collaborators.
type Deps struct {
	Ingest  Submitter
	Jobs    storage.JobRepository
	Content storage.ContentRepository
	Subs    storage.SubscriptionRepository
	Health  *health.Monitor
	// MaxUploadMB bounds request bodies; uploads above it are rejected early.
	MaxUploadMB float64
}

// Server is the HTTP front end.
type Server struct {
	deps   Deps
	router *mux.Router
	server *http.Server
	log    *slog.Logger
}

// NewServer creates a new API server listening on port.
func NewServer(deps Deps, port int) *Server {
	if deps.MaxUploadMB <= 0 {
		deps.MaxUploadMB = ingest.DefaultConfig.MaxFileSizeMB
	}
	s := &Server{
		deps:   deps,
		router: mux.NewRouter(),
		log:    slog.Default().With("component", "api"),
	}
	s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(s.logRequests)

	if s.deps.Health != nil {
		s.router.HandleFunc("/health", s.deps.Health.HandleHealth).Methods(http.MethodGet)
		s.router.HandleFunc("/health/detailed", s.deps.Health.HandleDetailed).Methods(http.MethodGet)
	}
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(requireOwner)
	api.HandleFunc("/jobs", s.handleCreateJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}/content", s.handleGetContent).Methods(http.MethodGet)
	api.HandleFunc("/subscription", s.handleGetSubscription).Methods(http.MethodGet)
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info("API server listening", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type ownerKey struct{}

func requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := r.Header.Get(OwnerHeader)
		if owner == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Authentication required", Type: string(apperr.KindUnauthenticated)})
			return
		}
		ctx := context.WithValue(r.Context(), ownerKey{}, owner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func ownerFrom(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("Request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
