// Package httpserver exposes the daemon's JSON API: health/status, search
// and fetch, memory CRUD, activity browsing, governance, backup, tunnel
// and cloud-relay lifecycle, devtools, the agent hook receiver, and
// self-restart. Middleware order, outermost first: dynamic CORS, bearer
// token auth, request size limit.
package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/oak-dev/cid/internal/daemon"
)

// Server wraps the router and the application handle.
type Server struct {
	app    *daemon.App
	logger *slog.Logger
}

// New builds the server; Handler assembles the routes.
func New(app *daemon.App, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{app: app, logger: logger}
}

// Handler assembles the middleware stack and routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			return s.app.CORS.Allowed(origin)
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(s.requireAuth)
	r.Use(s.limitBodySize)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/status", s.handleStatus)

	r.Post("/api/search", s.handleSearch)
	r.Post("/api/fetch", s.handleFetch)
	r.Post("/api/remember", s.handleRemember)
	r.Post("/api/context", s.handleContext)

	r.Get("/api/memories", s.handleListMemories)
	r.Post("/api/memories/bulk-update", s.handleBulkUpdateMemories)
	r.Post("/api/memories/bulk-resolve", s.handleBulkResolveMemories)
	r.Post("/api/memories/{id}/status", s.handleUpdateMemoryStatus)

	r.Route("/api/activity", func(r chi.Router) {
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Delete("/sessions/{id}", s.handleDeleteSession)
		r.Get("/sessions/{id}/batches", s.handleListBatches)
		r.Get("/sessions/{id}/related", s.handleGetRelated)
		r.Post("/sessions/{id}/related", s.handleAddRelated)
		r.Delete("/sessions/{id}/related", s.handleDeleteRelated)
		r.Get("/sessions/{id}/suggested-related", s.handleSuggestedRelated)
		r.Get("/batches/{id}", s.handleGetBatch)
		r.Delete("/batches/{id}", s.handleDeleteBatch)
		r.Get("/batches/{id}/activities", s.handleListActivities)
		r.Get("/activities/{id}", s.handleGetActivity)
		r.Delete("/activities/{id}", s.handleDeleteActivity)
	})

	r.Route("/api/governance", func(r chi.Router) {
		r.Get("/config", s.handleGetGovernanceConfig)
		r.Put("/config", s.handlePutGovernanceConfig)
		r.Get("/audit", s.handleGovernanceAudit)
		r.Get("/audit/summary", s.handleGovernanceAuditSummary)
		r.Post("/audit/prune", s.handleGovernanceAuditPrune)
		r.Post("/test", s.handleGovernanceTest)
	})

	r.Route("/api/backup", func(r chi.Router) {
		r.Get("/status", s.handleBackupStatus)
		r.Post("/create", s.handleBackupCreate)
		r.Post("/restore", s.handleBackupRestore)
	})

	r.Route("/api/tunnel", func(r chi.Router) {
		r.Post("/start", s.handleTunnelStart)
		r.Post("/stop", s.handleTunnelStop)
		r.Get("/status", s.handleTunnelStatus)
	})

	r.Route("/api/cloud", func(r chi.Router) {
		r.Get("/preflight", s.handleCloudPreflight)
		r.Post("/start", s.handleCloudStart)
		r.Post("/stop", s.handleCloudStop)
		r.Get("/settings", s.handleCloudGetSettings)
		r.Put("/settings", s.handleCloudPutSettings)
		r.Get("/status", s.handleCloudStatus)
		r.Post("/connect", s.handleCloudConnect)
		r.Post("/disconnect", s.handleCloudDisconnect)
	})

	r.Route("/api/devtools", func(r chi.Router) {
		r.Post("/rebuild", s.handleRebuild)
		r.Post("/reset-processing", s.handleResetProcessing)
		r.Post("/process", s.handleTriggerProcessing)
		r.Post("/re-embed", s.handleReEmbed)
		r.Get("/memory-stats", s.handleMemoryStats)
	})

	r.Post("/api/notify", s.handleNotify)
	r.Post("/api/hooks/event", s.handleHookEvent)
	r.Post("/api/restart", s.handleRestart)

	return r
}

// ListenAndServe runs the HTTP server until ctx is cancelled, then shuts
// down gracefully with a short drain window.
func (s *Server) ListenAndServe(ctx context.Context, bind string) error {
	srv := &http.Server{
		Addr:         bind,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // rebuild/restore can be slow
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
