package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/isdelr/safeback/internal/api/handlers"
	"github.com/isdelr/safeback/internal/auth"
	"github.com/isdelr/safeback/internal/provider"
	"github.com/isdelr/safeback/internal/services"
	"github.com/isdelr/safeback/internal/websocket"
)

// Dependencies are the services the HTTP layer is built on.
type Dependencies struct {
	Auth           *auth.Authenticator
	Hub            *websocket.Hub
	Registry       *provider.Registry
	Snapshots      services.SnapshotServiceProvider
	Restores       services.RestoreServiceProvider
	Settings       services.SettingsServiceProvider
	Members        services.MemberServiceProvider
	Audit          services.AuditServiceProvider
	Scheduler      handlers.SchedulerRunner
	AllowedOrigins []string
}

// NewRouter creates and configures a new Chi router.
func NewRouter(deps Dependencies) *chi.Mux {
	r := chi.NewRouter()

	// Basic middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", auth.MaintenanceHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Initialize handlers
	snapshotHandler := handlers.NewSnapshotHandler(deps.Snapshots, deps.Members, deps.Registry)
	restoreHandler := handlers.NewRestoreHandler(deps.Restores)
	settingsHandler := handlers.NewSettingsHandler(deps.Settings, deps.Members)
	auditHandler := handlers.NewAuditHandler(deps.Audit, deps.Members)
	schedulerHandler := handlers.NewSchedulerHandler(deps.Scheduler)
	wsHandler := handlers.NewWebSocketHandler(deps.Hub, deps.Members, deps.AllowedOrigins)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// API versioning
	r.Route("/api/v1", func(r chi.Router) {
		r.With(deps.Auth.JWTOrMaintenanceMiddleware()).Post("/capture", snapshotHandler.Capture)

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.JWTMiddleware())

			r.Post("/preview", restoreHandler.Preview)
			r.Post("/restore", restoreHandler.Restore)
			r.Get("/providers", snapshotHandler.Providers)
			r.Get("/snapshots", snapshotHandler.List)
			r.Get("/audit", auditHandler.List)
			r.Get("/settings", settingsHandler.Get)
			r.Put("/settings", settingsHandler.Put)
			// WebSocket connection endpoint
			r.Get("/ws/{workspaceId}", wsHandler.Serve)
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.MaintenanceMiddleware())
			r.Post("/scheduler/run", schedulerHandler.Run)
		})
	})

	return r
}
