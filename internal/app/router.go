package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/gatehouse-vms/gatehouse/internal/auth"
	"github.com/gatehouse-vms/gatehouse/internal/authz"
	"github.com/gatehouse-vms/gatehouse/internal/observability"
	"github.com/gatehouse-vms/gatehouse/internal/roles"
	"github.com/gatehouse-vms/gatehouse/internal/shared"
	"github.com/gatehouse-vms/gatehouse/internal/timeslots"
	"github.com/gatehouse-vms/gatehouse/internal/users"
	"github.com/gatehouse-vms/gatehouse/internal/visitors"
	"github.com/gatehouse-vms/gatehouse/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager

	AuthHandler      *auth.Handler
	AuthzHandler     *authz.Handler
	RolesHandler     *roles.Handler
	UsersHandler     *users.Handler
	VisitorsHandler  *visitors.Handler
	TimeSlotsHandler *timeslots.Handler
	JobHandler       *jobs.Handler

	Metrics *observability.Metrics
}

// NewRouter constructs the chi.Router with Gatehouse defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)
	if params.AuthzHandler != nil {
		r.Route("/authz", params.AuthzHandler.MountRoutes)
	}
	if params.RolesHandler != nil {
		r.Route("/roles", params.RolesHandler.MountRoutes)
	}
	if params.UsersHandler != nil {
		r.Route("/users", params.UsersHandler.MountRoutes)
	}
	if params.VisitorsHandler != nil {
		r.Route("/visitors", params.VisitorsHandler.MountRoutes)
	}
	if params.TimeSlotsHandler != nil {
		r.Route("/timeslots", params.TimeSlotsHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
