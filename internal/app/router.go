package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/branchledger/branchledger/internal/auth"
	"github.com/branchledger/branchledger/internal/branches"
	"github.com/branchledger/branchledger/internal/changereq"
	"github.com/branchledger/branchledger/internal/dashboard"
	"github.com/branchledger/branchledger/internal/financials"
	"github.com/branchledger/branchledger/internal/finlog"
	"github.com/branchledger/branchledger/internal/policy"
	"github.com/branchledger/branchledger/internal/profiles"
	"github.com/branchledger/branchledger/internal/shared"
	"github.com/branchledger/branchledger/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Policy         policy.Middleware

	AuthHandler       *auth.Handler
	ProfilesHandler   *profiles.Handler
	BranchesHandler   *branches.Handler
	FinancialsHandler *financials.Handler
	ChangeReqHandler  *changereq.Handler
	FinLogHandler     *finlog.Handler
	DashboardHandler  *dashboard.Handler
	JobsHandler       *jobs.Handler
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			limit, window := 10, time.Minute
			if params.Config != nil && params.Config.LoginRateLimit > 0 {
				limit = params.Config.LoginRateLimit
				window = params.Config.LoginRateWindow
			}
			r.Use(httprate.Limit(limit, window, httprate.WithKeyFuncs(httprate.KeyByIP)))
			params.AuthHandler.MountRoutes(r)
		})

		r.Group(func(r chi.Router) {
			r.Use(params.Policy.RequireAuth)

			r.Route("/branches", func(r chi.Router) {
				params.BranchesHandler.MountRoutes(r)
				params.FinancialsHandler.MountRoutes(r)
			})
			r.Route("/dashboard", params.DashboardHandler.MountRoutes)
			r.Route("/change-requests", params.ChangeReqHandler.MountRoutes)
			r.Route("/approvals", params.ChangeReqHandler.MountPendingCount)
			r.Route("/financial-logs", params.FinLogHandler.MountRoutes)
			r.Route("/profiles", params.ProfilesHandler.MountRoutes)
			r.Route("/admin", func(r chi.Router) {
				params.ProfilesHandler.MountAdminRoutes(r)
				if params.JobsHandler != nil {
					r.Route("/jobs", params.JobsHandler.MountRoutes)
				}
			})
		})
	})

	return r
}
