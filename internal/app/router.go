package app

import (
	"net/http"

	"github.com/aliuyar1234/guidedq/internal/apperrors"
	"github.com/aliuyar1234/guidedq/internal/audit"
	"github.com/aliuyar1234/guidedq/internal/auth"
	"github.com/aliuyar1234/guidedq/internal/config"
	"github.com/aliuyar1234/guidedq/internal/discussions"
	"github.com/aliuyar1234/guidedq/internal/invitations"
	"github.com/aliuyar1234/guidedq/internal/metrics"
	"github.com/aliuyar1234/guidedq/internal/modules"
	"github.com/aliuyar1234/guidedq/internal/projects"
	"github.com/aliuyar1234/guidedq/internal/tasks"
	"github.com/aliuyar1234/guidedq/internal/web"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Deps are the collaborators the router hands to handlers
type Deps struct {
	Pool        *pgxpool.Pool
	Config      *config.Config
	Catalog     modules.Loader
	Invitations *invitations.Service
}

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	cfg := d.Config
	pool := d.Pool
	isProduction := !cfg.IsDev()
	sessions := auth.Sessions{Secret: cfg.JWTSecret, Days: cfg.SessionDays, IsProduction: isProduction}
	auditor := audit.NewWriter(pool)

	r.Use(middleware.RealIP)
	r.Use(apperrors.RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.BaseURL},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", auth.CSRFHeaderName},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(auth.AuthMiddleware(cfg.JWTSecret, isProduction))

	r.Get("/healthz", handleHealthz)
	r.Get("/readyz", handleReadyz(pool))
	r.Handle("/metrics", metrics.Handler())

	// HTML pages
	r.Group(func(r chi.Router) {
		r.Use(NoCacheMiddleware)
		r.Get("/", web.HandleHomePage(pool, isProduction))
		r.Get("/accounts/signup", web.HandleSignupPage(isProduction, cfg.BaseURL))
		r.Get("/accounts/login", web.HandleLoginPage(isProduction, cfg.BaseURL))
	})

	// Pages acceptance redirects land on
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuthPage)
		r.Use(NoCacheMiddleware)
		r.Get("/projects/{project_id}/{slug}", web.HandleProjectPage(pool, isProduction))
		r.Get("/tasks/{task_id}/{slug}", web.HandleTaskPage(pool, d.Catalog, isProduction))
		r.Get("/tasks/{task_id}/{slug}/question/{question_id}", web.HandleDiscussionPage(pool, d.Catalog, isProduction))
	})

	// Acceptance link from the invitation email
	r.With(
		NoCacheMiddleware,
		RateLimitByIP(cfg.AcceptRateLimit, "Too many requests. Try again later."),
	).Get("/invitation/accept/{code}", invitations.HandleAccept(d.Invitations, sessions))

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(CSRFMiddleware)

		r.Post("/signup", auth.HandleSignup(pool, auditor, sessions, cfg.BaseURL))
		r.With(RateLimitByIP(cfg.LoginRateLimit, "Too many login attempts. Try again later.")).
			Post("/login", auth.HandleLogin(pool, auditor, sessions, cfg.BaseURL))
		r.With(auth.RequireAuth).Post("/logout", auth.HandleLogout(sessions))
	})

	r.Get("/api/v1/messages", web.HandleMessages(isProduction))

	r.Route("/api/v1/projects", func(r chi.Router) {
		r.Use(CSRFMiddleware)
		r.Use(auth.RequireAuth)

		r.Post("/", projects.HandleCreate(pool, auditor))
		r.Get("/", projects.HandleList(pool))
		r.Get("/{project_id}/members", projects.HandleListMembers(pool))
		r.Get("/{project_id}/audit", projects.HandleListAuditLog(pool))
		r.Post("/{project_id}/tasks", tasks.HandleStart(pool, auditor, d.Catalog))
		r.Get("/{project_id}/invitations", invitations.HandleList(d.Invitations))
	})

	r.Route("/api/v1/tasks", func(r chi.Router) {
		r.Use(CSRFMiddleware)
		r.Use(auth.RequireAuth)

		r.Post("/{task_id}/questions/{question_id}/discussion", discussions.HandleGetOrCreate(pool, d.Catalog))
	})

	r.Route("/api/v1/invitations", func(r chi.Router) {
		r.Use(CSRFMiddleware)
		r.Use(auth.RequireAuth)

		r.Post("/", invitations.HandleCreate(d.Invitations, auditor))
		r.Post("/{invitation_id}/cancel", invitations.HandleCancel(d.Invitations, auditor))
		r.Post("/{invitation_id}/resend", invitations.HandleResend(d.Invitations))
	})

	return r
}

// handleHealthz returns a simple liveness check
func handleHealthz(w http.ResponseWriter, r *http.Request) {
	apperrors.WriteSuccess(w, r, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleReadyz reports 503 until the database answers a ping
func handleReadyz(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pool == nil {
			apperrors.WriteServiceUnavailable(w, r, "Database connection failed")
			return
		}
		if err := pool.Ping(r.Context()); err != nil {
			apperrors.WriteServiceUnavailable(w, r, "Database connection failed")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]string{
			"status": "ready",
			"db":     "ok",
		})
	}
}
