package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/aliuyar1234/guidedq/internal/audit"
	"github.com/aliuyar1234/guidedq/internal/config"
	"github.com/aliuyar1234/guidedq/internal/db"
	"github.com/aliuyar1234/guidedq/internal/invitations"
	"github.com/aliuyar1234/guidedq/internal/mailer"
	"github.com/aliuyar1234/guidedq/internal/modules"
	"github.com/aliuyar1234/guidedq/internal/web"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// App holds the application state
type App struct {
	Config      *config.Config
	DB          *pgxpool.Pool
	Invitations *invitations.Service
	Router      http.Handler

	server *http.Server
}

// New creates and initializes a new application instance
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	SetupLogger(cfg.LogLevel, cfg.IsDev())

	log.Info().Msg("Initializing guidedq application")
	log.Info().Interface("config", cfg.RedactedValues()).Msg("Configuration loaded")

	log.Info().Msg("Connecting to database...")
	pool, err := db.Connect(ctx, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info().Msg("Database connection established")

	if cfg.IsDev() {
		log.Info().Msg("Development mode: running migrations automatically")
		if _, err := db.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	} else {
		log.Info().Msg("Production mode: migrations must be run manually")
	}

	if err := web.InitTemplates(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize templates: %w", err)
	}

	svc, catalog, err := NewInvitationService(pool, cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}

	app := &App{
		Config:      cfg,
		DB:          pool,
		Invitations: svc,
		Router: NewRouter(Deps{
			Pool:        pool,
			Config:      cfg,
			Catalog:     catalog,
			Invitations: svc,
		}),
	}

	log.Info().Msg("Application initialized successfully")
	return app, nil
}

// NewInvitationService wires the invitation service to Postgres, the module
// catalog and the configured mail transport.
func NewInvitationService(pool *pgxpool.Pool, cfg *config.Config) (*invitations.Service, *modules.Catalog, error) {
	renderer, err := mailer.NewRenderer()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load email templates: %w", err)
	}

	var dispatcher mailer.Dispatcher
	if cfg.MailRelayURL != "" {
		dispatcher = mailer.NewHTTPRelay(renderer, cfg.MailRelayURL, cfg.MailRelayToken, cfg.MailTimeoutMS)
	} else {
		log.Warn().Msg("GQ_MAIL_RELAY_URL not set: invitation emails are logged, not delivered")
		dispatcher = mailer.NewLogDispatcher(renderer)
	}

	catalog := modules.NewCatalog(cfg.ModulesDir, cfg.ModuleCacheSize)
	store := invitations.NewPGStore(pool)

	svc := invitations.NewService(store, catalog, dispatcher, audit.NewWriter(pool), invitations.Options{
		BaseURL:  cfg.BaseURL,
		MailFrom: cfg.MailFrom,
	})
	return svc, catalog, nil
}

// Start starts the HTTP server and blocks until it stops
func (a *App) Start() error {
	addr := a.Config.HTTPAddr
	log.Info().Str("addr", addr).Msg("Starting HTTP server")

	a.server = &http.Server{
		Addr:         addr,
		Handler:      a.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return a.server.ListenAndServe()
}

// Shutdown drains in-flight requests and closes the database pool
func (a *App) Shutdown(ctx context.Context) error {
	defer a.Close()
	if a.server == nil {
		return nil
	}
	log.Info().Msg("Shutting down HTTP server")
	return a.server.Shutdown(ctx)
}

// Close releases the database pool
func (a *App) Close() {
	if a.DB != nil {
		log.Info().Msg("Closing database connection")
		a.DB.Close()
		a.DB = nil
	}
}

// SetupLogger configures the global logger. Dev gets console output, prod JSON.
func SetupLogger(level string, pretty bool) {
	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Debug().Str("level", level).Msg("Logger configured")
}
