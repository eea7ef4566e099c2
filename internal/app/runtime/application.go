// Package runtime assembles the production process: configuration, database,
// external clients, the application services and the HTTP server.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	app "github.com/fl2m/platform/internal/app"
	"github.com/fl2m/platform/internal/app/httpapi"
	"github.com/fl2m/platform/internal/app/storage/postgres"
	"github.com/fl2m/platform/internal/cache"
	"github.com/fl2m/platform/internal/config"
	"github.com/fl2m/platform/internal/notify"
	"github.com/fl2m/platform/internal/platform/migrations"
	"github.com/fl2m/platform/internal/stripeconnect"
	"github.com/fl2m/platform/internal/supabase"
	"github.com/fl2m/platform/pkg/logger"
)

// Application wires core dependencies and manages the process lifecycle.
type Application struct {
	cfg    *config.Config
	log    *logger.Logger
	app    *app.Application
	server *httpapi.Server
	router *httpapi.Router
	db     *sql.DB
	redis  *cache.Redis

	stopCleanup context.CancelFunc
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// NewLogger builds the process logger from configuration.
func NewLogger(cfg *config.Config) *logger.Logger {
	return logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})
}

// NewApplication constructs the application. withHTTP attaches the API
// server; command line tools that only run jobs leave it off. Without a
// database DSN the in-memory stores are used.
func NewApplication(cfg *config.Config, withHTTP bool) (*Application, error) {
	log := NewLogger(cfg)
	a := &Application{cfg: cfg, log: log}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	stores, err := a.buildStores(ctx)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("configure stores: %w", err)
	}
	deps, err := a.buildDependencies(ctx)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("configure integrations: %w", err)
	}

	// jobs are driven by the command line when no server runs
	appCfg := *cfg
	if !withHTTP {
		appCfg.Jobs.Enabled = false
	}
	a.app, err = app.New(appCfg, stores, deps, log)
	if err != nil {
		a.close()
		return nil, err
	}

	if withHTTP {
		a.router = httpapi.NewRouter(a.app, httpapi.Options{
			JWTSecret:         cfg.Supabase.JWTSecret,
			CORSOrigins:       cfg.Server.Origins(),
			RequestsPerSecond: float64(cfg.RateLimit.RequestsPerSecond),
			Burst:             cfg.RateLimit.Burst,
			Log:               log.Named("http"),
		})
		a.server = httpapi.NewServer(cfg.Server.Addr(), a.router, cfg.Server.ShutdownTimeout, log.Named("http"))
		a.app.Attach(a.server)
	}
	return a, nil
}

func (a *Application) buildStores(ctx context.Context) (app.Stores, error) {
	dbCfg := a.cfg.Database
	if dbCfg.DSN == "" {
		a.log.Warn("DATABASE_URL not set; using in-memory stores")
		return app.Stores{}, nil
	}

	db, err := postgres.Open(ctx, dbCfg.DSN, dbCfg.MaxOpenConns, dbCfg.MaxIdleConns, dbCfg.ConnMaxLifetime)
	if err != nil {
		return app.Stores{}, err
	}
	a.db = db

	if dbCfg.AutoMigrate {
		if err := migrations.Apply(ctx, db); err != nil {
			return app.Stores{}, err
		}
		a.log.Info("database migrations applied")
	}

	store := postgres.New(db)
	return app.Stores{
		Profiles:      store,
		Contracts:     store,
		Beneficiaries: store,
		Appointments:  store,
		Payments:      store,
		Invoices:      store,
		Draws:         store,
	}, nil
}

func (a *Application) buildDependencies(ctx context.Context) (app.Dependencies, error) {
	var deps app.Dependencies

	if a.cfg.Stripe.SecretKey != "" {
		deps.Gateway = stripeconnect.New(a.cfg.Stripe.SecretKey, a.cfg.Stripe.WebhookSecret)
	}

	if a.cfg.Resend.APIKey != "" {
		deps.Mailer = notify.NewResendMailer(a.cfg.Resend.APIKey, a.cfg.Resend.From)
	}

	if a.cfg.Supabase.URL != "" && a.cfg.Supabase.ServiceRoleKey != "" {
		client, err := supabase.New(supabase.Config{
			ProjectURL:     a.cfg.Supabase.URL,
			ServiceRoleKey: a.cfg.Supabase.ServiceRoleKey,
		})
		if err != nil {
			return deps, fmt.Errorf("supabase: %w", err)
		}
		deps.Files = client.Storage()
	} else {
		a.log.Warn("Supabase storage not configured; document uploads are disabled")
	}

	if a.cfg.Redis.URL != "" {
		redis, err := cache.NewRedis(ctx, a.cfg.Redis.URL)
		if err != nil {
			return deps, fmt.Errorf("redis: %w", err)
		}
		a.redis = redis
		deps.DrawCache = redis
	}

	return deps, nil
}

// App exposes the wired application services.
func (a *Application) App() *app.Application {
	return a.app
}

// Addr returns the HTTP listen address, or "" without a server.
func (a *Application) Addr() string {
	if a.server == nil {
		return ""
	}
	return a.server.Addr()
}

// Run starts the services. It returns once they are running.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return err
	}
	if a.router != nil {
		cleanupCtx, cancel := context.WithCancel(context.Background())
		a.stopCleanup = cancel
		a.router.Limiter.StartCleanup(cleanupCtx, time.Minute)
	}
	return nil
}

// Shutdown stops the services and releases connections.
func (a *Application) Shutdown(ctx context.Context) error {
	if a.stopCleanup != nil {
		a.stopCleanup()
	}
	err := a.app.Stop(ctx)
	a.close()
	return err
}

func (a *Application) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis connection")
		}
		a.redis = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
		a.db = nil
	}
}
