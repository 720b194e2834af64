// Package kgassist wires the assistant core into a runnable service. Most
// applications interact with this package by:
//  1. Loading a config.Config (config.Load)
//  2. Creating an App via New, optionally adding domain tools and stores
//  3. Running migrations (Migrate) and serving (Serve)
//
// The façade delegates turn handling to orchestrator.Orchestrator while
// keeping setup concise. An empty database driver and Redis address keep all
// state in memory, which is what local development and tests use; production
// deployments configure sqlite or postgres and a shared Redis ledger.
package kgassist

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"

	"github.com/hupe1980/kgassist/builtin"
	"github.com/hupe1980/kgassist/classifier"
	"github.com/hupe1980/kgassist/config"
	"github.com/hupe1980/kgassist/core"
	"github.com/hupe1980/kgassist/database"
	"github.com/hupe1980/kgassist/executor"
	"github.com/hupe1980/kgassist/executor/redisledger"
	"github.com/hupe1980/kgassist/logging"
	"github.com/hupe1980/kgassist/memory"
	memorygorm "github.com/hupe1980/kgassist/memory/gormstore"
	"github.com/hupe1980/kgassist/metrics"
	"github.com/hupe1980/kgassist/migrate"
	"github.com/hupe1980/kgassist/model"
	"github.com/hupe1980/kgassist/model/anthropic"
	"github.com/hupe1980/kgassist/model/openai"
	"github.com/hupe1980/kgassist/orchestrator"
	"github.com/hupe1980/kgassist/router"
	"github.com/hupe1980/kgassist/server"
	"github.com/hupe1980/kgassist/session"
	sessiongorm "github.com/hupe1980/kgassist/session/gormstore"
	"github.com/hupe1980/kgassist/tool"
)

// Options configures the App.
type Options struct {
	// Tools are registered next to the built-in navigate tool.
	Tools []tool.Definition

	// Routes override builtin.DefaultRoutes for the navigate tool.
	Routes map[string]builtin.Route

	// MockRules extend the navigate rules of providers of kind "mock".
	MockRules []model.MockRule

	// Stores override the ones derived from the database section.
	SessionStore session.Store
	MemoryStore  memory.Store

	// Logger overrides the one built from the logging section.
	Logger logging.Logger
}

// App is the assembled service.
type App struct {
	Config       *config.Config
	Logger       logging.Logger
	Metrics      *metrics.Recorder
	Catalog      *router.Catalog
	Registry     *tool.Registry
	Orchestrator *orchestrator.Orchestrator

	db         *gorm.DB
	migrations []migrate.Migration
	ledger     *redisledger.Ledger
	scheduler  *router.RefreshScheduler
	prom       *prometheus.Registry
}

// New assembles an App from cfg. Close releases what it opened.
func New(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}

	app := &App{Config: cfg, prom: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	if app.Logger = opts.Logger; app.Logger == nil {
		lc, err := cfg.LoggingConfig()
		if err != nil {
			return nil, err
		}
		if app.Logger, err = logging.New(lc); err != nil {
			return nil, err
		}
	}
	app.prom.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	app.Metrics = metrics.New(app.prom)

	sessions, memories, err := app.openStores(opts)
	if err != nil {
		return nil, err
	}

	var ledger executor.Ledger = executor.NewMemoryLedger()
	if cfg.Redis.Addr != "" {
		app.ledger, err = redisledger.New(redisledger.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		ledger = app.ledger
	}

	app.Catalog, err = router.NewCatalog(ctx, cfg.CatalogSource(), func(o *router.CatalogOptions) {
		o.Logger = app.Logger
	})
	if err != nil {
		return nil, fmt.Errorf("load provider catalogue: %w", err)
	}
	if cfg.Refresh.Schedule != "" {
		if app.scheduler, err = router.NewRefreshScheduler(app.Catalog, cfg.Refresh.Schedule, app.Logger); err != nil {
			return nil, err
		}
	}

	routes := opts.Routes
	if routes == nil {
		routes = builtin.DefaultRoutes
	}
	app.Registry = tool.NewRegistry()
	if err := app.Registry.Register(builtin.Navigate(routes)); err != nil {
		return nil, err
	}
	for _, def := range opts.Tools {
		if err := app.Registry.Register(def); err != nil {
			return nil, err
		}
	}

	counter, err := cfg.MemoryCounter()
	if err != nil {
		return nil, err
	}

	selector := model.NewSelector(func(o *model.SelectorOptions) {
		o.Logger = app.Logger
		o.OnFailure = app.Metrics.ProviderFailed
	})
	mockRules := append(builtin.MockRules(routes), opts.MockRules...)
	selector.Register("mock", func(pc core.ProviderConfig) (model.Provider, error) {
		return model.NewMockProvider(pc.Name, mockRules...), nil
	})
	selector.Register("openai", openai.Factory)
	selector.Register("anthropic", anthropic.Factory)

	exec := executor.New(app.Registry, func(o *executor.Options) {
		o.Config = cfg.ExecutorConfig()
		o.Ledger = ledger
		o.Logger = app.Logger
		o.Metrics = app.Metrics
	})

	app.Orchestrator, err = orchestrator.New(app.Registry, selector, func(o *orchestrator.Options) {
		o.Config = cfg.OrchestratorConfig()
		o.Executor = exec
		o.Classifier = classifier.New(func(co *classifier.Options) {
			if cfg.Orchestrator.ClassifyTimeout > 0 {
				co.Timeout = cfg.Orchestrator.ClassifyTimeout
			}
			co.Logger = app.Logger
		})
		o.Memory = memory.NewContextBuilder(memories, func(mo *memory.Options) {
			mo.Limits = cfg.MemoryLimits()
			mo.Counter = counter
			mo.Logger = app.Logger
		})
		o.Sessions = sessions
		o.Logger = app.Logger
		o.Metrics = app.Metrics
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

func (a *App) openStores(opts Options) (session.Store, memory.Store, error) {
	sessions, memories := opts.SessionStore, opts.MemoryStore
	if a.Config.Database.Driver != "" {
		db, err := database.Open(a.Config.Database.Driver, a.Config.Database.DSN)
		if err != nil {
			return nil, nil, err
		}
		a.db = db
		a.migrations = append(sessiongorm.Migrations(), memorygorm.Migrations()...)
		if sessions == nil {
			if sessions, err = sessiongorm.New(db); err != nil {
				return nil, nil, err
			}
		}
		if memories == nil {
			if memories, err = memorygorm.New(db); err != nil {
				return nil, nil, err
			}
		}
	}
	if sessions == nil {
		sessions = session.NewInMemoryStore()
	}
	if memories == nil {
		memories = memory.NewInMemoryStore()
	}
	return sessions, memories, nil
}

// Migrate applies pending schema migrations and returns their IDs. It is a
// no-op without a database.
func (a *App) Migrate(ctx context.Context) ([]string, error) {
	if a.db == nil {
		return nil, nil
	}
	r, err := migrate.New(a.db, a.migrations, func(o *migrate.Options) { o.Logger = a.Logger })
	if err != nil {
		return nil, err
	}
	return r.Run(ctx)
}

// Handler returns the HTTP handler serving the chat endpoints.
func (a *App) Handler() http.Handler {
	return server.NewHandler(a.Orchestrator, a.Catalog, a.serverOptions)
}

func (a *App) serverOptions(o *server.Options) {
	o.Logger = a.Logger
	o.Metrics = a.Metrics
	o.AllowedOrigins = a.Config.Server.AllowedOrigins
	o.Ready = a.ready
}

func (a *App) ready() error {
	if a.db == nil {
		return nil
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Serve listens on the configured address until ctx is done, then shuts down
// gracefully within the configured timeout. Running turns see their request
// context cancelled when the timeout expires.
func (a *App) Serve(ctx context.Context) error {
	srv := server.New(a.Config.Server.Addr, a.Orchestrator, a.Catalog, a.serverOptions)
	if a.scheduler != nil {
		a.scheduler.Start()
		defer a.scheduler.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("kgassist.serve.listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := a.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	a.Logger.Info("kgassist.serve.shutdown", "active_turns", a.Orchestrator.ActiveTurns())
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close releases the database and Redis connections.
func (a *App) Close() error {
	var errs []error
	if a.ledger != nil {
		errs = append(errs, a.ledger.Close())
	}
	if a.db != nil {
		errs = append(errs, database.Close(a.db))
	}
	return errors.Join(errs...)
}
