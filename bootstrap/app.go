// Package bootstrap assembles an appfuel application from its
// configuration: logger, kernel registry, startup tasks, database pool, orm,
// action factory, front controller and http server.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"appfuel/config"
	"appfuel/db"
	"appfuel/kernel"
	"appfuel/mvc"
	"appfuel/orm"
	"appfuel/server"
	"appfuel/view"

	"go.uber.org/zap"
)

const (
	healthTimeout = 5 * time.Second
	cachePingWait = 3 * time.Second
)

// App is a configured application
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Sugar    *zap.SugaredLogger
	Registry *kernel.Registry
	Pool     *db.Pool
	Handler  *db.Handler
	Cache    *orm.RedisCache
	ORM      *orm.Manager
	Actions  *mvc.ActionFactory
	Front    *mvc.Front
	Server   *server.Server
	// Statuses are the startup task results in order
	Statuses []string

	cancel       context.CancelFunc
	serverErr    chan error
	shutdownOnce sync.Once
}

// NewApp loads configFile (or config.yaml from . or ./config) and builds
// the application
func NewApp(ctx context.Context, configFile string) (*App, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	return NewAppWithConfig(ctx, cfg, nil)
}

// NewAppWithConfig builds the application from cfg. A nil logger is built
// with InitLogger.
func NewAppWithConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		var err error
		if logger, _, err = InitLogger(cfg); err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
	}
	sugar := logger.Sugar()

	a := &App{
		Config:    cfg,
		Logger:    logger,
		Sugar:     sugar,
		Registry:  kernel.NewRegistry(),
		Pool:      db.NewPool(sugar),
		serverErr: make(chan error, 1),
	}
	sugar.Infow("Appfuel starting", "env", cfg.Env, "connectors", cfg.ConnectorNames())

	if err := EnsureDataDirectories(cfg, sugar); err != nil {
		return nil, err
	}

	a.Registry.Init(kernel.ParamsFromConfig(cfg))
	tasks := kernel.NewTaskHandler(sugar,
		kernel.TimezoneTask{},
		&kernel.DatabaseTask{Pool: a.Pool, Logger: sugar, Opener: a.openConnector},
	)
	statuses, err := tasks.Run(ctx, a.Registry)
	a.Statuses = statuses
	if err != nil {
		_ = a.Pool.Shutdown()
		return nil, err
	}

	a.Handler = db.NewHandler(a.Pool, sugar)
	a.ORM = a.newORM(ctx)

	views := view.NewFactory(os.DirFS(a.Registry.GetString(kernel.KeyTemplateDir, cfg.Kernel.TemplateDir)))
	a.Actions = mvc.NewActionFactory(views, a.ORM, a.Registry, sugar)
	if err := a.Register("health", "health", func() mvc.Action { return &healthAction{app: a} }, mvc.PublicAccess()); err != nil {
		return nil, err
	}

	a.Front = mvc.NewFront(a.Actions, sugar)
	a.Server = server.New(cfg, a.Front, a.Health, sugar)
	return a, nil
}

func (a *App) openConnector(ctx context.Context, name string, cfg config.ConnectorConfig, logger *zap.SugaredLogger) (*db.Connector, error) {
	conn, err := kernel.OpenConnector(ctx, name, cfg, logger)
	if err != nil {
		a.Sugar.Error(DescribeConnectorError(name, cfg, err))
		return nil, err
	}
	return conn, nil
}

// newORM creates the orm manager with one source per connector. The redis
// result cache is optional; when it is unreachable the orm runs without it.
func (a *App) newORM(ctx context.Context) *orm.Manager {
	cfg := a.Config
	factory := &orm.Factory{
		IdentityMapSize: cfg.ORM.IdentityMapSize,
		CacheTTL:        cfg.ORM.Cache.TTL,
		Logger:          a.Sugar,
	}

	if cfg.ORM.Cache.Enabled {
		cache := orm.NewRedisCache(
			orm.NewRedisClient(cfg.ORM.Cache.Addr, cfg.ORM.Cache.Password, cfg.ORM.Cache.DB),
			cfg.ORM.Cache.Prefix, a.Sugar)
		pingCtx, cancel := context.WithTimeout(ctx, cachePingWait)
		err := cache.Ping(pingCtx)
		cancel()
		if err != nil {
			a.Sugar.Warnw("ORM cache unavailable, continuing without it",
				"addr", cfg.ORM.Cache.Addr, "error", err)
			_ = cache.Close()
		} else {
			a.Cache = cache
			factory.Cache = cache
			a.Sugar.Infow("ORM cache connected", "addr", cfg.ORM.Cache.Addr)
		}
	}

	manager := orm.NewManager(factory, orm.NewDbSource(a.Handler, ""))
	for _, name := range a.Pool.Names() {
		manager.AddSource(name, orm.NewDbSource(a.Handler, name))
	}
	return manager
}

// Register adds an action route. A nil ctor aliases route to an already
// registered namespace.
func (a *App) Register(route, namespace string, ctor mvc.ActionConstructor, access *mvc.RouteAccess) error {
	return a.Actions.Register(route, namespace, ctor, access)
}

// RunConsole dispatches a command line through the front controller
func (a *App) RunConsole(ctx context.Context, args []string, out io.Writer) int {
	return a.Front.RunConsole(ctx, args, out)
}

// Health checks every connector and the orm cache
func (a *App) Health(ctx context.Context) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	connectors := make(map[string]interface{})
	var failed []string
	for _, name := range a.Pool.Names() {
		conn, err := a.Pool.Get(name)
		if err == nil {
			err = conn.HealthCheck(ctx)
		}
		if err != nil {
			a.Sugar.Warnw("Connector unhealthy", "connector", name, "error", err)
			connectors[name] = "unavailable"
			failed = append(failed, name)
			continue
		}
		connectors[name] = "ok"
	}
	details := map[string]interface{}{"connectors": connectors}

	if a.Cache != nil {
		if err := a.Cache.Ping(ctx); err != nil {
			a.Sugar.Warnw("ORM cache unhealthy", "error", err)
			details["cache"] = "unavailable"
		} else {
			details["cache"] = "ok"
		}
	}

	if len(failed) > 0 {
		return details, fmt.Errorf("unhealthy connectors: %v", failed)
	}
	return details, nil
}

// Start begins pool metrics collection and serves http in the background
func (a *App) Start(ctx context.Context) error {
	if a.cancel != nil {
		return errors.New("application already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if interval := a.Config.Database.MetricsInterval; interval > 0 {
		a.Pool.StartMetricsCollection(runCtx, interval)
	}

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !server.IsServerClosed(err) {
			a.Sugar.Errorw("HTTP server failed", "addr", a.Server.Addr(), "error", err)
			a.serverErr <- err
		}
	}()
	return nil
}

// WaitForShutdown blocks until SIGINT, SIGTERM or a server failure
func (a *App) WaitForShutdown() error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)

	select {
	case sig := <-c:
		a.Sugar.Infow("Shutdown signal received", "signal", sig.String())
		return nil
	case err := <-a.serverErr:
		return err
	}
}

// Shutdown stops the server, closes the cache and the pool and flushes the
// logger. Only the first call does anything.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(func() {
		a.Sugar.Info("Shutting down...")

		timeout := a.Config.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if a.Server != nil {
			if err := a.Server.Stop(ctx); err != nil {
				a.Sugar.Errorw("HTTP server shutdown failed", "error", err)
			}
		}
		if a.cancel != nil {
			a.cancel()
		}
		if a.Cache != nil {
			if err := a.Cache.Close(); err != nil {
				a.Sugar.Warnw("Failed to close orm cache", "error", err)
			}
		}
		if err := a.Pool.Shutdown(); err != nil {
			a.Sugar.Errorw("Failed to close connection pool", "error", err)
		}

		a.Sugar.Info("Shutdown complete")
		// stderr can not be synced on some platforms
		_ = a.Logger.Sync()
	})
}

// healthAction reports the health of the connectors and the cache. An
// unhealthy application exits with 503.
type healthAction struct {
	mvc.BaseAction
	app *App
}

func (h *healthAction) Process(ctx context.Context, mc *mvc.Context) (*mvc.Context, error) {
	details, err := h.app.Health(ctx)
	for k, v := range details {
		mc.Assign(k, v)
	}
	if err != nil {
		mc.Assign("status", "unhealthy")
		return mc.SetExitCode(503), nil
	}
	mc.Assign("status", "healthy")
	return mc, nil
}
