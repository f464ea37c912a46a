// Package exitwatch wires the beacon and execution clients, the shared chain position cache, the
// Postgres store and the monitors together, and runs them under a cron supervisor.
package exitwatch

import (
	"context"
	"net/http"
	"time"

	"github.com/canopy-network/exitwatch/pkg/beacon"
	"github.com/canopy-network/exitwatch/pkg/cache"
	"github.com/canopy-network/exitwatch/pkg/db"
	pgexits "github.com/canopy-network/exitwatch/pkg/db/postgres/exits"
	"github.com/canopy-network/exitwatch/pkg/execution"
	"github.com/canopy-network/exitwatch/pkg/logging"
	"github.com/canopy-network/exitwatch/pkg/metrics"
	"github.com/canopy-network/exitwatch/pkg/monitor"
	"github.com/canopy-network/exitwatch/pkg/redis"
	"go.uber.org/zap"
)

type App struct {
	Config *Config

	Beacon    *beacon.HTTPClient
	Execution *execution.Client // nil when EXECUTION_URL is unset
	Cache     *cache.Cache

	Store       Pinger
	closeStore  func()
	Gateway     *db.Gateway
	RedisClient *redis.Client // nil when disabled or unreachable

	Metrics    *metrics.Metrics
	Supervisor *Supervisor
	// closers run after the supervisor drained, in order
	closers []func()

	// Logger is used to log messages, errors, and events during the application's lifecycle and operations.
	Logger *zap.Logger

	// Server serves health, readiness, status and metrics.
	Server *http.Server
}

// Initialize initializes the application.
func Initialize(ctx context.Context) *App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	app := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewMetrics(cfg.MetricsNamespace),
	}

	app.Beacon = beacon.NewHTTPWithOpts(beacon.Opts{
		Endpoints: cfg.BeaconURLs,
		Timeout:   cfg.BeaconTimeout,
		RPS:       cfg.BeaconRPS,
		Burst:     cfg.BeaconBurst,
	})
	app.logGenesis(ctx)

	store, err := pgexits.New(ctx, logger, cfg.PostgresURL)
	if err != nil {
		logger.Fatal("Unable to initialize exits database", zap.Error(err))
	}
	app.closeStore = func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close database connection", zap.Error(err))
		}
	}

	cacheOpts := []cache.Option{cache.WithWindow(cfg.CacheWindow)}
	var publisher db.Publisher
	// Redis shares the chain position between replicas and fans out record events (optional)
	if cfg.RedisEnabled {
		app.RedisClient, err = redis.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - position sharing and record events will be disabled",
				zap.Error(err))
			app.RedisClient = nil
		} else {
			cacheOpts = append(cacheOpts, cache.WithRemoteTier(app.RedisClient))
			publisher = app.RedisClient
			app.closers = append(app.closers, func() { _ = app.RedisClient.Close() })
		}
	} else {
		logger.Info("Redis disabled - position sharing and record events will not be available")
	}

	app.Cache = cache.New(app.Beacon, logger, cacheOpts...)
	app.Gateway = db.NewGateway(store, publisher, logger, cfg.PersistenceRetry())
	app.Store = app.Gateway

	if cfg.ExecutionURL != "" {
		app.Execution, err = execution.Dial(ctx, cfg.ExecutionURL, logger)
		if err != nil {
			logger.Fatal("Unable to connect to execution node", zap.Error(err))
		}
		app.closers = append(app.closers, app.Execution.Close)
	} else {
		logger.Warn("EXECUTION_URL not set - partial withdrawal monitor disabled")
	}

	app.Supervisor = NewSupervisor(ctx, SupervisorConfig{
		TickTimeout:            cfg.TickTimeout,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
		Restart:                cfg.RestartRetry(),
		ShutdownTimeout:        cfg.ShutdownTimeout,
		// a monitor failing repeatedly may have been served a stale position
		OnRestart: func(string) { app.Cache.Invalidate() },
	}, app.Metrics, logger)
	if err := app.registerMonitors(); err != nil {
		logger.Fatal("Unable to schedule monitors", zap.Error(err))
	}

	app.SetupServer()
	return app
}

// registerMonitors builds every monitor over the shared dependencies and schedules it.
func (a *App) registerMonitors() error {
	deps := monitor.Deps{
		Beacon:    a.Beacon,
		Positions: a.Cache,
		Gateway:   a.Gateway,
		Metrics:   a.Metrics,
		Logger:    a.Logger,
		Retry:     a.Config.UpstreamRetry(),
	}

	status := monitor.NewStatusMonitor(deps, a.Config.TrackedStatuses, a.Config.VerifyConcurrency)
	// the verification pool closes before the clients it calls
	a.closers = append([]func(){status.Close}, a.closers...)

	if err := a.Supervisor.Add(monitor.NewExitMonitor(deps), a.Config.ExitPeriod); err != nil {
		return err
	}
	if err := a.Supervisor.Add(status, a.Config.StatusPeriod); err != nil {
		return err
	}
	if err := a.Supervisor.Add(monitor.NewCredentialsSampler(deps, a.Config.SamplePeriodEpochs), a.Config.CredentialsPeriod); err != nil {
		return err
	}
	if a.Execution != nil {
		withdrawals := monitor.NewWithdrawalMonitor(deps, a.Execution, a.Config.PartialWithdrawalBlockLimit)
		if err := a.Supervisor.Add(withdrawals, a.Config.WithdrawalPeriod); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) logGenesis(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	g, err := a.Beacon.Genesis(ctx)
	if err != nil {
		a.Logger.Warn("Unable to read beacon genesis", zap.Error(err))
		return
	}
	a.Logger.Info("Connected to beacon node",
		zap.Strings("endpoints", a.Config.BeaconURLs),
		zap.Time("genesis_time", g.Time),
		zap.String("genesis_validators_root", g.ValidatorsRoot),
		zap.String("genesis_fork_version", g.ForkVersion),
		zap.Uint64("wall_clock_slot", uint64(g.SlotAt(time.Now()))))
}

// Start starts the application and blocks until the context is canceled.
func (a *App) Start(ctx context.Context) {
	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error("Server stopped", zap.Error(err))
		}
	}()
	a.Supervisor.Start()
	<-ctx.Done()
	a.Stop()
}

// Stop drains the monitors, then closes the server and clients.
func (a *App) Stop() {
	a.Logger.Info("Shutting down…")
	a.Supervisor.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Server.Shutdown(shutdownCtx)

	for _, c := range a.closers {
		c()
	}
	if a.closeStore != nil {
		a.closeStore()
	}
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}
