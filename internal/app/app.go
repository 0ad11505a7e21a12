// Package app wires the blocklog components and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	httpapi "github.com/blocklog/blocklog/internal/api/http"
	"github.com/blocklog/blocklog/internal/backup"
	"github.com/blocklog/blocklog/internal/bloom"
	"github.com/blocklog/blocklog/internal/config"
	"github.com/blocklog/blocklog/internal/dispatch"
	"github.com/blocklog/blocklog/internal/host"
	"github.com/blocklog/blocklog/internal/ingest"
	"github.com/blocklog/blocklog/internal/inspect"
	"github.com/blocklog/blocklog/internal/logging"
	"github.com/blocklog/blocklog/internal/maintenance"
	"github.com/blocklog/blocklog/internal/observability"
	"github.com/blocklog/blocklog/internal/rollback"
	"github.com/blocklog/blocklog/internal/storage"
	"github.com/blocklog/blocklog/internal/store"
	"github.com/blocklog/blocklog/internal/worker"
)

const (
	filterExpectedLocations = 1 << 20
	filterFalsePositiveRate = 0.01
)

// App holds every component of a running blocklog instance.
type App struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics

	store     *store.Store
	pipeline  *ingest.Pipeline
	filter    *bloom.LocationFilter
	inspector *inspect.Engine
	rollback  *rollback.Engine
	pool      *worker.Pool
	handler   *dispatch.Handler
	snapshots *backup.Snapshotter
	daemon    *maintenance.Daemon

	httpServer *http.Server
	httpLn     net.Listener
	httpDone   chan struct{}

	mu      sync.Mutex
	running bool
	stopped bool
}

// New builds an App. A database that fails to open is logged and leaves
// the App running with every operation reporting unavailable. logger may
// be nil to build one from cfg.Log.
func New(cfg *config.Config, h host.Host, logger *zap.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	if logger == nil {
		var err error
		if logger, err = logging.New(cfg.Log); err != nil {
			return nil, err
		}
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = observability.NewMetrics(a.registry)

	var pipelineStore ingest.Store
	st, err := store.Open(cfg.Database.Path, store.Options{BusyTimeout: cfg.Database.BusyTimeout})
	if err != nil {
		logger.Error("database not available", zap.String("path", cfg.Database.Path), zap.Error(err))
	} else {
		a.store = st
		pipelineStore = st
	}

	a.pipeline = ingest.New(pipelineStore, ingest.Options{
		Capacity:      cfg.Queue.Capacity,
		FlushInterval: cfg.Flush.Interval,
		FlushTimeout:  cfg.Flush.Timeout,
		Logger:        logger,
		Metrics:       a.metrics,
	})

	// Without a world this process never writes, so rows come from
	// another process and the filter could not see them.
	if h.World != nil {
		a.filter = bloom.NewLocationFilter(filterExpectedLocations, filterFalsePositiveRate)
	}
	a.inspector = inspect.NewEngine(a.pipeline, a.store, a.filter, inspect.Options{
		Limit:          cfg.Query.InspectLimit,
		ContainerLimit: cfg.Query.ContainerLimit,
		Logger:         logger,
		Metrics:        a.metrics,
	})
	a.pipeline.OnCommit(a.inspector.Observe)

	a.rollback = rollback.NewEngine(a.pipeline, a.store, rollback.Options{
		Logger:  logger,
		Metrics: a.metrics,
	})
	a.pool = worker.NewPool(cfg.Workers.Size, cfg.Workers.Backlog, logger, a.metrics)

	a.handler = dispatch.NewHandler(a.pipeline, a.inspector, a.rollback, a.pool, h, nil, nil, dispatch.Options{
		Limits: dispatch.Limits{
			MaxRadius:        cfg.Rollback.MaxRadius,
			MaxLookbackHours: cfg.Rollback.MaxLookbackHours,
			DefaultMaxHeight: cfg.Rollback.DefaultMaxHeight,
		},
		Logger: logger,
	})

	if err := a.initMaintenance(); err != nil {
		a.closeStore()
		return nil, err
	}
	return a, nil
}

func (a *App) initMaintenance() error {
	if !a.cfg.MaintenanceEnabled() || a.store == nil {
		return nil
	}

	var backups maintenance.Backuper
	if a.cfg.Backup.Enabled {
		objects, err := storage.New(context.Background(), a.cfg.Backup.Storage)
		if err != nil {
			return fmt.Errorf("failed to initialize snapshot storage: %w", err)
		}
		a.snapshots = backup.NewSnapshotter(a.store, a.pipeline, objects, backup.Options{
			Keep:    a.cfg.Backup.Keep,
			WorkDir: a.cfg.DataDir,
			Logger:  a.logger,
		})
		backups = a.snapshots
		a.logger.Info("snapshot storage initialized", zap.String("type", a.cfg.Backup.Storage.Type))
	}

	a.daemon = maintenance.NewDaemon(maintenance.Config{
		RetentionDays:  a.cfg.Retention.Days,
		CheckInterval:  a.cfg.Retention.CheckInterval,
		BackupInterval: a.cfg.Backup.Interval,
	}, a.pipeline, a.store, backups, maintenance.Options{
		Logger:  a.logger,
		Metrics: a.metrics,
	})
	return nil
}

// Start warms the location filter and starts the flush loop, the
// maintenance daemon and, when configured, the HTTP server.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return fmt.Errorf("app is already running")
	}
	if a.stopped {
		return fmt.Errorf("app has been stopped")
	}

	if a.store != nil {
		if err := a.inspector.WarmFilter(ctx); err != nil {
			a.logger.Warn("failed to warm location filter", zap.Error(err))
		} else if a.filter != nil && a.filter.Overfull() {
			a.logger.Warn("location filter is over capacity",
				zap.Uint64("locations", a.filter.Count()),
				zap.Float64("fpr", a.filter.FalsePositiveRate()))
		}
	}

	a.pipeline.Start()

	if a.daemon != nil {
		if err := a.daemon.Start(ctx); err != nil {
			return err
		}
	}

	if a.cfg.HTTP.Addr != "" {
		if err := a.startHTTP(); err != nil {
			if a.daemon != nil {
				a.daemon.Stop()
			}
			return err
		}
	}

	a.running = true
	a.logger.Info("blocklog started",
		zap.String("database", a.cfg.Database.Path),
		zap.Bool("available", a.pipeline.Available()))
	return nil
}

func (a *App) startHTTP() error {
	ln, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.HTTP.Addr, err)
	}

	router := httpapi.NewRouter(httpapi.RouterConfig{
		History:        a.inspector,
		DB:             a.pinger(),
		Gatherer:       a.registry,
		InspectLimit:   a.cfg.Query.InspectLimit,
		ContainerLimit: a.cfg.Query.ContainerLimit,
		Logger:         a.logger,
	})

	a.httpLn = ln
	a.httpDone = make(chan struct{})
	a.httpServer = &http.Server{
		Handler:      router,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}

	go func() {
		defer close(a.httpDone)
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server failed", zap.Error(err))
		}
	}()
	a.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

func (a *App) pinger() httpapi.Pinger {
	if a.store == nil {
		return nil
	}
	return a.store
}

// Stop shuts down in reverse start order. The pipeline's final flush runs
// before the store closes. Stop is idempotent.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return nil
	}
	a.stopped = true
	a.running = false

	var errs []error
	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http: %w", err))
		}
		<-a.httpDone
	}
	if a.daemon != nil {
		a.daemon.Stop()
	}
	if err := a.pool.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("workers: %w", err))
	}
	if err := a.pipeline.Close(); err != nil {
		errs = append(errs, fmt.Errorf("pipeline: %w", err))
	}
	a.closeStore()

	a.logger.Info("blocklog stopped")
	a.logger.Sync()
	return errors.Join(errs...)
}

// closeStore covers the case where the pipeline never owned the store.
func (a *App) closeStore() {
	if a.store != nil {
		a.store.Close()
	}
}

// Close implements io.Closer with a bounded Stop.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return a.Stop(ctx)
}

// Handler returns the host event and command dispatcher.
func (a *App) Handler() *dispatch.Handler { return a.handler }

// Pipeline returns the ingest pipeline.
func (a *App) Pipeline() *ingest.Pipeline { return a.pipeline }

// Inspector returns the inspect engine.
func (a *App) Inspector() *inspect.Engine { return a.inspector }

// Rollback returns the rollback engine.
func (a *App) Rollback() *rollback.Engine { return a.rollback }

// Maintenance returns the maintenance daemon, or nil when neither
// retention nor backups are enabled.
func (a *App) Maintenance() *maintenance.Daemon { return a.daemon }

// Registry returns the Prometheus registry the App's metrics live in.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Logger returns the App's logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// HTTPAddr returns the bound HTTP address, or "" when the server is off.
func (a *App) HTTPAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.httpLn == nil {
		return ""
	}
	return a.httpLn.Addr().String()
}
