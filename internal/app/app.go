// Package app wires the server together: storage driver, store, sync
// bus, persistence scheduler, reader surfaces and the HTTP API.
package app

import (
	"context"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"mirrordb/internal/gc"
	"mirrordb/pkg/backup"
	"mirrordb/pkg/config"
	"mirrordb/pkg/dbsync"
	"mirrordb/pkg/loader"
	"mirrordb/pkg/logger"
	"mirrordb/pkg/nosql"
	"mirrordb/pkg/ops"
	"mirrordb/pkg/persist"
	"mirrordb/pkg/persist/azureblob"
	"mirrordb/pkg/persist/files"
	"mirrordb/pkg/persist/pebbledrv"
	"mirrordb/pkg/persist/sqlitedrv"
	"mirrordb/pkg/readers"
	"mirrordb/pkg/state"
	"mirrordb/pkg/telemetry"
	"mirrordb/pkg/transactions"
)

// App holds everything a running server consists of.
type App struct {
	cfg     *config.Config
	version string
	envInfo string

	life         *state.Lifecycle
	store        *nosql.Store
	driver       persist.Driver
	markers      *persist.Markers
	scheduler    *persist.Scheduler
	bus          *dbsync.Bus
	svc          *ops.Service
	readers      *readers.Registry
	broadcaster  *readers.Broadcaster
	transactions *transactions.Registry
	tcp          *readers.TCPServer
	gcWorker     *gc.Worker
}

// New builds the object graph. Nothing is started yet; Run does that.
func New(cfg *config.Config, version, envInfo string) (*App, error) {
	if err := state.EnsureDataDirs(cfg.Storage.DataPath); err != nil {
		return nil, errors.Wrap(err, "preparing data directories")
	}

	driver, err := openDriver(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s backend", cfg.Storage.Backend)
	}

	a := &App{
		cfg:     cfg,
		version: version,
		envInfo: envInfo,
		life:    &state.Lifecycle{},
		store:   nosql.NewStore(),
		driver:  driver,
		markers: persist.NewMarkers(),
	}
	a.bus = dbsync.NewBus(cfg.Sync.QueueCapacity)
	a.svc = ops.New(a.store, a.bus)
	a.scheduler = persist.NewScheduler(a.store, a.markers, a.driver)
	if d := cfg.Sync.FlushPoll.Duration(); d > 0 {
		a.scheduler.PollInterval = d
	}
	if cfg.Sync.MaxAttempts > 0 {
		a.scheduler.MaxAttempts = cfg.Sync.MaxAttempts
	}
	a.readers = readers.NewRegistry()
	a.broadcaster = readers.NewBroadcaster(a.readers, a.store)
	a.transactions = transactions.NewRegistry(a.svc)
	a.tcp = readers.NewTCPServer(cfg.Readers.TCPAddr, a.readers, a.bus)
	if d := cfg.Readers.PingTimeout.Duration(); d > 0 {
		a.tcp.PingTimeout = d
	}
	a.gcWorker = gc.NewWorker(a.svc, a.readers, a.transactions, a.life)
	if d := cfg.GC.ExpireInterval.Duration(); d > 0 {
		a.gcWorker.ExpireInterval = d
	}
	if d := cfg.GC.SweepInterval.Duration(); d > 0 {
		a.gcWorker.SweepInterval = d
	}
	if d := cfg.GC.StaleSessionTTL.Duration(); d > 0 {
		a.gcWorker.StaleSessionTTL = d
	}

	telemetry.RegisterGauges(
		func() float64 { return float64(a.readers.Count()) },
		func() float64 { return float64(len(a.store.Tables())) },
		func() float64 { return float64(a.bus.Len()) },
	)
	return a, nil
}

func openDriver(cfg *config.Config) (persist.Driver, error) {
	dataPath := cfg.Storage.DataPath
	switch cfg.Storage.Backend {
	case config.BackendFiles:
		return files.New(state.StorePath(dataPath))
	case config.BackendSQLite:
		return sqlitedrv.Open(filepath.Join(state.DBPath(dataPath), "mirrordb.sqlite"))
	case config.BackendPebble:
		return pebbledrv.Open(state.DBPath(dataPath))
	case config.BackendAzure:
		az := cfg.Storage.Azure
		return azureblob.New(az.AccountName, az.AccountKey, az.Container)
	default:
		return nil, errors.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// Run performs the cold start and serves until ctx is cancelled, then
// drains the sync queue and flushes pending persistence before
// returning.
func (a *App) Run(ctx context.Context) error {
	sinks := []dbsync.Sink{persist.EventSink(a.markers), a.broadcaster.EventSink()}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.bus.RunDispatcher(runCtx, sinks...)

	lcfg := loader.Config{
		Workers:          a.cfg.Storage.Init.Workers,
		PartitionWorkers: a.cfg.Storage.Init.PartitionWorkers,
		SkipBroken:       a.cfg.Storage.Init.SkipBroken,
	}
	if err := loader.LoadAll(runCtx, a.driver, a.store, lcfg); err != nil {
		return errors.Wrap(err, "cold start")
	}
	a.life.MarkInitialized()

	go a.scheduler.Run(runCtx)
	go a.gcWorker.Run(runCtx)
	go func() {
		if err := a.tcp.Run(runCtx); err != nil && runCtx.Err() == nil {
			logger.Error("tcp_server_failed", "error", err)
		}
	}()

	if a.cfg.Backup.Enabled {
		sched := &backup.Scheduler{
			Store:    a.store,
			Dir:      state.BackupPath(a.cfg.Storage.DataPath),
			Cron:     a.cfg.Backup.Cron,
			MaxFiles: a.cfg.Backup.MaxFiles,
		}
		if _, err := sched.Start(runCtx); err != nil {
			return errors.Wrap(err, "starting backup scheduler")
		}
	}

	srv := a.startHTTP(runCtx)

	<-ctx.Done()
	logger.Info("shutdown_started")
	a.life.BeginShutdown()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown_error", "error", err)
	}

	// Stop producing, then push everything still queued through the
	// sinks and flush the marker set to the driver.
	cancel()
	a.bus.Drain(sinks...)
	a.scheduler.BeginShutdown()
	a.scheduler.Flush(shutdownCtx)

	if err := a.driver.Close(); err != nil {
		logger.Warn("driver_close_error", "error", err)
	}
	logger.Info("shutdown_done", "persist_tasks_executed", a.scheduler.Executed())
	return nil
}
