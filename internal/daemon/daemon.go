package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"loom/internal/api"
	"loom/internal/config"
	"loom/internal/dispatch"
	"loom/internal/logging"
	"loom/internal/scratchpad"
	"loom/internal/taskstore"
)

// Daemon coordinates the background services and enforces single-instance
// execution through a file lock.
type Daemon struct {
	cfg            *config.Config
	logger         *slog.Logger
	store          *taskstore.Store
	pad            *scratchpad.Cache
	tasks          *api.TaskService
	dispatcher     *dispatch.Dispatcher
	generationMode string

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
}

// New constructs a daemon from initialized components. generationMode is a
// human-readable label ("remote" or "fallback") surfaced on the status
// endpoint.
func New(cfg *config.Config, store *taskstore.Store, pad *scratchpad.Cache, tasks *api.TaskService, dispatcher *dispatch.Dispatcher, generationMode string, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || pad == nil || tasks == nil || dispatcher == nil {
		return nil, errors.New("daemon requires config, store, scratchpad, task service, and dispatcher")
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "loomd.lock")
	d := &Daemon{
		cfg:            cfg,
		logger:         logging.NewComponentLogger(logger, "daemon"),
		store:          store,
		pad:            pad,
		tasks:          tasks,
		dispatcher:     dispatcher,
		generationMode: generationMode,
		lockPath:       lockPath,
		lock:           flock.New(lockPath),
	}

	server, err := newAPIServer(cfg, d, d.logger)
	if err != nil {
		return nil, err
	}
	d.api = server
	return d, nil
}

// Start acquires the instance lock and launches the dispatcher and the HTTP
// API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another loom daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.dispatcher.Start(runCtx)
	if d.api != nil {
		if err := d.api.start(runCtx); err != nil {
			d.dispatcher.Stop()
			cancel()
			d.cancel = nil
			_ = d.lock.Unlock()
			return err
		}
	}

	d.running.Store(true)
	d.logger.Info("loom daemon started",
		logging.String("lock", d.lockPath),
		logging.String("generation_mode", d.generationMode),
	)
	return nil
}

// Stop shuts down the HTTP server and the dispatcher and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.api != nil {
		d.api.stop()
	}
	d.dispatcher.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("loom daemon stopped")
}

// Close stops the daemon and closes its stores.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// Addr returns the bound API address, empty until Start succeeds. Useful when
// the configuration requested an ephemeral port.
func (d *Daemon) Addr() string {
	if d.api == nil {
		return ""
	}
	return d.api.addr()
}

// Status summarizes runtime state for the status endpoint and the CLI.
func (d *Daemon) Status(ctx context.Context) api.StatusReport {
	report := api.StatusReport{
		Running:        d.running.Load(),
		ScratchpadOK:   d.pad.Ping(),
		GenerationMode: d.generationMode,
	}

	if stats, err := d.store.Stats(ctx); err != nil {
		d.logger.Warn("task stats unavailable", logging.Error(err))
	} else {
		report.TaskCounts = make(map[string]int, len(stats))
		for status, count := range stats {
			report.TaskCounts[string(status)] = count
		}
	}

	if stats, err := d.dispatcher.Stats(ctx); err != nil {
		d.logger.Warn("queue stats unavailable", logging.Error(err))
	} else {
		report.QueueStats = stats
	}
	return report
}
