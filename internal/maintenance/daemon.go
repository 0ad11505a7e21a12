// Package maintenance runs periodic retention pruning and snapshots.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/blocklog/blocklog/internal/backup"
	"github.com/blocklog/blocklog/internal/observability"
	"github.com/blocklog/blocklog/internal/store"
)

const (
	TaskPrune  = "prune"
	TaskBackup = "backup"
)

// Pruner deletes history older than a cutoff in milliseconds.
type Pruner interface {
	PruneBefore(ctx context.Context, cutoff int64) (store.PruneResult, error)
}

// Guard serializes fn against pipeline flushes.
type Guard interface {
	WithStore(ctx context.Context, fn func(ctx context.Context) error) error
}

// Backuper takes one snapshot.
type Backuper interface {
	Backup(ctx context.Context) (backup.Snapshot, error)
}

// Config holds the maintenance schedule.
type Config struct {
	// RetentionDays of zero disables pruning.
	RetentionDays int
	// CheckInterval is how often the daemon wakes up.
	CheckInterval time.Duration
	// BackupInterval is the minimum time between snapshots.
	BackupInterval time.Duration
}

// Options holds optional collaborators.
type Options struct {
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// Report summarizes one maintenance cycle.
type Report struct {
	Pruned   store.PruneResult
	Snapshot *backup.Snapshot
}

// Daemon runs maintenance in the background.
type Daemon struct {
	config  Config
	guard   Guard
	pruner  Pruner
	backups Backuper
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time

	mu         sync.Mutex
	running    bool
	cancel     context.CancelFunc
	done       chan struct{}
	lastBackup time.Time
}

// NewDaemon creates a daemon. backups may be nil to disable snapshots.
func NewDaemon(cfg Config, guard Guard, pruner Pruner, backups Backuper, opts Options) *Daemon {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Daemon{
		config:  cfg,
		guard:   guard,
		pruner:  pruner,
		backups: backups,
		logger:  opts.Logger.Named("maintenance"),
		metrics: opts.Metrics,
		now:     opts.Now,
	}
}

// Start begins the maintenance loop. It runs until the context is
// cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("maintenance: daemon is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.done = make(chan struct{})

	go d.run(ctx, d.done)
	return nil
}

// Stop cancels the loop and waits for the current cycle to finish.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.cancel()
	done := d.done
	d.running = false
	d.mu.Unlock()

	<-done
	return nil
}

func (d *Daemon) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(d.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.RunOnce(ctx)
		}
	}
}

// RunOnce prunes expired history and takes a snapshot when one is due.
// Failures are logged and counted; the other task still runs.
func (d *Daemon) RunOnce(ctx context.Context) Report {
	var report Report
	if ctx.Err() != nil {
		return report
	}

	if d.config.RetentionDays > 0 && d.pruner != nil {
		res, err := d.Prune(ctx)
		d.metrics.IncMaintenance(TaskPrune, err)
		if err != nil {
			d.logger.Error("prune failed", zap.Error(err))
		} else {
			report.Pruned = res
		}
	}

	if d.backupDue() {
		snap, err := d.backups.Backup(ctx)
		d.metrics.IncMaintenance(TaskBackup, err)
		if err != nil {
			d.logger.Error("backup failed", zap.Error(err))
		} else {
			d.mu.Lock()
			d.lastBackup = d.now()
			d.mu.Unlock()
			report.Snapshot = &snap
		}
	}
	return report
}

// Prune deletes history older than the retention window.
func (d *Daemon) Prune(ctx context.Context) (store.PruneResult, error) {
	cutoff := d.now().Add(-time.Duration(d.config.RetentionDays) * 24 * time.Hour).UnixMilli()

	var res store.PruneResult
	err := d.guard.WithStore(ctx, func(ctx context.Context) error {
		var err error
		res, err = d.pruner.PruneBefore(ctx, cutoff)
		return err
	})
	if err != nil {
		return store.PruneResult{}, err
	}
	if res.Events > 0 || res.Transactions > 0 {
		d.logger.Info("pruned expired history",
			zap.Int64("events", res.Events),
			zap.Int64("transactions", res.Transactions))
	}
	return res, nil
}

func (d *Daemon) backupDue() bool {
	if d.backups == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastBackup.IsZero() || d.now().Sub(d.lastBackup) >= d.config.BackupInterval
}
