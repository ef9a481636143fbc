package backup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is the default time between scheduled snapshots.
const DefaultInterval = time.Hour

// Status reports the outcome of the most recent cycle.
type Status struct {
	LastRun    time.Time `json:"last_run"`
	LastResult *Result   `json:"last_result,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	Pruned     int       `json:"pruned"`
	Runs       int64     `json:"runs"`
}

// Daemon takes a snapshot and prunes old ones on an interval, and on
// demand through Trigger.
type Daemon struct {
	snap     *Snapshotter
	interval time.Duration
	logger   *slog.Logger
	trigger  chan struct{}

	statusMu sync.Mutex
	status   Status

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDaemon creates a snapshot daemon. A non-positive interval uses
// DefaultInterval.
func NewDaemon(snap *Snapshotter, interval time.Duration, logger *slog.Logger) *Daemon {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Daemon{
		snap:     snap,
		interval: interval,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
	}
}

// Start begins the snapshot loop. It runs until the context is cancelled
// or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("backup: daemon is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.done = make(chan struct{})

	go d.run(ctx)
	return nil
}

// Stop stops the loop and waits for an in-progress cycle to finish.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}
	d.cancel()
	<-d.done
	d.running = false
	return nil
}

// Close stops the daemon.
func (d *Daemon) Close() error {
	return d.Stop()
}

// Trigger requests a snapshot as soon as possible. It returns false when a
// request is already pending.
func (d *Daemon) Trigger() bool {
	select {
	case d.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Status returns the outcome of the most recent cycle.
func (d *Daemon) Status() Status {
	d.statusMu.Lock()
	defer d.statusMu.Unlock()
	return d.status
}

func (d *Daemon) run(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.RunOnce(ctx)
		case <-d.trigger:
			d.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single snapshot and prune cycle. A failed snapshot
// skips pruning so the retained set never shrinks without a replacement.
func (d *Daemon) RunOnce(ctx context.Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	res, err := d.snap.Snapshot(ctx)
	status := Status{LastRun: time.Now().UTC()}
	if err != nil {
		d.logger.ErrorContext(ctx, "snapshot failed", "err", err)
		status.LastError = err.Error()
		d.record(status)
		return res, err
	}
	status.LastResult = &res

	pruned, err := d.snap.Prune(ctx)
	status.Pruned = pruned
	if err != nil {
		d.logger.WarnContext(ctx, "snapshot prune failed", "err", err)
		status.LastError = err.Error()
	}
	d.record(status)
	return res, err
}

func (d *Daemon) record(s Status) {
	d.statusMu.Lock()
	defer d.statusMu.Unlock()
	s.Runs = d.status.Runs + 1
	d.status = s
}
