package daemon

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/illarion/lockd/internal/enforcer"
	"github.com/illarion/lockd/internal/registry"
)

// Defaults
const (
	DefaultInterval = time.Second
	DefaultGrace    = 5 * time.Second
	DefaultSettle   = 500 * time.Millisecond
)

// State is the daemon lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Registry is the daemon's view of the protected items.
type Registry interface {
	Refresh() (bool, error)
	Mode() registry.Mode
	List(kind registry.Kind) []registry.Item
}

// Folders reconciles folder trees.
type Folders interface {
	Reconcile(ctx context.Context, targets []enforcer.Target) error
	UnlockAll(paths []string) error
}

// Processes kills locked programs.
type Processes interface {
	Scan(ctx context.Context, mode registry.Mode, programs []registry.Item) int
}

// Options configures a Daemon. Zero durations use the defaults.
type Options struct {
	Interval time.Duration
	Grace    time.Duration
	Settle   time.Duration
	Logger   *slog.Logger
}

// Daemon owns the enforcement schedule.
type Daemon struct {
	reg     Registry
	folders Folders
	procs   Processes
	opts    Options
	logger  *slog.Logger

	mu       sync.Mutex // serializes Start, Stop and Restart
	state    atomic.Int32
	shutdown atomic.Bool
	current  atomic.Pointer[run]
	inTick   atomic.Int32

	ticks    atomic.Uint64
	lastTick atomic.Int64 // unix nanos
}

// run is one scheduler goroutine. done is closed when it exits, so a
// scheduler left hung by an earlier Stop never speaks for a later one.
type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (r *run) alive() bool {
	if r == nil {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// New creates a stopped daemon.
func New(reg Registry, folders Folders, procs Processes, opts Options) *Daemon {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Daemon{reg: reg, folders: folders, procs: procs, opts: opts, logger: logger}
}

// State returns the current lifecycle state.
func (d *Daemon) State() State { return State(d.state.Load()) }

// Ticks returns the number of completed ticks since the daemon was created.
func (d *Daemon) Ticks() uint64 { return d.ticks.Load() }

// LastTick returns when the last tick finished, or the zero time.
func (d *Daemon) LastTick() time.Time {
	ns := d.lastTick.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Start launches the scheduler. Starting a running daemon is a no-op.
func (d *Daemon) Start() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.State() == StateRunning {
		return true
	}
	d.state.Store(int32(StateStarting))
	d.shutdown.Store(false)

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{cancel: cancel, done: make(chan struct{})}
	d.current.Store(r)
	go d.schedule(ctx, r.done)

	d.state.Store(int32(StateRunning))
	d.logger.Info("daemon: started", "interval", d.opts.Interval)
	return true
}

// Stop cancels the scheduler and unlocks every tracked folder right away. It
// then waits for the scheduler up to the grace period and, if a tick was in
// flight, unlocks again so nothing that tick denied is left behind. It
// reports whether the scheduler exited in time and every unlock pass
// completed cleanly. Stopping a stopped daemon is a no-op.
func (d *Daemon) Stop() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.State() == StateStopped {
		return true
	}
	d.state.Store(int32(StateStopping))
	d.shutdown.Store(true)
	r := d.current.Load()
	if r != nil {
		r.cancel()
	}

	busy := d.inTick.Load() > 0
	clean := d.unlockAll()

	if r != nil {
		timer := time.NewTimer(d.opts.Grace)
		select {
		case <-r.done:
			timer.Stop()
		case <-timer.C:
			clean = false
			d.logger.Warn("daemon: scheduler did not exit within grace period", "grace", d.opts.Grace)
		}
	}

	if busy || d.inTick.Load() > 0 {
		if !d.unlockAll() {
			clean = false
		}
	}

	d.state.Store(int32(StateStopped))
	d.logger.Info("daemon: stopped", "clean", clean)
	return clean
}

// unlockAll is the fail-open pass. It runs with the scheduler cancelled, so
// only a tick already in flight can deny a node behind it.
func (d *Daemon) unlockAll() (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("daemon: panic during unlock-all", "panic", r)
			ok = false
		}
	}()

	if _, err := d.reg.Refresh(); err != nil {
		d.logger.Warn("daemon: registry refresh failed before unlock-all", "error", err)
	}

	var paths []string
	for _, it := range d.reg.List(registry.KindFolder) {
		paths = append(paths, it.Path)
	}
	if err := d.folders.UnlockAll(paths); err != nil {
		d.logger.Error("daemon: unlock-all incomplete", "error", err)
		return false
	}
	return true
}

// IsRunning reports whether enforcement is live: the scheduler runs, no
// shutdown is pending and the persisted mode is LOCK.
func (d *Daemon) IsRunning() bool {
	if d.State() != StateRunning || d.shutdown.Load() || !d.current.Load().alive() {
		return false
	}
	return d.reg.Mode() == registry.ModeLock
}

// Restart stops the daemon, waits the settle delay and starts it again.
func (d *Daemon) Restart() bool {
	d.Stop()
	time.Sleep(d.opts.Settle)
	return d.Start()
}
