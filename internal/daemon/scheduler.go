package daemon

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/illarion/lockd/internal/enforcer"
	"github.com/illarion/lockd/internal/registry"
)

func (d *Daemon) schedule(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	d.tick(ctx)

	ticker := time.NewTicker(d.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Daemon) tick(ctx context.Context) {
	d.inTick.Add(1)
	defer d.inTick.Add(-1)
	if d.shutdown.Load() || ctx.Err() != nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("daemon: tick panicked", "panic", r, "stack", string(debug.Stack()))
		}
		d.ticks.Add(1)
		d.lastTick.Store(time.Now().UnixNano())
	}()

	if changed, err := d.reg.Refresh(); err != nil {
		d.logger.Warn("daemon: registry refresh failed", "error", err)
	} else if changed {
		d.logger.Debug("daemon: registry reloaded")
	}

	mode := d.reg.Mode()
	items := d.reg.List(registry.KindAny)

	var (
		programs []registry.Item
		targets  []enforcer.Target
	)
	for _, it := range items {
		switch it.Kind {
		case registry.KindProgram:
			programs = append(programs, it)
		case registry.KindFolder:
			targets = append(targets, enforcer.Target{
				Path: it.Path,
				Lock: mode == registry.ModeLock && it.Locked,
			})
		}
	}

	d.procs.Scan(ctx, mode, programs)

	if d.shutdown.Load() {
		return
	}
	if err := d.folders.Reconcile(ctx, targets); err != nil && ctx.Err() == nil {
		d.logger.Warn("daemon: folder reconcile failed", "error", err)
	}
}
