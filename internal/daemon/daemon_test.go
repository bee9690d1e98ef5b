package daemon

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illarion/lockd/internal/enforcer"
	"github.com/illarion/lockd/internal/registry"
)

type fakeRegistry struct {
	mu        sync.Mutex
	mode      registry.Mode
	items     []registry.Item
	refreshes int
	panics    int // remaining List calls that panic
}

func (r *fakeRegistry) Refresh() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshes++
	return false, nil
}

func (r *fakeRegistry) Mode() registry.Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

func (r *fakeRegistry) setMode(m registry.Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = m
}

func (r *fakeRegistry) List(kind registry.Kind) []registry.Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.panics > 0 {
		r.panics--
		panic("corrupt registry")
	}
	var out []registry.Item
	for _, it := range r.items {
		if kind == registry.KindAny || it.Kind == kind {
			out = append(out, it)
		}
	}
	return out
}

type fakeFolders struct {
	mu        sync.Mutex
	targets   [][]enforcer.Target
	unlocked  [][]string
	busy      int          // unlock passes run while a reconcile was in flight
	reconcile atomic.Int32 // in-flight reconciles
	block     chan struct{}
}

func (f *fakeFolders) Reconcile(ctx context.Context, targets []enforcer.Target) error {
	f.reconcile.Add(1)
	defer f.reconcile.Add(-1)
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, targets)
	return nil
}

func (f *fakeFolders) UnlockAll(paths []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlocked = append(f.unlocked, paths)
	if f.reconcile.Load() > 0 {
		f.busy++
	}
	return nil
}

func waitReconcile(t *testing.T, f *fakeFolders) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for f.reconcile.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Reconcile never started")
		}
		time.Sleep(time.Millisecond)
	}
}

func (f *fakeFolders) lastTargets() []enforcer.Target {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.targets) == 0 {
		return nil
	}
	return f.targets[len(f.targets)-1]
}

type fakeProcs struct {
	mu    sync.Mutex
	modes []registry.Mode
}

func (p *fakeProcs) Scan(_ context.Context, mode registry.Mode, _ []registry.Item) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.modes = append(p.modes, mode)
	return 0
}

func newTestDaemon(reg *fakeRegistry, folders *fakeFolders) *Daemon {
	return New(reg, folders, &fakeProcs{}, Options{
		Interval: 10 * time.Millisecond,
		Grace:    200 * time.Millisecond,
		Settle:   time.Millisecond,
	})
}

func waitTicks(t *testing.T, d *Daemon, n uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for d.Ticks() < n {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %d ticks, got %d", n, d.Ticks())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	d := newTestDaemon(&fakeRegistry{}, &fakeFolders{})

	if !d.Stop() {
		t.Error("Stopping a stopped daemon should succeed")
	}
	if !d.Start() || !d.Start() {
		t.Error("Start should succeed twice")
	}
	if d.State() != StateRunning {
		t.Errorf("State: got %v, want running", d.State())
	}
	waitTicks(t, d, 1)

	if !d.Stop() {
		t.Error("Stop should be clean")
	}
	if !d.Stop() {
		t.Error("Second stop should be a no-op")
	}
	if d.State() != StateStopped {
		t.Errorf("State: got %v, want stopped", d.State())
	}
}

func TestFirstTickIsImmediate(t *testing.T) {
	d := New(&fakeRegistry{}, &fakeFolders{}, &fakeProcs{}, Options{Interval: time.Hour})
	d.Start()
	defer d.Stop()

	waitTicks(t, d, 1)
}

func TestTickTargets(t *testing.T) {
	reg := &fakeRegistry{
		mode: registry.ModeLock,
		items: []registry.Item{
			{Path: "/data/Foo", Kind: registry.KindFolder, Locked: true},
			{Path: "/data/Open", Kind: registry.KindFolder, Locked: false},
			{Path: "/bin/game", Kind: registry.KindProgram, Locked: true},
		},
	}
	folders := &fakeFolders{}
	d := newTestDaemon(reg, folders)
	d.Start()
	waitTicks(t, d, 1)

	want := []enforcer.Target{{Path: "/data/Foo", Lock: true}, {Path: "/data/Open", Lock: false}}
	if got := folders.lastTargets(); !slices.Equal(got, want) {
		t.Errorf("Targets: got %v, want %v", got, want)
	}

	// Mode is re-read every tick.
	reg.setMode(registry.ModeUnlock)
	n := d.Ticks()
	waitTicks(t, d, n+2)
	for _, tg := range folders.lastTargets() {
		if tg.Lock {
			t.Errorf("No target may lock in unlock mode: %v", tg)
		}
	}
	d.Stop()
}

func TestStopIsFailOpen(t *testing.T) {
	reg := &fakeRegistry{
		mode: registry.ModeLock,
		items: []registry.Item{
			{Path: "/data/Foo", Kind: registry.KindFolder, Locked: true},
			{Path: "/data/Bar", Kind: registry.KindFolder, Locked: false},
			{Path: "/bin/game", Kind: registry.KindProgram, Locked: true},
		},
	}
	folders := &fakeFolders{}
	d := newTestDaemon(reg, folders)
	d.Start()
	waitTicks(t, d, 1)
	d.Stop()

	if len(folders.unlocked) == 0 {
		t.Fatal("Expected an unlock-all pass")
	}
	for _, got := range folders.unlocked {
		if !slices.Equal(got, []string{"/data/Foo", "/data/Bar"}) {
			t.Errorf("Unlock-all paths: got %v", got)
		}
	}
}

func TestStopUnlocksEvenWhenSchedulerHangs(t *testing.T) {
	reg := &fakeRegistry{
		mode:  registry.ModeLock,
		items: []registry.Item{{Path: "/data/Foo", Kind: registry.KindFolder, Locked: true}},
	}
	folders := &fakeFolders{block: make(chan struct{})}
	d := New(reg, folders, &fakeProcs{}, Options{Interval: 10 * time.Millisecond, Grace: 50 * time.Millisecond})
	d.Start()
	waitReconcile(t, folders)

	if d.Stop() {
		t.Error("Stop should report the grace period was exceeded")
	}

	folders.mu.Lock()
	passes, busy := len(folders.unlocked), folders.busy
	folders.mu.Unlock()
	close(folders.block)

	if passes != 2 {
		t.Errorf("Stop should unlock before and after the hung tick, got %d passes", passes)
	}
	if busy != passes {
		t.Errorf("Unlock-all must not wait for the hung tick, %d of %d passes ran while it hung", busy, passes)
	}
}

func TestStartAfterHungStopKeepsRunning(t *testing.T) {
	reg := &fakeRegistry{
		mode:  registry.ModeLock,
		items: []registry.Item{{Path: "/data/Foo", Kind: registry.KindFolder, Locked: true}},
	}
	folders := &fakeFolders{block: make(chan struct{})}
	d := New(reg, folders, &fakeProcs{}, Options{Interval: 10 * time.Millisecond, Grace: 20 * time.Millisecond})
	d.Start()
	waitReconcile(t, folders)
	hung := d.current.Load()

	if d.Stop() {
		t.Error("Stop should report the grace period was exceeded")
	}
	d.Start()
	defer d.Stop()

	// The old scheduler exits after the new one started.
	close(folders.block)
	select {
	case <-hung.done:
	case <-time.After(2 * time.Second):
		t.Fatal("Hung scheduler never exited")
	}

	n := d.Ticks()
	waitTicks(t, d, n+2)
	if !d.IsRunning() {
		t.Error("New scheduler must keep the daemon running after the old one exits")
	}
}

func TestTickPanicIsRecovered(t *testing.T) {
	reg := &fakeRegistry{panics: 2}
	d := newTestDaemon(reg, &fakeFolders{})
	d.Start()
	defer d.Stop()

	waitTicks(t, d, 4)
	if d.State() != StateRunning {
		t.Errorf("Daemon should survive panicking ticks, state %v", d.State())
	}
	if !d.current.Load().alive() {
		t.Error("Scheduler should still be alive")
	}
}

func TestIsRunningFollowsMode(t *testing.T) {
	reg := &fakeRegistry{mode: registry.ModeUnlock}
	d := newTestDaemon(reg, &fakeFolders{})

	if d.IsRunning() {
		t.Error("Stopped daemon is not running")
	}
	d.Start()
	waitTicks(t, d, 1)
	if d.IsRunning() {
		t.Error("Unlock mode means not running")
	}
	reg.setMode(registry.ModeLock)
	if !d.IsRunning() {
		t.Error("Lock mode with live scheduler means running")
	}
	d.Stop()
	if d.IsRunning() {
		t.Error("Stopped daemon is not running")
	}
}

func TestRestart(t *testing.T) {
	folders := &fakeFolders{}
	d := newTestDaemon(&fakeRegistry{mode: registry.ModeLock}, folders)
	d.Start()
	waitTicks(t, d, 1)

	if !d.Restart() {
		t.Fatal("Restart failed")
	}
	if d.State() != StateRunning {
		t.Errorf("State after restart: got %v, want running", d.State())
	}
	n := d.Ticks()
	waitTicks(t, d, n+1)
	d.Stop()

	if len(folders.unlocked) < 2 {
		t.Errorf("Each stop runs unlock-all, got %d passes", len(folders.unlocked))
	}
}
