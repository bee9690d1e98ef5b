package enforcer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"
	"github.com/illarion/lockd/internal/acl"
	"github.com/illarion/lockd/internal/ledger"
	"github.com/illarion/lockd/internal/security"
)

// ErrIncomplete is returned when some nodes of a tree could not be changed.
var ErrIncomplete = errors.New("tree only partially changed")

// Op is a per-node permission change.
type Op int

const (
	OpDeny Op = iota
	OpAllow
)

func (o Op) String() string {
	if o == OpAllow {
		return "allow"
	}
	return "deny"
}

// Result reports the outcome of one node change.
type Result struct {
	Path string
	Op   Op
	Err  error
}

// Observer receives a Result for every node a walk touches.
type Observer func(Result)

// Journal records denied nodes. *ledger.Ledger implements it.
type Journal interface {
	MarkDenied(nodes ...ledger.Node) error
	MarkAllowed(paths ...string) error
	Lookup(path string) (ledger.Node, bool, error)
	Nodes() ([]ledger.Node, error)
	MarkRoot(path string) error
	ClearRoot(path string) error
	Roots() ([]ledger.Root, error)
}

// Target is the desired state of one protected folder.
type Target struct {
	Path string
	Lock bool
}

// Folder locks and unlocks directory trees.
type Folder struct {
	perm    acl.Permissioner
	journal Journal
	logger  *slog.Logger

	// Observe, when set, is called for every node change.
	Observe Observer

	mu     sync.Mutex
	warned map[string]bool // failures already logged at warn level
}

// NewFolder creates a folder enforcer.
func NewFolder(perm acl.Permissioner, journal Journal, logger *slog.Logger) *Folder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Folder{perm: perm, journal: journal, logger: logger, warned: make(map[string]bool)}
}

// warnOnce logs at warn level the first time key fails and at debug level
// while it keeps failing. A success for key resets it.
func (f *Folder) warnOnce(key string, err error, msg string, args ...any) {
	f.mu.Lock()
	repeated := f.warned[key]
	if err == nil {
		delete(f.warned, key)
	} else {
		f.warned[key] = true
	}
	f.mu.Unlock()

	if err == nil {
		return
	}
	args = append(args, "error", err)
	if repeated {
		f.logger.Debug(msg, args...)
		return
	}
	f.logger.Warn(msg, args...)
}

func (f *Folder) report(path string, op Op, err error) {
	f.warnOnce(op.String()+":"+path, err, "enforcer: permission change failed", "op", op.String(), "path", path)
	if err == nil {
		f.logger.Debug("enforcer: permission changed", "op", op.String(), "path", path)
	}
	if f.Observe != nil {
		f.Observe(Result{Path: path, Op: op, Err: err})
	}
}

func depth(path string) int {
	return strings.Count(path, string(filepath.Separator))
}

// list returns every node under root, root included. Symlinks are left
// out since a mode change would follow them out of the tree. Directories
// that cannot be read are kept, their contents skipped.
func (f *Folder) list(root string) ([]ledger.Node, error) {
	var (
		mu    sync.Mutex
		nodes []ledger.Node
	)

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d == nil {
				// root itself is gone
				return err
			}
			f.logger.Warn("enforcer: cannot list directory", "path", path, "error", err)
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}

		mu.Lock()
		nodes = append(nodes, ledger.Node{Path: path, Mode: info.Mode()})
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

// ApplyLock denies root and every descendant, deepest first. The full
// listing happens before the first change. Nodes are journaled before they
// are denied, and the root is journaled as locked only once every node was
// denied.
func (f *Folder) ApplyLock(ctx context.Context, root string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	nodes, err := f.list(root)
	if err != nil {
		return fmt.Errorf("list %s: %w", root, err)
	}
	slices.SortStableFunc(nodes, func(a, b ledger.Node) int {
		return depth(b.Path) - depth(a.Path)
	})

	if err := f.journal.MarkDenied(nodes...); err != nil {
		return fmt.Errorf("journal %s: %w", root, err)
	}

	failed := 0
	for _, n := range nodes {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := f.perm.Deny(n.Path)
		f.report(n.Path, OpDeny, err)
		if err != nil {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d nodes under %s", ErrIncomplete, failed, len(nodes), root)
	}
	if err := f.journal.MarkRoot(root); err != nil {
		return fmt.Errorf("journal %s: %w", root, err)
	}
	f.logger.Info("enforcer: tree locked", "path", root, "nodes", len(nodes))
	return nil
}

// ApplyUnlock allows root and every descendant, root first. Paths in skip
// (other locked roots nested inside this tree) are left alone.
func (f *Folder) ApplyUnlock(ctx context.Context, root string, skip ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Cleared up front: a pass that stops early leaves its remaining nodes
	// to the orphan sweep instead of a root that claims to be locked.
	if err := f.journal.ClearRoot(root); err != nil {
		return fmt.Errorf("journal %s: %w", root, err)
	}

	w := &unlockWalk{f: f, ctx: ctx, root: root, skip: skip}
	err := w.walk(root)
	if jerr := f.journal.MarkAllowed(w.allowed...); jerr != nil {
		f.logger.Warn("enforcer: failed to journal allowed nodes", "root", root, "error", jerr)
	}
	if err != nil {
		return err
	}
	if w.failed > 0 {
		return fmt.Errorf("%w: %d nodes under %s", ErrIncomplete, w.failed, root)
	}
	f.logger.Info("enforcer: tree unlocked", "path", root, "nodes", len(w.allowed))
	return nil
}

type unlockWalk struct {
	f       *Folder
	ctx     context.Context
	root    string
	skip    []string
	allowed []string
	failed  int
}

func (w *unlockWalk) walk(path string) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}
	if path != w.root && slices.Contains(w.skip, path) {
		return nil
	}

	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			w.allowed = append(w.allowed, path)
			return nil
		}
		w.f.report(path, OpAllow, err)
		w.failed++
		return nil
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		return nil
	}

	if err := w.f.allow(path, info); err != nil {
		w.failed++
	} else {
		w.allowed = append(w.allowed, path)
	}

	if !info.IsDir() {
		return nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		w.f.logger.Warn("enforcer: cannot list directory", "path", path, "error", err)
		return nil
	}
	for _, e := range entries {
		if err := w.walk(filepath.Join(path, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// allow restores one node. The journaled mode wins; without one the
// current mode is kept unless it is fully denied.
func (f *Folder) allow(path string, info fs.FileInfo) error {
	restore := info.Mode().Perm()
	if node, found, err := f.journal.Lookup(path); err == nil && found && !acl.DeniedMode(node.Mode) {
		restore = node.Mode.Perm()
	} else if acl.DeniedMode(info.Mode()) {
		restore = acl.FallbackMode(info.IsDir())
	}

	err := f.perm.Allow(path, restore)
	f.report(path, OpAllow, err)
	return err
}

// Reconcile drives every target toward its desired state. Locked roots
// that are no longer targeted are unlocked, and journaled nodes outside
// every lock target are allowed again, shallowest first. Failures are
// logged; the next call retries.
func (f *Folder) Reconcile(ctx context.Context, targets []Target) error {
	roots, err := f.journal.Roots()
	if err != nil {
		return fmt.Errorf("read locked roots: %w", err)
	}
	locked := make(map[string]bool, len(roots))
	for _, r := range roots {
		locked[r.Path] = true
	}

	var lockRoots []string
	targeted := make(map[string]bool, len(targets))
	for _, t := range targets {
		targeted[t.Path] = true
		if t.Lock {
			lockRoots = append(lockRoots, t.Path)
		}
	}

	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch {
		case t.Lock && !locked[t.Path]:
			f.logTreeError("lock", t.Path, f.ApplyLock(ctx, t.Path))
		case t.Lock:
			f.logTreeError("lock", t.Path, f.relock(ctx, t.Path))
		case !t.Lock && locked[t.Path]:
			f.logTreeError("unlock", t.Path, f.ApplyUnlock(ctx, t.Path, lockRoots...))
		}
	}

	for _, r := range roots {
		if targeted[r.Path] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		f.logger.Info("enforcer: releasing untracked root", "path", r.Path)
		f.logTreeError("unlock", r.Path, f.ApplyUnlock(ctx, r.Path, lockRoots...))
	}

	return f.sweep(ctx, func(path string) bool {
		for _, root := range lockRoots {
			if security.Contains(root, path) {
				return true
			}
		}
		return false
	})
}

// relock checks a root recorded as locked and locks the tree again when
// its deny was removed behind lockd's back.
func (f *Folder) relock(ctx context.Context, root string) error {
	denied, err := f.perm.Denied(root)
	if err != nil || denied {
		return err
	}
	f.logger.Warn("enforcer: locked folder was reopened, locking again", "path", root)
	if err := f.journal.ClearRoot(root); err != nil {
		return fmt.Errorf("journal %s: %w", root, err)
	}
	return f.ApplyLock(ctx, root)
}

func (f *Folder) logTreeError(op, root string, err error) {
	key := "tree:" + op + ":" + root
	switch {
	case err == nil:
		f.warnOnce(key, nil, "")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	case errors.Is(err, os.ErrNotExist):
		f.logger.Debug("enforcer: protected folder missing", "path", root)
	default:
		f.warnOnce(key, err, "enforcer: tree "+op+" failed", "path", root)
	}
}

// sweep allows every journaled node for which keep returns false,
// shallowest first so parents become reachable before their children.
func (f *Folder) sweep(ctx context.Context, keep func(string) bool) error {
	nodes, err := f.journal.Nodes()
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	slices.SortStableFunc(nodes, func(a, b ledger.Node) int {
		return depth(a.Path) - depth(b.Path)
	})

	var allowed []string
	defer func() {
		if err := f.journal.MarkAllowed(allowed...); err != nil {
			f.logger.Warn("enforcer: failed to journal allowed nodes", "error", err)
		}
	}()

	for _, n := range nodes {
		if keep(n.Path) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := os.Lstat(n.Path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				allowed = append(allowed, n.Path)
			}
			continue
		}
		if f.allow(n.Path, info) == nil {
			allowed = append(allowed, n.Path)
		}
	}
	return nil
}

// UnlockAll unconditionally unlocks every path and then every node still
// journaled. It ignores cancellation and always runs to completion.
func (f *Folder) UnlockAll(paths []string) error {
	ctx := context.Background()

	var errs []error
	for _, p := range paths {
		if err := f.ApplyUnlock(ctx, p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}

	if err := f.sweep(ctx, func(string) bool { return false }); err != nil {
		errs = append(errs, err)
	}

	roots, err := f.journal.Roots()
	if err != nil {
		errs = append(errs, err)
	}
	for _, r := range roots {
		if err := f.journal.ClearRoot(r.Path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
