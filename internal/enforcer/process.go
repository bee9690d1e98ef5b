package enforcer

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/illarion/lockd/internal/registry"
)

// ProcessInfo is one entry of a process snapshot.
type ProcessInfo struct {
	PID  int32
	Name string
}

// Lister snapshots running processes.
type Lister interface {
	Processes(ctx context.Context) ([]ProcessInfo, error)
}

// Killer forcibly terminates a process.
type Killer interface {
	Kill(ctx context.Context, pid int32) error
}

// Process terminates processes that match locked programs.
type Process struct {
	lister Lister
	killer Killer
	logger *slog.Logger
	self   int32
}

// NewProcess creates a process enforcer. A nil lister or killer uses the
// system process table.
func NewProcess(lister Lister, killer Killer, logger *slog.Logger) *Process {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if lister == nil || killer == nil {
		sys := SystemProcesses{}
		if lister == nil {
			lister = sys
		}
		if killer == nil {
			killer = sys
		}
	}
	return &Process{lister: lister, killer: killer, logger: logger, self: int32(os.Getpid())}
}

// matchNames returns the lowercased names a program may run under: its
// base name and, when it has an extension, the base name without it.
func matchNames(path string) []string {
	base := strings.ToLower(filepath.Base(path))
	names := []string{base}
	if ext := filepath.Ext(base); ext != "" && ext != base {
		names = append(names, strings.TrimSuffix(base, ext))
	}
	return names
}

func matches(procName string, names []string) bool {
	procName = strings.ToLower(procName)
	for _, n := range names {
		if procName == n {
			return true
		}
	}
	return false
}

// Scan kills every running process matching a locked program while mode is
// LOCK. It returns the number of processes killed. Listing and kill
// failures are logged only.
func (p *Process) Scan(ctx context.Context, mode registry.Mode, programs []registry.Item) int {
	if mode != registry.ModeLock {
		return 0
	}

	var wanted [][]string
	for _, it := range programs {
		if it.Kind == registry.KindProgram && it.Locked {
			wanted = append(wanted, matchNames(it.Path))
		}
	}
	if len(wanted) == 0 {
		return 0
	}

	procs, err := p.lister.Processes(ctx)
	if err != nil {
		p.logger.Warn("enforcer: cannot list processes", "error", err)
		return 0
	}

	killed := 0
	for _, proc := range procs {
		if proc.PID == p.self {
			continue
		}
		for _, names := range wanted {
			if !matches(proc.Name, names) {
				continue
			}
			if ctx.Err() != nil {
				return killed
			}
			if err := p.killer.Kill(ctx, proc.PID); err != nil {
				p.logger.Warn("enforcer: kill failed", "pid", proc.PID, "name", proc.Name, "error", err)
			} else {
				p.logger.Info("enforcer: killed locked program", "pid", proc.PID, "name", proc.Name)
				killed++
			}
			break
		}
	}
	return killed
}
