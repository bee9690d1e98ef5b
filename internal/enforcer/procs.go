package enforcer

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/process"
)

// SystemProcesses lists and kills processes through gopsutil.
type SystemProcesses struct{}

func (SystemProcesses) Processes(ctx context.Context) ([]ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	out := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil || name == "" {
			// exited or not inspectable
			continue
		}
		out = append(out, ProcessInfo{PID: p.Pid, Name: name})
	}
	return out, nil
}

func (SystemProcesses) Kill(ctx context.Context, pid int32) error {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return err
	}
	return p.KillWithContext(ctx)
}
