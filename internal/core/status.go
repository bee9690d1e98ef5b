package core

import (
	"context"
	"errors"
	"time"

	"github.com/illarion/lockd/internal/ledger"
	"github.com/illarion/lockd/internal/registry"
)

// StatusInfo contains status information
type StatusInfo struct {
	DataDir        string
	Mode           registry.Mode
	PasswordSet    bool
	Programs       int
	Folders        int
	LockedPrograms int
	LockedFolders  int
	Items          []registry.Item

	// DaemonActive is set when another process holds the ledger.
	DaemonActive bool
	LockedRoots  []ledger.Root
	DeniedNodes  int
	Created      string
	Algorithm    string
	KDFIters     int

	// Set when this process owns the daemon.
	DaemonState string
	Ticks       uint64
	LastTick    time.Time
}

// Status returns the current status (no password required)
func (c *Core) Status(ctx context.Context) (*StatusInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	st := &StatusInfo{
		DataDir:     c.cfg.DataDir,
		Mode:        c.registry.Mode(),
		PasswordSet: c.registry.HasPassword(),
		Items:       c.registry.List(registry.KindAny),
		Created:     c.store.GetString(registry.NsSystemConfig, KeyCreated, ""),
		Algorithm:   "AES-256-GCM",
		KDFIters:    c.cfg.KDFIterations,
	}
	c.mu.Lock()
	if c.daemon != nil {
		st.DaemonState = c.daemon.State().String()
		st.Ticks = c.daemon.Ticks()
		st.LastTick = c.daemon.LastTick()
	}
	c.mu.Unlock()
	for _, it := range st.Items {
		switch it.Kind {
		case registry.KindProgram:
			st.Programs++
			if it.Locked {
				st.LockedPrograms++
			}
		case registry.KindFolder:
			st.Folders++
			if it.Locked {
				st.LockedFolders++
			}
		}
	}

	l, release, err := c.readLedger()
	switch {
	case errors.Is(err, ErrDaemonRunning):
		st.DaemonActive = true
		return st, nil
	case err != nil:
		return nil, err
	case l == nil:
		return st, nil
	}
	defer release()

	if st.LockedRoots, err = l.Roots(); err != nil {
		return nil, err
	}
	nodes, err := l.Nodes()
	if err != nil {
		return nil, err
	}
	st.DeniedNodes = len(nodes)
	return st, nil
}

// readLedger returns the open ledger, or a read-only view of the ledger
// file. A missing file yields a nil ledger.
func (c *Core) readLedger() (*ledger.Ledger, func(), error) {
	c.mu.Lock()
	if c.ledger != nil {
		l := c.ledger
		return l, c.mu.Unlock, nil
	}
	c.mu.Unlock()

	if !c.LedgerExists() {
		return nil, func() {}, nil
	}
	l, err := ledger.Open(c.cfg.LedgerPath(), ledger.Options{ReadOnly: true, Timeout: 200 * time.Millisecond})
	if err != nil {
		if errors.Is(err, ledger.ErrBusy) {
			return nil, func() {}, ErrDaemonRunning
		}
		return nil, func() {}, err
	}
	return l, func() { l.Close() }, nil
}
