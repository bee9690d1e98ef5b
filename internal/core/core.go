package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/illarion/lockd/internal/acl"
	"github.com/illarion/lockd/internal/config"
	"github.com/illarion/lockd/internal/daemon"
	"github.com/illarion/lockd/internal/enforcer"
	"github.com/illarion/lockd/internal/identity"
	"github.com/illarion/lockd/internal/ledger"
	"github.com/illarion/lockd/internal/logging"
	"github.com/illarion/lockd/internal/registry"
	"github.com/illarion/lockd/internal/security"
	"github.com/illarion/lockd/internal/store"
)

const (
	SchemaVersion = 1
	ledgerTimeout = time.Second
)

// Keys in the plaintext system-config namespace
const (
	KeySchemaVersion = "schema_version"
	KeyCreated       = "created"
)

var (
	ErrNotInitialized   = errors.New("lockd not initialized")
	ErrDaemonRunning    = errors.New("another lockd daemon is running")
	ErrPasswordRequired = errors.New("password required")
)

// Option customizes Open.
type Option func(*Core)

// WithLogger uses logger instead of one built from the config.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Core) { c.logger = logger }
}

// WithIdentity replaces the machine identity.
func WithIdentity(src identity.Source) Option {
	return func(c *Core) { c.identity = src }
}

// WithPermissioner replaces the platform permission backend.
func WithPermissioner(p acl.Permissioner) Option {
	return func(c *Core) { c.perm = p }
}

// WithProcesses replaces the system process table.
func WithProcesses(l enforcer.Lister, k enforcer.Killer) Option {
	return func(c *Core) { c.lister, c.killer = l, k }
}

// Core is an open lockd data directory.
type Core struct {
	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
	identity  identity.Source
	perm      acl.Permissioner
	lister    enforcer.Lister
	killer    enforcer.Killer

	store     *store.Store
	validator *security.PathValidator
	registry  *registry.Registry

	mu     sync.Mutex // guards ledger and daemon
	ledger *ledger.Ledger
	daemon *daemon.Daemon
}

// Open opens the data directory described by cfg. Failing to derive the
// identity or to create the data directory is returned as an error.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Core, error) {
	if cfg == nil {
		return nil, ErrNotInitialized
	}

	c := &Core{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		logger, closer, err := logging.New(cfg.Log)
		if err != nil {
			return nil, fmt.Errorf("failed to set up logging: %w", err)
		}
		c.logger, c.logCloser = logger, closer
	}
	if c.identity == nil {
		c.identity = identity.NewMachine(cfg.DataDir, cfg.UseKeyring)
	}
	if c.perm == nil {
		c.perm = acl.New()
	}

	st, err := store.New(store.Options{
		Dir:          cfg.DataDir,
		Identity:     c.identity,
		Iterations:   cfg.KDFIterations,
		Plaintext:    []string{registry.NsSystemConfig},
		Encrypted:    []string{registry.NsPrograms, registry.NsFolders, registry.NsAccount},
		WriteThrough: cfg.WriteThrough,
		Logger:       c.logger,
	})
	if err != nil {
		c.closeLog()
		return nil, err
	}
	c.store = st

	if err := st.LoadAll(ctx, registry.Namespaces()...); err != nil {
		c.closeLog()
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	if err := c.stampSchema(); err != nil {
		c.logger.Warn("core: cannot record schema version", "error", err)
	}

	c.validator, err = security.New(cfg.DataDir)
	if err != nil {
		c.closeLog()
		return nil, fmt.Errorf("failed to initialize path validator: %w", err)
	}
	c.registry = registry.New(st, c.validator, c.logger)

	return c, nil
}

func (c *Core) stampSchema() error {
	if c.store.ContainsKey(registry.NsSystemConfig, KeySchemaVersion) {
		return nil
	}
	if err := c.store.Put(registry.NsSystemConfig, KeySchemaVersion, store.Int(SchemaVersion)); err != nil {
		return err
	}
	if err := c.store.Put(registry.NsSystemConfig, KeyCreated, store.String(time.Now().UTC().Format(time.RFC3339))); err != nil {
		return err
	}
	return c.store.Save(registry.NsSystemConfig)
}

// Config returns the effective configuration.
func (c *Core) Config() *config.Config { return c.cfg }

// Logger returns the process logger.
func (c *Core) Logger() *slog.Logger { return c.logger }

// Store returns the state store.
func (c *Core) Store() *store.Store { return c.store }

// Registry returns the protected-item registry.
func (c *Core) Registry() *registry.Registry { return c.registry }

// openLedgerLocked opens the ledger for writing. Callers hold c.mu.
func (c *Core) openLedgerLocked() (*ledger.Ledger, error) {
	if c.ledger != nil {
		return c.ledger, nil
	}
	l, err := ledger.Open(c.cfg.LedgerPath(), ledger.Options{Timeout: ledgerTimeout})
	if err != nil {
		if errors.Is(err, ledger.ErrBusy) {
			return nil, ErrDaemonRunning
		}
		return nil, err
	}
	c.ledger = l
	return l, nil
}

func (c *Core) folderEnforcer(l *ledger.Ledger) *enforcer.Folder {
	return enforcer.NewFolder(c.perm, l, c.logger)
}

// Daemon returns the enforcement daemon, building it on first call.
func (c *Core) Daemon() (*daemon.Daemon, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.daemon != nil {
		return c.daemon, nil
	}
	l, err := c.openLedgerLocked()
	if err != nil {
		return nil, err
	}

	c.daemon = daemon.New(
		c.registry,
		c.folderEnforcer(l),
		enforcer.NewProcess(c.lister, c.killer, c.logger),
		daemon.Options{
			Interval: c.cfg.TickInterval.Duration,
			Grace:    c.cfg.ShutdownGrace.Duration,
			Settle:   c.cfg.SettleDelay.Duration,
			Logger:   c.logger,
		},
	)
	return c.daemon, nil
}

// ReleaseAll unlocks every tracked folder and every journaled node. It
// fails with ErrDaemonRunning while another process owns the ledger.
func (c *Core) ReleaseAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.daemon != nil && c.daemon.State() != daemon.StateStopped {
		return ErrDaemonRunning
	}
	l, err := c.openLedgerLocked()
	if err != nil {
		return err
	}

	var paths []string
	for _, it := range c.registry.List(registry.KindFolder) {
		paths = append(paths, it.Path)
	}
	return c.folderEnforcer(l).UnlockAll(paths)
}

// CompactLedger compacts the ledger file.
func (c *Core) CompactLedger() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.daemon != nil && c.daemon.State() != daemon.StateStopped {
		return ErrDaemonRunning
	}
	l, err := c.openLedgerLocked()
	if err != nil {
		return err
	}
	return l.Compact()
}

// Close stops the daemon if it runs, saves every namespace and closes the
// ledger and the log.
func (c *Core) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if c.daemon != nil && c.daemon.State() != daemon.StateStopped {
		if !c.daemon.Stop() {
			errs = append(errs, errors.New("daemon did not stop cleanly"))
		}
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil && !errors.Is(err, store.ErrNotInitialized) {
			errs = append(errs, err)
		}
	}
	if c.ledger != nil {
		if err := c.ledger.Close(); err != nil {
			errs = append(errs, err)
		}
		c.ledger = nil
	}
	c.closeLog()
	return errors.Join(errs...)
}

func (c *Core) closeLog() {
	if c.logCloser != nil {
		c.logCloser.Close()
		c.logCloser = nil
	}
}

// LedgerExists reports whether a ledger file has been created.
func (c *Core) LedgerExists() bool {
	_, err := os.Stat(c.cfg.LedgerPath())
	return err == nil
}
