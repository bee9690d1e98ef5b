package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/illarion/lockd/internal/crypto"
	"github.com/illarion/lockd/internal/identity"
	"golang.org/x/sync/errgroup"
)

const (
	DirPermSecure  = 0700 // Directory: owner rwx only
	FilePermSecure = 0600 // File: owner rw only

	encryptedExt = ".dat"
	plaintextExt = ".json"
	saltExt      = ".salt"
	backupExt    = ".bak"
)

var (
	ErrNotInitialized   = errors.New("store not initialized")
	ErrInvalidNamespace = errors.New("invalid namespace name")
	ErrKeyUnavailable   = errors.New("encryption key unavailable")
)

var namespacePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Source tells where Load found a namespace's data.
type Source int

const (
	SourceEmpty Source = iota
	SourcePrimary
	SourceBackup
)

func (s Source) String() string {
	switch s {
	case SourcePrimary:
		return "primary"
	case SourceBackup:
		return "backup"
	default:
		return "empty"
	}
}

// Options configures a Store.
type Options struct {
	// Dir is the data directory. It is created if missing.
	Dir string

	// Identity provides the fingerprint keys are derived from.
	Identity identity.Source

	// Iterations overrides the PBKDF2 iteration count.
	Iterations int

	// Plaintext lists namespaces stored without encryption.
	Plaintext []string

	// Encrypted lists namespaces whose keys are derived up front, so key
	// problems surface from New rather than on first use.
	Encrypted []string

	// WriteThrough saves a namespace after every Put and Remove.
	WriteThrough bool

	Logger *slog.Logger
}

// Store is a namespaced key-value store with per-namespace encryption and
// reader/writer locking. The zero Store is not initialized; use New.
type Store struct {
	dir          string
	identity     []byte
	iterations   int
	plaintext    map[string]bool
	writeThrough bool
	logger       *slog.Logger
	rename       func(oldpath, newpath string) error

	mu         sync.Mutex // guards namespaces
	namespaces map[string]*namespace
	closed     atomic.Bool
}

type namespace struct {
	name string

	mu     sync.RWMutex
	data   map[string]Value
	enc    *crypto.Encryptor // nil until derived, always nil for plaintext
	stamp  fileStamp
	loaded bool
	dirty  bool
}

// New creates a Store rooted at opts.Dir. Failing to create the directory
// or to derive key material is fatal and returned as an error.
func New(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("%w: empty data directory", ErrNotInitialized)
	}
	if opts.Identity == nil {
		return nil, fmt.Errorf("%w: no identity source", ErrNotInitialized)
	}
	if err := os.MkdirAll(opts.Dir, DirPermSecure); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	id, err := opts.Identity.Identity()
	if err != nil {
		return nil, fmt.Errorf("failed to derive identity: %w", err)
	}
	if len(id) == 0 {
		return nil, fmt.Errorf("failed to derive identity: %w", crypto.ErrEmptyIdentity)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Store{
		dir:          opts.Dir,
		identity:     id,
		iterations:   opts.Iterations,
		plaintext:    make(map[string]bool, len(opts.Plaintext)),
		writeThrough: opts.WriteThrough,
		logger:       logger,
		rename:       os.Rename,
		namespaces:   make(map[string]*namespace),
	}
	for _, name := range opts.Plaintext {
		s.plaintext[name] = true
	}

	for _, name := range opts.Encrypted {
		ns, err := s.namespace(name, true)
		if err != nil {
			return nil, err
		}
		if s.plaintext[name] {
			continue
		}
		if _, err := s.encryptor(ns, true); err != nil {
			if errors.Is(err, crypto.ErrInvalidSalt) {
				// A damaged salt only disables its own namespace.
				logger.Error("store: unusable salt, namespace disabled", "namespace", name, "error", err)
				continue
			}
			return nil, fmt.Errorf("failed to derive key for %s: %w", name, err)
		}
	}

	return s, nil
}

// Dir returns the data directory.
func (s *Store) Dir() string { return s.dir }

// WriteThrough reports whether mutations are saved immediately.
func (s *Store) WriteThrough() bool { return s.writeThrough }

func (s *Store) ready() error {
	if s == nil || s.namespaces == nil || s.closed.Load() {
		return ErrNotInitialized
	}
	return nil
}

// namespace returns the named namespace, creating it when create is set.
func (s *Store) namespace(name string, create bool) (*namespace, error) {
	if !namespacePattern.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNamespace, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.namespaces[name]
	if !ok && create {
		ns = &namespace{name: name, data: make(map[string]Value)}
		s.namespaces[name] = ns
	}
	return ns, nil
}

// Namespaces returns the names of all namespaces known to the store.
func (s *Store) Namespaces() []string {
	if s.ready() != nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.namespaces))
	for name := range s.namespaces {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Get returns the value stored under key, or def when the key is missing.
// A non-null def also acts as a type assertion: a stored value of another
// kind is logged and def is returned instead.
func (s *Store) Get(nsName, key string, def Value) Value {
	if s.ready() != nil {
		return def
	}
	ns, err := s.namespace(nsName, false)
	if err != nil || ns == nil {
		return def
	}

	ns.mu.RLock()
	defer ns.mu.RUnlock()

	v, ok := ns.data[key]
	if !ok {
		return def
	}
	if !def.IsNull() && v.Kind() != def.Kind() {
		s.logger.Warn("store: type mismatch, using default",
			"namespace", nsName, "key", key, "stored", v.Kind().String(), "want", def.Kind().String())
		return def
	}
	if v.Kind() == KindMap {
		return Map(v.m)
	}
	return v
}

// GetString returns a string value or def.
func (s *Store) GetString(nsName, key, def string) string {
	return s.Get(nsName, key, String(def)).StringOr(def)
}

// GetBool returns a bool value or def.
func (s *Store) GetBool(nsName, key string, def bool) bool {
	return s.Get(nsName, key, Bool(def)).BoolOr(def)
}

// GetNumber returns a numeric value or def.
func (s *Store) GetNumber(nsName, key string, def float64) float64 {
	n, ok := s.Get(nsName, key, Number(def)).Number()
	if !ok {
		return def
	}
	return n
}

// Put stores v under key, creating the namespace if needed. Values that
// cannot be encoded are rejected before anything changes.
func (s *Store) Put(nsName, key string, v Value) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := v.Validate(); err != nil {
		return err
	}
	ns, err := s.namespace(nsName, true)
	if err != nil {
		return err
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()

	if v.Kind() == KindMap {
		v = Map(v.m)
	}
	ns.data[key] = v
	ns.dirty = true

	if s.writeThrough {
		return s.saveLocked(ns)
	}
	return nil
}

// Remove deletes key from the namespace.
func (s *Store) Remove(nsName, key string) error {
	if err := s.ready(); err != nil {
		return err
	}
	ns, err := s.namespace(nsName, false)
	if err != nil || ns == nil {
		return err
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()

	if _, ok := ns.data[key]; !ok {
		return nil
	}
	delete(ns.data, key)
	ns.dirty = true

	if s.writeThrough {
		return s.saveLocked(ns)
	}
	return nil
}

// ContainsKey reports whether key is present in the namespace.
func (s *Store) ContainsKey(nsName, key string) bool {
	if s.ready() != nil {
		return false
	}
	ns, err := s.namespace(nsName, false)
	if err != nil || ns == nil {
		return false
	}

	ns.mu.RLock()
	defer ns.mu.RUnlock()
	_, ok := ns.data[key]
	return ok
}

// GetAllData returns a copy of every entry in the namespace.
func (s *Store) GetAllData(nsName string) map[string]Value {
	if s.ready() != nil {
		return map[string]Value{}
	}
	ns, err := s.namespace(nsName, false)
	if err != nil || ns == nil {
		return map[string]Value{}
	}

	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return cloneMap(ns.data)
}

// Load reads a namespace from disk, replacing its in-memory contents.
// Corrupt data never produces an error; the returned Source says whether
// the live file, the backup, or nothing was used.
func (s *Store) Load(nsName string) (Source, error) {
	if err := s.ready(); err != nil {
		return SourceEmpty, err
	}
	ns, err := s.namespace(nsName, true)
	if err != nil {
		return SourceEmpty, err
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()
	return s.loadLocked(ns), nil
}

// LoadAll loads the given namespaces concurrently.
func (s *Store) LoadAll(ctx context.Context, names ...string) error {
	if err := s.ready(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			src, err := s.Load(name)
			if err != nil {
				return err
			}
			s.logger.Debug("store: namespace loaded", "namespace", name, "source", src.String())
			return nil
		})
	}
	return g.Wait()
}

// Refresh reloads a namespace if its live file changed on disk since the
// last load or save. Namespaces with unsaved changes are left alone.
func (s *Store) Refresh(nsName string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	ns, err := s.namespace(nsName, true)
	if err != nil {
		return false, err
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()

	if ns.loaded {
		if ns.dirty {
			return false, nil
		}
		if stampFile(s.livePath(ns.name)) == ns.stamp {
			return false, nil
		}
	}
	s.loadLocked(ns)
	return true, nil
}

func (s *Store) loadLocked(ns *namespace) Source {
	live := s.livePath(ns.name)
	ns.loaded = true
	ns.dirty = false
	ns.stamp = stampFile(live)

	if _, err := os.Stat(live); errors.Is(err, os.ErrNotExist) {
		ns.data = make(map[string]Value)
		return SourceEmpty
	}

	data, err := s.readDocument(ns, live)
	if err == nil {
		ns.data = data
		return SourcePrimary
	}
	s.logger.Warn("store: live file unreadable, trying backup", "namespace", ns.name, "error", err)

	data, bakErr := s.readDocument(ns, live+backupExt)
	if bakErr == nil {
		ns.data = data
		s.logger.Warn("store: recovered namespace from backup", "namespace", ns.name)
		return SourceBackup
	}

	s.logger.Error("store: backup unreadable, starting empty",
		"namespace", ns.name, "error", err, "backup_error", bakErr)
	ns.data = make(map[string]Value)
	return SourceEmpty
}

// Save persists a namespace atomically.
func (s *Store) Save(nsName string) error {
	if err := s.ready(); err != nil {
		return err
	}
	ns, err := s.namespace(nsName, false)
	if err != nil || ns == nil {
		return err
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()
	return s.saveLocked(ns)
}

// SaveAll persists every namespace with unsaved changes.
func (s *Store) SaveAll() error {
	if err := s.ready(); err != nil {
		return err
	}

	var errs []error
	for _, name := range s.Namespaces() {
		ns, _ := s.namespace(name, false)
		if ns == nil {
			continue
		}
		ns.mu.Lock()
		if ns.dirty {
			if err := s.saveLocked(ns); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}
		ns.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (s *Store) saveLocked(ns *namespace) error {
	plain, err := json.MarshalIndent(ns.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", ns.name, err)
	}

	payload := plain
	if !s.plaintext[ns.name] {
		enc, err := s.encryptor(ns, true)
		if err != nil {
			crypto.ClearBytes(plain)
			return err
		}
		payload, err = enc.Encrypt(plain)
		crypto.ClearBytes(plain)
		if err != nil {
			return fmt.Errorf("failed to encrypt %s: %w", ns.name, err)
		}
	}

	live := s.livePath(ns.name)
	s.backupLocked(ns, live)

	if err := s.writeAtomic(live, payload); err != nil {
		return fmt.Errorf("failed to save %s: %w", ns.name, err)
	}

	ns.stamp = stampFile(live)
	ns.loaded = true
	ns.dirty = false
	return nil
}

// backupLocked copies the live file to its .bak sibling, but only when the
// live file still decodes. A damaged live file never replaces a good backup.
func (s *Store) backupLocked(ns *namespace, live string) {
	raw, err := os.ReadFile(live)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("store: cannot read live file for backup", "namespace", ns.name, "error", err)
		}
		return
	}
	if _, err := s.decodeDocument(ns, raw); err != nil {
		s.logger.Warn("store: live file invalid, keeping previous backup", "namespace", ns.name, "error", err)
		return
	}
	if err := s.writeAtomic(live+backupExt, raw); err != nil {
		s.logger.Warn("store: backup failed", "namespace", ns.name, "error", err)
	}
}

func (s *Store) readDocument(ns *namespace, path string) (map[string]Value, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return s.decodeDocument(ns, raw)
}

func (s *Store) decodeDocument(ns *namespace, raw []byte) (map[string]Value, error) {
	plain := raw
	if !s.plaintext[ns.name] {
		enc, err := s.encryptor(ns, false)
		if err != nil {
			return nil, err
		}
		plain, err = enc.Decrypt(raw)
		if err != nil {
			return nil, err
		}
		defer crypto.ClearBytes(plain)
	}

	var data map[string]Value
	if err := json.Unmarshal(plain, &data); err != nil {
		return nil, fmt.Errorf("malformed document: %w", err)
	}
	if data == nil {
		data = make(map[string]Value)
	}
	return data, nil
}

// encryptor returns the namespace's encryptor, deriving it on first use.
// With create set a missing salt is generated; otherwise it is an error.
// Callers hold ns.mu, except New which runs before the store is shared.
func (s *Store) encryptor(ns *namespace, create bool) (*crypto.Encryptor, error) {
	if ns.enc != nil {
		return ns.enc, nil
	}

	saltPath := filepath.Join(s.dir, ns.name+saltExt)
	salt, err := os.ReadFile(saltPath)
	switch {
	case errors.Is(err, os.ErrNotExist) && create:
		salt, err = crypto.NewSalt()
		if err != nil {
			return nil, err
		}
		if err := s.writeAtomic(saltPath, salt); err != nil {
			return nil, fmt.Errorf("failed to store salt: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("%w: no salt for %s", ErrKeyUnavailable, ns.name)
	case err != nil:
		return nil, fmt.Errorf("failed to read salt: %w", err)
	}

	kdf, err := crypto.LoadKDF(salt, s.iterations)
	if err != nil {
		return nil, err
	}
	key, err := kdf.DeriveKey(s.identity)
	if err != nil {
		return nil, err
	}
	ns.enc = crypto.NewEncryptor(key)
	return ns.enc, nil
}

func (s *Store) livePath(name string) string {
	if s.plaintext[name] {
		return filepath.Join(s.dir, name+plaintextExt)
	}
	return filepath.Join(s.dir, name+encryptedExt)
}

// Close saves pending changes and wipes key material. The store cannot be
// used afterwards.
func (s *Store) Close() error {
	if err := s.ready(); err != nil {
		return err
	}
	err := s.SaveAll()

	s.mu.Lock()
	for _, ns := range s.namespaces {
		ns.mu.Lock()
		if ns.enc != nil {
			ns.enc.Destroy()
			ns.enc = nil
		}
		ns.mu.Unlock()
	}
	s.mu.Unlock()

	crypto.ClearBytes(s.identity)
	s.closed.Store(true)
	return err
}
