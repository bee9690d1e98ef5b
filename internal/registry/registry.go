package registry

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/illarion/lockd/internal/crypto"
	"github.com/illarion/lockd/internal/security"
	"github.com/illarion/lockd/internal/store"
)

// Namespaces owned by the registry
const (
	NsPrograms     = "programs"
	NsFolders      = "folders"
	NsAccount      = "account"
	NsSystemConfig = "system-config"
)

// Account keys
const (
	KeyMode         = "mode"
	KeyPasswordHash = "password_hash"
)

var (
	ErrItemExists    = errors.New("item already protected")
	ErrItemNotFound  = errors.New("item not protected")
	ErrKindMismatch  = errors.New("path does not match item kind")
	ErrUnknownKind   = errors.New("unknown item kind")
	ErrUnknownMode   = errors.New("unknown mode")
	ErrWrongPassword = errors.New("wrong password")
)

// Namespaces lists every namespace the registry reads.
func Namespaces() []string {
	return []string{NsPrograms, NsFolders, NsAccount, NsSystemConfig}
}

// Registry is the set of protected items and the global mode, backed by
// the store. Every mutation is saved before it returns.
type Registry struct {
	mu        sync.Mutex // serializes read-modify-write and save
	store     *store.Store
	validator *security.PathValidator
	logger    *slog.Logger
	lstat     func(string) (os.FileInfo, error)
}

// New creates a registry over st. Paths are checked with v.
func New(st *store.Store, v *security.PathValidator, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		store:     st,
		validator: v,
		logger:    logger,
		lstat:     os.Lstat,
	}
}

// classify resolves the item kind from filesystem metadata. An explicitly
// requested PROGRAM must not be a directory; a FOLDER may be a single file.
func (r *Registry) classify(path string, want Kind) (Kind, error) {
	info, err := r.lstat(path)
	if err != nil {
		if want != KindAny && errors.Is(err, os.ErrNotExist) {
			return want, nil
		}
		return KindAny, fmt.Errorf("failed to inspect %s: %w", path, err)
	}

	switch want {
	case KindProgram:
		if info.IsDir() {
			return KindAny, fmt.Errorf("%w: %s is a directory", ErrKindMismatch, path)
		}
		return KindProgram, nil
	case KindFolder:
		return KindFolder, nil
	}

	if info.IsDir() {
		return KindFolder, nil
	}
	if info.Mode().IsRegular() {
		return KindProgram, nil
	}
	return KindAny, fmt.Errorf("%w: %s is neither a file nor a directory", ErrKindMismatch, path)
}

// Add protects a new item. The path is validated and normalized, the kind
// is inferred when not given, and the name defaults to the base name.
func (r *Registry) Add(item Item) (Item, error) {
	path, err := r.validator.ValidateAndNormalize(item.Path)
	if err != nil {
		return Item{}, err
	}
	kind, err := r.classify(path, item.Kind)
	if err != nil {
		return Item{}, err
	}

	item.Path = path
	item.Kind = kind
	item.Name = strings.TrimSpace(item.Name)
	if item.Name == "" {
		item.Name = filepath.Base(path)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ns := kind.namespace()
	if r.store.ContainsKey(ns, item.key()) {
		return Item{}, fmt.Errorf("%w: %s", ErrItemExists, path)
	}
	if err := r.putLocked(ns, item.key(), item.value()); err != nil {
		return Item{}, err
	}

	r.logger.Info("registry: item added", "kind", kind.String(), "path", path, "locked", item.Locked)
	return item, nil
}

// Remove stops protecting item. The enforcer restores its permissions on
// the next tick.
func (r *Registry) Remove(item Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	found, err := r.findLocked(item.Kind, item.Path)
	if err != nil {
		return err
	}

	ns := found.Kind.namespace()
	if err := r.store.Remove(ns, found.key()); err != nil {
		return err
	}
	if err := r.saveLocked(ns); err != nil {
		return err
	}

	r.logger.Info("registry: item removed", "kind", found.Kind.String(), "path", found.Path)
	return nil
}

// ToggleLock flips the item's locked flag and returns the updated item.
func (r *Registry) ToggleLock(item Item) (Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	found, err := r.findLocked(item.Kind, item.Path)
	if err != nil {
		return Item{}, err
	}

	found.Locked = !found.Locked
	if err := r.putLocked(found.Kind.namespace(), found.key(), found.value()); err != nil {
		return Item{}, err
	}

	r.logger.Info("registry: lock toggled", "path", found.Path, "locked", found.Locked)
	return found, nil
}

// Get returns the item protecting path. With KindAny both kinds are
// searched, programs first.
func (r *Registry) Get(kind Kind, path string) (Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findLocked(kind, path)
}

func (r *Registry) findLocked(kind Kind, path string) (Item, error) {
	if filepath.IsAbs(path) {
		path = filepath.Clean(path)
	}

	kinds := []Kind{kind}
	if kind == KindAny {
		kinds = []Kind{KindProgram, KindFolder}
	}
	for _, k := range kinds {
		key := k.keyPrefix() + path
		v := r.store.Get(k.namespace(), key, store.Value{})
		if v.IsNull() {
			continue
		}
		if it, ok := decodeItem(k, key, v); ok {
			return it, nil
		}
	}
	return Item{}, fmt.Errorf("%w: %s", ErrItemNotFound, path)
}

// List returns the items of the given kind, sorted by path. Entries whose
// stored path no longer validates are logged and left out, so they are
// never enforced.
func (r *Registry) List(kind Kind) []Item {
	kinds := []Kind{kind}
	if kind == KindAny {
		kinds = []Kind{KindProgram, KindFolder}
	}

	var items []Item
	for _, k := range kinds {
		for key, v := range r.store.GetAllData(k.namespace()) {
			it, ok := decodeItem(k, key, v)
			if !ok {
				r.logger.Warn("registry: skipping malformed entry", "namespace", k.namespace(), "key", key)
				continue
			}
			if _, err := r.validator.ValidateExistingPath(it.Path); err != nil {
				r.logger.Warn("registry: skipping invalid path", "path", it.Path, "error", err)
				continue
			}
			items = append(items, it)
		}
	}

	slices.SortFunc(items, func(a, b Item) int {
		if c := strings.Compare(a.Path, b.Path); c != 0 {
			return c
		}
		return int(a.Kind) - int(b.Kind)
	})
	return items
}

// Mode reads the persisted global mode. Anything unreadable counts as
// UNLOCK.
func (r *Registry) Mode() Mode {
	raw := r.store.GetString(NsAccount, KeyMode, ModeUnlock.String())
	m, err := ParseMode(raw)
	if err != nil {
		r.logger.Warn("registry: invalid stored mode, treating as unlock", "value", raw)
		return ModeUnlock
	}
	return m
}

// SetMode persists the global mode.
func (r *Registry) SetMode(m Mode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.putLocked(NsAccount, KeyMode, store.String(m.String())); err != nil {
		return err
	}
	r.logger.Info("registry: mode changed", "mode", m.String())
	return nil
}

// HasPassword reports whether an operator password is set.
func (r *Registry) HasPassword() bool {
	return r.store.GetString(NsAccount, KeyPasswordHash, "") != ""
}

// SetPassword stores the argon2id hash of password.
func (r *Registry) SetPassword(password []byte) error {
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putLocked(NsAccount, KeyPasswordHash, store.String(hash))
}

// CheckPassword verifies password against the stored hash. With no
// password set every password is accepted.
func (r *Registry) CheckPassword(password []byte) error {
	hash := r.store.GetString(NsAccount, KeyPasswordHash, "")
	if hash == "" {
		return nil
	}
	ok, err := crypto.VerifyPassword(hash, password)
	if err != nil {
		return err
	}
	if !ok {
		return ErrWrongPassword
	}
	return nil
}

// Refresh reloads namespaces changed on disk by another process. It
// reports whether anything was reloaded.
func (r *Registry) Refresh() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		changed bool
		errs    []error
	)
	for _, ns := range []string{NsPrograms, NsFolders, NsAccount} {
		ok, err := r.store.Refresh(ns)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		changed = changed || ok
	}
	return changed, errors.Join(errs...)
}

func (r *Registry) putLocked(ns, key string, v store.Value) error {
	if err := r.store.Put(ns, key, v); err != nil {
		return err
	}
	return r.saveLocked(ns)
}

func (r *Registry) saveLocked(ns string) error {
	if r.store.WriteThrough() {
		return nil
	}
	return r.store.Save(ns)
}
