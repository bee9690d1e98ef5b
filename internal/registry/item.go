package registry

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/illarion/lockd/internal/store"
)

// Kind distinguishes programs from folders. KindAny means "not specified"
// for Add and "all kinds" for List.
type Kind int

const (
	KindAny Kind = iota
	KindProgram
	KindFolder
)

func (k Kind) String() string {
	switch k {
	case KindProgram:
		return "program"
	case KindFolder:
		return "folder"
	default:
		return "any"
	}
}

// ParseKind parses "program", "folder" or "" (any).
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any", "auto":
		return KindAny, nil
	case "program", "prog":
		return KindProgram, nil
	case "folder", "dir":
		return KindFolder, nil
	}
	return KindAny, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

func (k Kind) namespace() string {
	if k == KindProgram {
		return NsPrograms
	}
	return NsFolders
}

func (k Kind) keyPrefix() string {
	return k.String() + ":"
}

// Mode is the global enforcement mode.
type Mode int

const (
	ModeUnlock Mode = iota
	ModeLock
)

func (m Mode) String() string {
	if m == ModeLock {
		return "lock"
	}
	return "unlock"
}

// ParseMode parses "lock" or "unlock".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lock":
		return ModeLock, nil
	case "unlock":
		return ModeUnlock, nil
	}
	return ModeUnlock, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Item is a protected program or folder.
type Item struct {
	Path   string
	Name   string
	Kind   Kind
	Locked bool
}

func (it Item) key() string {
	return it.Kind.keyPrefix() + it.Path
}

func (it Item) value() store.Value {
	return store.Map(map[string]store.Value{
		"name":   store.String(it.Name),
		"locked": store.Bool(it.Locked),
	})
}

// decodeItem rebuilds an item from its store entry. Entries with a foreign
// prefix or a non-map value are rejected.
func decodeItem(kind Kind, key string, v store.Value) (Item, bool) {
	path, ok := strings.CutPrefix(key, kind.keyPrefix())
	if !ok || path == "" || v.Kind() != store.KindMap {
		return Item{}, false
	}
	name := v.Field("name").StringOr("")
	if name == "" {
		name = filepath.Base(path)
	}
	return Item{
		Path:   path,
		Name:   name,
		Kind:   kind,
		Locked: v.Field("locked").BoolOr(false),
	}, true
}
