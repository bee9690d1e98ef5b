package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/illarion/lockd/internal/identity"
	"github.com/illarion/lockd/internal/security"
	"github.com/illarion/lockd/internal/store"
)

type fixture struct {
	dataDir string
	root    string
	store   *store.Store
	reg     *Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	f := &fixture{
		dataDir: filepath.Join(base, "data"),
		root:    filepath.Join(base, "items"),
	}
	if err := os.MkdirAll(filepath.Join(f.root, "Foo"), 0755); err != nil {
		t.Fatalf("Failed to create folder: %v", err)
	}
	if err := os.WriteFile(filepath.Join(f.root, "game.exe"), []byte("bin"), 0755); err != nil {
		t.Fatalf("Failed to create program: %v", err)
	}
	f.store = openStore(t, f.dataDir)
	f.reg = newRegistry(t, f.store, f.dataDir)
	return f
}

func openStore(t *testing.T, dir string) *store.Store {
	t.Helper()
	st, err := store.New(store.Options{
		Dir:        dir,
		Identity:   identity.Static("alice"),
		Iterations: 1000,
		Plaintext:  []string{NsSystemConfig},
	})
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	return st
}

func newRegistry(t *testing.T, st *store.Store, dataDir string) *Registry {
	t.Helper()
	v, err := security.New(dataDir)
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}
	return New(st, v, nil)
}

func (f *fixture) path(name string) string {
	return filepath.Join(f.root, name)
}

func TestAddClassifiesByMetadata(t *testing.T) {
	f := newFixture(t)

	folder, err := f.reg.Add(Item{Path: f.path("Foo")})
	if err != nil {
		t.Fatalf("Add folder failed: %v", err)
	}
	if folder.Kind != KindFolder || folder.Name != "Foo" {
		t.Errorf("Unexpected folder item: %+v", folder)
	}

	prog, err := f.reg.Add(Item{Path: f.path("game.exe"), Name: "Game", Locked: true})
	if err != nil {
		t.Fatalf("Add program failed: %v", err)
	}
	if prog.Kind != KindProgram || prog.Name != "Game" || !prog.Locked {
		t.Errorf("Unexpected program item: %+v", prog)
	}

	want := []Item{
		{Path: f.path("Foo"), Name: "Foo", Kind: KindFolder},
		{Path: f.path("game.exe"), Name: "Game", Kind: KindProgram, Locked: true},
	}
	if diff := cmp.Diff(want, f.reg.List(KindAny)); diff != "" {
		t.Errorf("List mismatch (-want +got):\n%s", diff)
	}
	if got := f.reg.List(KindProgram); len(got) != 1 {
		t.Errorf("Expected 1 program, got %d", len(got))
	}
}

func TestAddErrors(t *testing.T) {
	f := newFixture(t)

	if _, err := f.reg.Add(Item{Path: f.path("Foo")}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	tests := []struct {
		name string
		item Item
		want error
	}{
		{"duplicate", Item{Path: f.path("Foo")}, ErrItemExists},
		{"program is directory", Item{Path: f.path("Foo"), Kind: KindProgram}, ErrKindMismatch},
		{"relative", Item{Path: "Foo"}, security.ErrRelativePath},
		{"data dir", Item{Path: f.dataDir}, security.ErrGuardsDataDir},
		{"missing without kind", Item{Path: f.path("nope")}, os.ErrNotExist},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.reg.Add(tt.item); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestAddMissingWithExplicitKind(t *testing.T) {
	f := newFixture(t)

	item, err := f.reg.Add(Item{Path: f.path("later.exe"), Kind: KindProgram})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if item.Kind != KindProgram {
		t.Errorf("Kind: got %v, want program", item.Kind)
	}
}

func TestToggleAndRemove(t *testing.T) {
	f := newFixture(t)

	item, err := f.reg.Add(Item{Path: f.path("Foo")})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	toggled, err := f.reg.ToggleLock(item)
	if err != nil {
		t.Fatalf("ToggleLock failed: %v", err)
	}
	if !toggled.Locked {
		t.Error("Item should be locked after toggle")
	}

	got, err := f.reg.Get(KindAny, f.path("Foo"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Locked {
		t.Error("Toggle should be persisted")
	}

	if err := f.reg.Remove(item); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := f.reg.Get(KindFolder, item.Path); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound after remove, got %v", err)
	}
	if _, err := f.reg.ToggleLock(item); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound on toggle, got %v", err)
	}
	if err := f.reg.Remove(item); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound on second remove, got %v", err)
	}
}

func TestMutationsArePersisted(t *testing.T) {
	f := newFixture(t)

	if _, err := f.reg.Add(Item{Path: f.path("Foo"), Locked: true}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := f.reg.SetMode(ModeLock); err != nil {
		t.Fatalf("SetMode failed: %v", err)
	}

	st := openStore(t, f.dataDir)
	if err := st.LoadAll(context.Background(), Namespaces()...); err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	reg := newRegistry(t, st, f.dataDir)

	if reg.Mode() != ModeLock {
		t.Error("Mode should be persisted")
	}
	items := reg.List(KindFolder)
	if len(items) != 1 || !items[0].Locked {
		t.Errorf("Unexpected items after reload: %+v", items)
	}
}

func TestModeDefaultsToUnlock(t *testing.T) {
	f := newFixture(t)

	if f.reg.Mode() != ModeUnlock {
		t.Error("Default mode should be unlock")
	}

	if err := f.store.Put(NsAccount, KeyMode, store.String("sideways")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if f.reg.Mode() != ModeUnlock {
		t.Error("Unknown mode should read as unlock")
	}

	if err := f.store.Put(NsAccount, KeyMode, store.Bool(true)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if f.reg.Mode() != ModeUnlock {
		t.Error("Mistyped mode should read as unlock")
	}
}

func TestRefreshSeesOtherProcess(t *testing.T) {
	f := newFixture(t)
	if _, err := f.reg.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	// A second registry over its own store plays the CLI.
	cli := newRegistry(t, openStore(t, f.dataDir), f.dataDir)
	if err := cli.SetMode(ModeLock); err != nil {
		t.Fatalf("SetMode failed: %v", err)
	}

	changed, err := f.reg.Refresh()
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if !changed {
		t.Error("Refresh should report the change")
	}
	if f.reg.Mode() != ModeLock {
		t.Error("Mode change should be visible after refresh")
	}
}

func TestListSkipsInvalidEntries(t *testing.T) {
	f := newFixture(t)

	if err := f.store.Put(NsFolders, "folder:relative/path", store.Map(map[string]store.Value{
		"name": store.String("x"), "locked": store.Bool(true),
	})); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := f.store.Put(NsFolders, "folder:"+f.path("Foo"), store.String("not a map")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := f.store.Put(NsFolders, "program:"+f.path("Foo"), store.Map(nil)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if items := f.reg.List(KindFolder); len(items) != 0 {
		t.Errorf("Expected invalid entries to be skipped, got %+v", items)
	}
}

func TestPassword(t *testing.T) {
	f := newFixture(t)

	if f.reg.HasPassword() {
		t.Error("No password should be set initially")
	}
	if err := f.reg.CheckPassword([]byte("anything")); err != nil {
		t.Errorf("Without a password every check passes, got %v", err)
	}

	if err := f.reg.SetPassword([]byte("hunter2")); err != nil {
		t.Fatalf("SetPassword failed: %v", err)
	}
	if !f.reg.HasPassword() {
		t.Error("Password should be set")
	}
	if err := f.reg.CheckPassword([]byte("hunter2")); err != nil {
		t.Errorf("Correct password rejected: %v", err)
	}
	if err := f.reg.CheckPassword([]byte("wrong")); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("Expected ErrWrongPassword, got %v", err)
	}
}

func TestParse(t *testing.T) {
	if k, err := ParseKind("Folder"); err != nil || k != KindFolder {
		t.Errorf("ParseKind(Folder): %v, %v", k, err)
	}
	if _, err := ParseKind("socket"); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("Expected ErrUnknownKind, got %v", err)
	}
	if m, err := ParseMode(" LOCK "); err != nil || m != ModeLock {
		t.Errorf("ParseMode(LOCK): %v, %v", m, err)
	}
	if _, err := ParseMode("maybe"); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("Expected ErrUnknownMode, got %v", err)
	}
}
