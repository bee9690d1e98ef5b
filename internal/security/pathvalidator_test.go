package security

import (
	"errors"
	"path/filepath"
	"runtime"
	"testing"
)

func TestPathValidator_ValidateAndNormalize(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix path layout")
	}

	validator, err := New("/var/lib/lockd")
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}

	tests := []struct {
		name    string
		input   string
		want    string
		errType error
	}{
		// Valid paths
		{"folder", "/home/alice/Private", "/home/alice/Private", nil},
		{"program", "/usr/bin/game", "/usr/bin/game", nil},
		{"trailing slash", "/home/alice/Private/", "/home/alice/Private", nil},
		{"dot segments", "/home/alice/./a/../Private", "/home/alice/Private", nil},
		{"data dir sibling", "/var/lib/lockdx", "/var/lib/lockdx", nil},

		// Rejected
		{"empty path", "", "", ErrEmptyPath},
		{"relative path", "Private", "", ErrRelativePath},
		{"parent relative", "../etc", "", ErrRelativePath},
		{"root", "/", "", ErrFilesystemRoot},
		{"root via dots", "/tmp/..", "", ErrFilesystemRoot},
		{"data dir", "/var/lib/lockd", "", ErrGuardsDataDir},
		{"inside data dir", "/var/lib/lockd/store.dat", "", ErrGuardsDataDir},
		{"ancestor of data dir", "/var/lib", "", ErrGuardsDataDir},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := validator.ValidateAndNormalize(tt.input)

			if tt.errType != nil {
				if !errors.Is(err, tt.errType) {
					t.Errorf("Expected %v for input %q, got %v", tt.errType, tt.input, err)
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error for input %q: %v", tt.input, err)
				return
			}
			if result != tt.want {
				t.Errorf("Result: got %q, want %q", result, tt.want)
			}
		})
	}
}

func TestPathValidator_ValidateExistingPath(t *testing.T) {
	validator, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}

	base := filepath.Join(t.TempDir(), "items")

	tests := []struct {
		name      string
		stored    string
		shouldErr bool
	}{
		{"normal path", filepath.Join(base, "Foo"), false},
		{"unclean path", base + string(filepath.Separator) + "." + string(filepath.Separator) + "Foo", true},
		{"relative path", "Foo", true},
		{"data dir", validator.DataDir(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validator.ValidateExistingPath(tt.stored)

			if tt.shouldErr && err == nil {
				t.Errorf("Expected error for stored path %q, got none", tt.stored)
			}
			if !tt.shouldErr && err != nil {
				t.Errorf("Unexpected error for stored path %q: %v", tt.stored, err)
			}
		})
	}
}

func TestContains(t *testing.T) {
	sep := string(filepath.Separator)
	root := filepath.Join(sep+"data", "Foo")

	tests := []struct {
		path string
		want bool
	}{
		{root, true},
		{filepath.Join(root, "Bar"), true},
		{filepath.Join(root, "Bar", "baz.txt"), true},
		{filepath.Join(sep+"data", "Foobar"), false},
		{filepath.Join(sep + "data"), false},
		{filepath.Join(sep+"data", "..Foo"), false},
	}

	for _, tt := range tests {
		if got := Contains(root, tt.path); got != tt.want {
			t.Errorf("Contains(%q, %q): got %v, want %v", root, tt.path, got, tt.want)
		}
	}
}
