//go:build !windows

package acl

import (
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

// Chmod denies access by clearing every permission bit and allows it by
// restoring the recorded bits.
type Chmod struct{}

// New returns the platform Permissioner.
func New() Permissioner { return Chmod{} }

func (Chmod) Deny(path string) error {
	if err := unix.Chmod(path, 0); err != nil {
		return fmt.Errorf("deny %s: %w", path, err)
	}
	return nil
}

func (Chmod) Allow(path string, restore fs.FileMode) error {
	if err := unix.Chmod(path, uint32(restore.Perm())); err != nil {
		return fmt.Errorf("allow %s: %w", path, err)
	}
	return nil
}

func (Chmod) Denied(path string) (bool, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return false, err
	}
	return DeniedMode(info.Mode()), nil
}
