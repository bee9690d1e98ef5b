package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/illarion/lockd/internal/core"
	"github.com/illarion/lockd/internal/crypto"
	"github.com/illarion/lockd/internal/registry"
)

// absPath resolves a command line path against the working directory.
func absPath(arg string) (string, error) {
	if arg == "" {
		return "", fmt.Errorf("empty path")
	}
	abs, err := filepath.Abs(arg)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", arg, err)
	}
	return abs, nil
}

// requirePassword asks for and checks the operator password when one is
// set.
func requirePassword(c *core.Core) error {
	reg := c.Registry()
	if !reg.HasPassword() {
		return nil
	}
	password, err := GetPassword("Enter password: ")
	if err != nil {
		return err
	}
	defer crypto.ClearBytes(password)
	return reg.CheckPassword(password)
}

func lockLabel(locked bool) string {
	if locked {
		return "locked"
	}
	return "unlocked"
}

func describe(it registry.Item) string {
	return fmt.Sprintf("%s %s (%s, %s)", it.Kind, it.Path, it.Name, lockLabel(it.Locked))
}
