// Package identity builds the user and machine fingerprint the store
// encryption keys are derived from.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"

	"github.com/denisbrodbeck/machineid"
	"github.com/illarion/lockd/internal/keyring"
)

const appID = "lockd"

var ErrNoUser = errors.New("cannot determine current user")

// Source produces the identity bytes fed into key derivation.
type Source interface {
	Identity() ([]byte, error)
}

// Static is a fixed identity, used in tests and for explicit overrides.
type Static []byte

func (s Static) Identity() ([]byte, error) {
	return append([]byte(nil), s...), nil
}

// Machine combines the current user name, the host's machine ID and,
// optionally, a per-data-directory secret kept in the OS keyring.
type Machine struct {
	DataDir    string
	UseKeyring bool

	// overridable for tests
	username  func() (string, error)
	machineID func() (string, error)
}

// NewMachine returns a Machine identity for the given data directory.
func NewMachine(dataDir string, useKeyring bool) *Machine {
	return &Machine{
		DataDir:    dataDir,
		UseKeyring: useKeyring,
		username:   currentUser,
		machineID:  func() (string, error) { return machineid.ProtectedID(appID) },
	}
}

// Identity implements Source.
func (m *Machine) Identity() ([]byte, error) {
	name, err := m.username()
	if err != nil {
		return nil, err
	}

	mid, err := m.machineID()
	if err != nil {
		return nil, fmt.Errorf("failed to read machine id: %w", err)
	}

	id := []byte("lockd/v1\x00" + name + "\x00" + mid)
	if m.UseKeyring {
		secret, err := keyring.GetOrCreateSecret(KeyringAccount(m.DataDir))
		if err != nil {
			return nil, err
		}
		id = append(id, 0)
		id = append(id, secret...)
	}
	return id, nil
}

// KeyringAccount maps a data directory to its keyring account name.
func KeyringAccount(dataDir string) string {
	abs, err := filepath.Abs(dataDir)
	if err != nil {
		abs = dataDir
	}
	sum := sha256.Sum256([]byte(abs))
	return "identity-" + hex.EncodeToString(sum[:8])
}

func currentUser() (string, error) {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username, nil
	}
	for _, env := range []string{"USER", "USERNAME"} {
		if v := os.Getenv(env); v != "" {
			return v, nil
		}
	}
	return "", ErrNoUser
}
