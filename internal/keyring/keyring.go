package keyring

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/illarion/lockd/internal/crypto"
	"github.com/zalando/go-keyring"
)

const (
	serviceName = "lockd"
	secretSize  = 32
)

// SaveSecret stores an identity secret in the OS keyring
func SaveSecret(account string, secret string) error {
	return keyring.Set(serviceName, account, secret)
}

// GetSecret retrieves an identity secret from the OS keyring
func GetSecret(account string) (string, error) {
	return keyring.Get(serviceName, account)
}

// GetOrCreateSecret returns the stored secret for account, generating and
// storing a new random one on first use.
func GetOrCreateSecret(account string) (string, error) {
	secret, err := GetSecret(account)
	if err == nil {
		return secret, nil
	}
	if !errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("failed to read keyring: %w", err)
	}

	b, err := crypto.GenerateRandom(secretSize)
	if err != nil {
		return "", err
	}
	secret = hex.EncodeToString(b)
	crypto.ClearBytes(b)

	if err := SaveSecret(account, secret); err != nil {
		return "", fmt.Errorf("failed to save to keyring: %w", err)
	}
	return secret, nil
}
