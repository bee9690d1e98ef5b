package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/illarion/lockd/internal/config"
	"github.com/illarion/lockd/internal/core"
	"github.com/illarion/lockd/internal/crypto"
	"golang.org/x/term"
)

// ReadPassword reads a password from the terminal without echoing
func ReadPassword(prompt string) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("%w: stdin is not a terminal, set %s", core.ErrPasswordRequired, config.EnvPassword)
	}

	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	return password, nil
}

// ReadPasswordConfirm reads a password twice and ensures they match
func ReadPasswordConfirm(prompt string) ([]byte, error) {
	password1, err := ReadPassword(prompt)
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(password1)

	password2, err := ReadPassword("Confirm password: ")
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(password2)

	if !crypto.ConstantTimeCompare(password1, password2) {
		return nil, errors.New("passwords do not match")
	}
	if len(password1) == 0 {
		return nil, errors.New("empty password")
	}

	result := make([]byte, len(password1))
	copy(result, password1)
	return result, nil
}

// GetPasswordFromEnv reads the password from LOCKD_PASSWORD.
func GetPasswordFromEnv() []byte {
	password := os.Getenv(config.EnvPassword)
	if password == "" {
		return nil
	}
	return []byte(password)
}

// GetPassword retrieves password from environment or prompts user
// The caller is responsible for calling crypto.ClearBytes on the returned password
func GetPassword(prompt string) ([]byte, error) {
	if password := GetPasswordFromEnv(); password != nil {
		return password, nil
	}
	return ReadPassword(prompt)
}
