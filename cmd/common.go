package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/illarion/lockd/internal/config"
	"github.com/illarion/lockd/internal/core"
	"github.com/illarion/lockd/internal/registry"
	"github.com/illarion/lockd/internal/security"
	"github.com/illarion/lockd/internal/store"
)

// HandleError prints err with a hint where one helps and exits with 1.
func HandleError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", err)

	switch {
	case errors.Is(err, core.ErrDaemonRunning):
		fmt.Fprintf(os.Stderr, "Stop the running 'lockd run' first\n")
	case errors.Is(err, registry.ErrItemNotFound):
		fmt.Fprintf(os.Stderr, "Use 'lockd ls' to see protected items\n")
	case errors.Is(err, registry.ErrItemExists):
		fmt.Fprintf(os.Stderr, "Use 'lockd toggle' to change its lock flag\n")
	case errors.Is(err, registry.ErrKindMismatch), errors.Is(err, registry.ErrUnknownKind):
		fmt.Fprintf(os.Stderr, "Valid kinds: program, folder\n")
	case errors.Is(err, registry.ErrUnknownMode):
		fmt.Fprintf(os.Stderr, "Valid modes: lock, unlock\n")
	case errors.Is(err, security.ErrGuardsDataDir):
		fmt.Fprintf(os.Stderr, "The lockd data directory cannot be protected\n")
	case errors.Is(err, store.ErrKeyUnavailable):
		fmt.Fprintf(os.Stderr, "State was encrypted for another user or machine\n")
	case errors.Is(err, config.ErrInvalidConfig):
		fmt.Fprintf(os.Stderr, "Use 'lockd config' to see the effective configuration\n")
	}
	os.Exit(1)
}
