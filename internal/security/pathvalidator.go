package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	ErrEmptyPath      = errors.New("empty path not allowed")
	ErrRelativePath   = errors.New("protected paths must be absolute")
	ErrFilesystemRoot = errors.New("refusing to protect a filesystem root")
	ErrGuardsDataDir  = errors.New("path overlaps the lockd data directory")
)

// PathValidator checks paths before they become protected items. Locking
// the data directory, or anything containing it, would lock lockd out of
// its own state, so such paths are rejected along with filesystem roots.
type PathValidator struct {
	dataDir string
}

// New creates a PathValidator guarding the data directory at dataDir.
func New(dataDir string) (*PathValidator, error) {
	absPath, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	return &PathValidator{dataDir: filepath.Clean(absPath)}, nil
}

// DataDir returns the guarded directory.
func (pv *PathValidator) DataDir() string { return pv.dataDir }

// ValidateAndNormalize validates a user-provided path and returns its
// cleaned absolute form, suitable for storage. It rejects:
//   - Empty paths
//   - Relative paths
//   - Filesystem and volume roots
//   - The data directory, anything inside it, and any of its ancestors
func (pv *PathValidator) ValidateAndNormalize(userPath string) (string, error) {
	if userPath == "" {
		return "", ErrEmptyPath
	}
	if !filepath.IsAbs(userPath) {
		return "", fmt.Errorf("%w: %s", ErrRelativePath, userPath)
	}

	cleanPath := filepath.Clean(userPath)

	if isRoot(cleanPath) {
		return "", fmt.Errorf("%w: %s", ErrFilesystemRoot, cleanPath)
	}
	if Contains(cleanPath, pv.dataDir) || Contains(pv.dataDir, cleanPath) {
		return "", fmt.Errorf("%w: %s", ErrGuardsDataDir, cleanPath)
	}

	return cleanPath, nil
}

// ValidateExistingPath validates a path read back from the store. A stored
// path that fails validation means the state was edited by hand or comes
// from an older data directory layout, and it must not be enforced.
func (pv *PathValidator) ValidateExistingPath(storedPath string) (string, error) {
	cleaned, err := pv.ValidateAndNormalize(storedPath)
	if err != nil {
		return "", err
	}
	if cleaned != storedPath {
		return "", fmt.Errorf("stored path is not normalized: %s", storedPath)
	}
	return cleaned, nil
}

// Contains reports whether path is parent itself or lies beneath it. Both
// must be clean absolute paths.
func Contains(parent, path string) bool {
	rel, err := filepath.Rel(parent, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func isRoot(path string) bool {
	return filepath.Dir(path) == path
}
