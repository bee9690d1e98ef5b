// Package acl applies binary deny/allow permissions to single filesystem
// nodes. Recursion and ordering are the enforcer's job; a Permissioner only
// ever touches the one path it is given.
package acl

import (
	"errors"
	"io/fs"
)

// ErrUnsupported is returned by backends that cannot express a change.
var ErrUnsupported = errors.New("permission change not supported on this platform")

// Permissioner denies and restores access to one path.
type Permissioner interface {
	// Deny removes all access to path.
	Deny(path string) error
	// Allow restores access to path. restore carries the permission bits
	// recorded before Deny; backends that do not use mode bits ignore it.
	Allow(path string, restore fs.FileMode) error
	// Denied reports whether path currently carries lockd's deny.
	Denied(path string) (bool, error)
}

// DeniedMode reports whether mode looks like a node lockd denied.
func DeniedMode(mode fs.FileMode) bool {
	return mode.Perm() == 0
}

// FallbackMode is the mode restored when no original was recorded and the
// node is currently denied.
func FallbackMode(isDir bool) fs.FileMode {
	if isDir {
		return 0700
	}
	return 0600
}
