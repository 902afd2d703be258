package registry

import "errors"

// Sentinel errors for the registry plane's error taxonomy (spec §7).
var (
	ErrDiskFull      = errors.New("registry: disk full")
	ErrLockTimeout   = errors.New("registry: lock acquisition failed")
	ErrPathTraversal = errors.New("registry: path traversal rejected")
)
