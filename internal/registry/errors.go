package registry

import "errors"

// Sentinel kinds for registry errors.
var (
	ErrUnrouted      = errors.New("no contact point for receiver")
	ErrGroupNotFound = errors.New("group not found")
)
