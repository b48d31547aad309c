package replay

import "errors"

// Sentinel errors returned by the replay tool.
var (
	ErrNoAnchors   = errors.New("group has no avatar points")
	ErrUnexpected  = errors.New("unexpected response")
	ErrInvalidRate = errors.New("rate must be positive")
)
