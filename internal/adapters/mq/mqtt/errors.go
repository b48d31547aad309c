package mqtt

import "errors"

// Sentinel kinds for bridge errors.
var (
	ErrNoBroker       = errors.New("mqtt broker not configured")
	ErrInvalidPayload = errors.New("invalid mqtt payload")
)
