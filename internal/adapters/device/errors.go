package device

import "errors"

// Sentinel kinds for device errors.
var (
	ErrUnknownConnection = errors.New("unknown connection type")
	ErrNoPublisher       = errors.New("mqtt device without broker connection")
	ErrChannelRange      = errors.New("channel out of range")
	ErrAlreadyStarted    = errors.New("device manager already started")
)
