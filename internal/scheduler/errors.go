package scheduler

import "errors"

// Sentinel errors for the scheduler lifecycle.
var (
	ErrAlreadyStarted = errors.New("scheduler already started")
	ErrNotStarted     = errors.New("scheduler not started")
)
