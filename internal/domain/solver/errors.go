package solver

import "errors"

// Sentinel errors for solver construction.
var (
	ErrUnknownSolver = errors.New("unknown solver type")
	ErrInvalidSetup  = errors.New("invalid solver setup")
)
