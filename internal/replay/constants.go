package replay

import "time"

// Defaults used by the replay tool.
const (
	DefaultBaseURL  = "http://localhost:9080"
	DefaultPeriod   = 4 * time.Second
	DefaultDuration = 20 * time.Second
	DefaultRate     = 40
	DefaultTimeout  = 5 * time.Second
)

// RunHeader carries the run id on every request.
const RunHeader = "X-Replay-Run"

// orbitShare is the default orbit radius as a share of the anchor spread.
const orbitShare = 0.5
