package replay

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// Config holds configuration for a replay run.
type Config struct {
	BaseURL  string        // Base URL of the service
	Group    string        // Group key whose avatar points are replayed
	Period   time.Duration // Time for one orbit of the simulated hand
	Duration time.Duration // Total run time
	Rate     int           // Batches posted per second
	Orbit    float64       // Orbit radius, 0 uses half the anchor spread
	Timeout  time.Duration // HTTP request timeout
	RunID    string        // Sent as X-Replay-Run, generated when empty
	Verbose  bool          // Log every batch
}

// Anchor is one avatar point of the replayed group.
type Anchor struct {
	Name       string
	ReceiverID string
	Position   r3.Vec
	Radius     float64
}

// Contact is one reading as posted to /contacts.
type Contact struct {
	ReceiverID string  `json:"receiver_id"`
	Value      float64 `json:"value"`
}

// Stats holds run statistics.
type Stats struct {
	RunID     string
	Batches   int
	Readings  int
	Accepted  int
	Throttled int
	Failed    int
	Touches   int
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}
