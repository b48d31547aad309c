package replay

import "os"

// ShowHelp prints usage information for the contact replay tool.
func ShowHelp() {
	os.Stdout.WriteString(`PatPat Contact Replay
=====================

Simulates a hand moving over the avatar points of one contact group and posts
the resulting proximity readings to a running service.

Usage:
  go run ./cmd/contact-replay [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -group string
        Group key to replay (required)
  -period duration
        Time for one orbit of the hand (default 4s)
  -duration duration
        Total run time (default 20s)
  -rate int
        Batches per second (default 40)
  -orbit float
        Orbit radius, 0 derives it from the anchors (default 0)
  -timeout duration
        HTTP request timeout (default 5s)
  -verbose
        Log every batch
  -help
        Show this help message

Examples:
  go run ./cmd/contact-replay -group hand
  go run ./cmd/contact-replay -group hand -period 2s -rate 60 -duration 1m
`)
}
