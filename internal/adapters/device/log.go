package device

import (
	"context"

	"github.com/okian/patpat/pkg/logger"
)

// LogTransport logs pin frames instead of sending them.
type LogTransport struct {
	log logger.Logger
}

// NewLogTransport creates a transport writing frames to l at debug level.
func NewLogTransport(l logger.Logger) *LogTransport {
	return &LogTransport{log: l}
}

// Send logs pins.
func (t *LogTransport) Send(ctx context.Context, pins []int) error {
	t.log.Debug(ctx, "pin frame", logger.Any("pins", pins))
	return nil
}

// Close does nothing.
func (t *LogTransport) Close() error { return nil }
