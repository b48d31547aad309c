package replay

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/okian/patpat/pkg/logger"
)

// Run replays a hand moving over the anchors of cfg.Group until cfg.Duration
// has passed or ctx is done. Batches are posted sequentially at cfg.Rate.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	if cfg.Rate <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRate, cfg.Rate)
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	log := logger.Get().Named("replay")

	log.Info(ctx, "starting contact replay",
		logger.String("runID", cfg.RunID),
		logger.String("baseURL", cfg.BaseURL),
		logger.String("group", cfg.Group),
		logger.Duration("period", cfg.Period),
		logger.Duration("duration", cfg.Duration),
		logger.Int("rate", cfg.Rate))

	client := NewClient(cfg.BaseURL, cfg.RunID, cfg.Timeout)
	anchors, err := client.Anchors(ctx, cfg.Group)
	if err != nil {
		return nil, fmt.Errorf("anchor lookup failed: %w", err)
	}
	path := NewPath(anchors, cfg.Orbit, cfg.Period)

	stats := &Stats{RunID: cfg.RunID, StartTime: time.Now()}
	// The deadline only stops new batches; posts run on ctx.
	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	ticker := time.NewTicker(time.Second / time.Duration(cfg.Rate))
	defer ticker.Stop()

loop:
	for {
		select {
		case <-runCtx.Done():
			break loop
		case now := <-ticker.C:
			batch := Contacts(anchors, path.Position(now.Sub(stats.StartTime)))
			result := client.Post(ctx, batch)
			if ctx.Err() != nil {
				break loop
			}
			stats.record(batch, result)
			if cfg.Verbose {
				log.Debug(ctx, "batch posted",
					logger.Int("batch", stats.Batches), logger.Int("result", int(result)))
			}
		}
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	log.Info(ctx, "contact replay finished",
		logger.Int("batches", stats.Batches),
		logger.Int("accepted", stats.Accepted),
		logger.Int("failed", stats.Failed))
	return stats, nil
}

func (s *Stats) record(batch []Contact, result Result) {
	s.Batches++
	s.Readings += len(batch)
	switch result {
	case ResultAccepted:
		s.Accepted++
	case ResultThrottled:
		s.Throttled++
	default:
		s.Failed++
	}
	for _, c := range batch {
		if c.Value > 0 {
			s.Touches++
		}
	}
}

// Print writes a human readable summary to w.
func (s *Stats) Print(w io.Writer) {
	rate := 0.0
	if s.Duration > 0 {
		rate = float64(s.Batches) / s.Duration.Seconds()
	}
	fmt.Fprintf(w, `Contact replay %s
   Duration:  %s
   Batches:   %d (%.1f/s)
   Readings:  %d (%d in range)
   Accepted:  %d
   Throttled: %d
   Failed:    %d
`, s.RunID, s.Duration.Round(time.Millisecond), s.Batches, rate,
		s.Readings, s.Touches, s.Accepted, s.Throttled, s.Failed)
}
