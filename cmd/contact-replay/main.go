package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/okian/patpat/internal/replay"
	"github.com/okian/patpat/pkg/logger"
)

func main() {
	var (
		baseURL  = flag.String("url", replay.DefaultBaseURL, "Base URL of the service")
		group    = flag.String("group", "", "Group key to replay")
		period   = flag.Duration("period", replay.DefaultPeriod, "Time for one orbit of the hand")
		duration = flag.Duration("duration", replay.DefaultDuration, "Total run time")
		rate     = flag.Int("rate", replay.DefaultRate, "Batches per second")
		orbit    = flag.Float64("orbit", 0, "Orbit radius, 0 derives it from the anchors")
		timeout  = flag.Duration("timeout", replay.DefaultTimeout, "HTTP request timeout")
		verbose  = flag.Bool("verbose", false, "Log every batch")
		help     = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help || *group == "" {
		replay.ShowHelp()
		return
	}

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *verbose {
		_ = logger.SetLevelString("debug")
	}

	config := &replay.Config{
		BaseURL:  *baseURL,
		Group:    *group,
		Period:   *period,
		Duration: *duration,
		Rate:     *rate,
		Orbit:    *orbit,
		Timeout:  *timeout,
		Verbose:  *verbose,
	}

	if err := run(config); err != nil {
		os.Stderr.WriteString("Replay failed: " + err.Error() + "\n")
		os.Exit(1)
	}
}

func run(config *replay.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats, err := replay.Run(ctx, config)
	if err != nil {
		return err
	}
	stats.Print(os.Stdout)
	return nil
}
