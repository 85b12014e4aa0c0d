// Package host runs the Dispatcher on a fixed-interval loop, the way the
// teacher's cmd/server/main.go runs its own background workers: a
// time.Ticker driving ticks and signal.NotifyContext handling graceful
// shutdown on SIGINT/SIGTERM.
package host

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sendloop/campaign-dispatcher/internal/dispatcher"
)

// RunLoop invokes d.RunOnce every tickSeconds until ctx is canceled. Each
// tick's error is logged, never fatal, so a single bad tick does not kill
// the process.
func RunLoop(ctx context.Context, d *dispatcher.Dispatcher, tickSeconds, batchSize int) {
	if tickSeconds <= 0 {
		tickSeconds = 15
	}
	ticker := time.NewTicker(time.Duration(tickSeconds) * time.Second)
	defer ticker.Stop()

	log.Info().Int("tick_seconds", tickSeconds).Int("batch_size", batchSize).Msg("dispatcher loop starting")

	for {
		if err := d.RunOnce(ctx, batchSize); err != nil {
			log.Error().Err(err).Msg("dispatcher tick failed")
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("dispatcher loop shutting down")
			return
		case <-ticker.C:
		}
	}
}
