// hold-worker expires lapsed waitlist offers and entries, passing openings
// to the next candidate, and closes out stale cancellation records.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/scheduling-core/internal/app"
	"github.com/hackgods/scheduling-core/internal/config"
	"github.com/hackgods/scheduling-core/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "prod").Fatal().Err(err).Msg("config load error")
	}
	logger := logging.Component(logging.New(cfg.LogLevel, cfg.Env), "hold-worker")
	logger.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("hold worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close()
	a.Start(rootCtx)

	// Run once at startup
	runOnce(rootCtx, a, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping hold worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, a, logger)
		}
	}
}

func runOnce(ctx context.Context, a *app.App, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	report, err := a.Waitlist.Sweep(runCtx)
	if err != nil {
		logger.Error().Err(err).Msg("waitlist sweep error")
	}
	closed, err := a.Appointments.CloseStaleCancellations(runCtx)
	if err != nil {
		logger.Error().Err(err).Msg("close stale cancellations error")
	}

	logger.Info().
		Int("expired_offers", report.ExpiredOffers).
		Int("expired_entries", report.ExpiredEntries).
		Int("unrecovered_cancellations", closed).
		Dur("took", time.Since(start)).
		Msg("hold sweep complete")
}
