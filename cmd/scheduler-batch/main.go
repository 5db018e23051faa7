// scheduler-batch runs the scheduled jobs of the scheduling core. Exit codes:
// 0 every item succeeded, 1 some items failed, 2 the pass could not run.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/scheduling-core/internal/app"
	"github.com/hackgods/scheduling-core/internal/batch"
	"github.com/hackgods/scheduling-core/internal/config"
	"github.com/hackgods/scheduling-core/internal/db"
	"github.com/hackgods/scheduling-core/pkg/logging"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "scheduler-batch",
		Short:         "Scheduled jobs for the scheduling core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(jobCmd("recurrence", "Generate upcoming occurrences for every active series",
		func(ctx context.Context, a *app.App) *batch.Result { return a.Series.RunBatch(ctx) }))
	rootCmd.AddCommand(jobCmd("risk-decay", "Recompute every patient's no-show risk score",
		func(ctx context.Context, a *app.App) *batch.Result { return a.Risk.RunDecay(ctx) }))
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(batch.ExitFatal)
	}
}

func setup() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, zerolog.Nop(), fmt.Errorf("config load: %w", err)
	}
	return cfg, logging.New(cfg.LogLevel, cfg.Env), nil
}

func jobCmd(name, short string, run func(context.Context, *app.App) *batch.Result) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			logger = logging.Component(logger, name)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			a.Start(ctx)

			res := run(ctx, a)
			a.Close()

			processed, failed := res.Counts()
			ev := logger.Info()
			if err := res.Err(); err != nil {
				ev = logger.Error().Err(err)
			}
			ev.Int("processed", processed).Int("failed", failed).Int("exit_code", res.ExitCode()).Msg("batch finished")

			os.Exit(res.ExitCode())
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if cfg.StorageDriver != config.StoragePostgres {
				return fmt.Errorf("migrate needs STORAGE_DRIVER=%s", config.StoragePostgres)
			}
			version, err := db.Migrate(cfg.PostgresDSN)
			if err != nil {
				return err
			}
			logger.Info().Uint("version", version).Msg("migrations applied")
			return nil
		},
	}
}
