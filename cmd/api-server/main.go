package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hackgods/scheduling-core/internal/api"
	"github.com/hackgods/scheduling-core/internal/app"
	"github.com/hackgods/scheduling-core/internal/config"
	redisclient "github.com/hackgods/scheduling-core/internal/redis"
	"github.com/hackgods/scheduling-core/pkg/logging"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "prod").Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(cfg.LogLevel, cfg.Env)
	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("storage", cfg.StorageDriver).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	a.Start(rootCtx)

	health := api.NewHealthHandler(cfg.Env, version)
	if a.Pool != nil {
		health.AddCheck("postgres", true, a.Pool.Ping)
	}
	if a.Redis != nil {
		health.AddCheck("redis", false, redisclient.Pinger{Client: a.Redis}.Ping)
	}

	router := api.NewRouter(api.RouterConfig{
		Appointments: a.Appointments,
		Series:       a.Series,
		Waitlist:     a.Waitlist,
		Risk:         a.Risk,
		Health:       health,
		Metrics:      promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}),
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	exitCode := 0
	select {
	case <-rootCtx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
			exitCode = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}
	a.Close()

	logger.Info().Msg("api-server stopped")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
