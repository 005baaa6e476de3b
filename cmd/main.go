package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	grpcapi "ai-voice-turn-client/internal/api/grpc"
	"ai-voice-turn-client/internal/app"
	"ai-voice-turn-client/internal/config"
	controlhttp "ai-voice-turn-client/internal/http"
	"ai-voice-turn-client/internal/observability"
	"ai-voice-turn-client/internal/observability/metrics"
)

func main() {
	cfg := config.Load()

	application := app.New(cfg)
	if err := cfg.Validate(); err != nil {
		application.Logger.Fatal().Err(err).Msg("Invalid configuration")
	}
	if err := application.Start(); err != nil {
		application.Logger.Fatal().Err(err).Msg("Failed to start application")
	}

	rt, err := application.BuildRuntime(nil)
	if err != nil {
		application.Logger.Fatal().Err(err).Msg("Failed to wire voice session")
	}
	defer rt.Close()

	// Observability endpoints
	obs := observability.NewServer(cfg.Observability.MetricsAddr, application.Ready)
	obs.Start()

	// gRPC health check service
	health := grpcapi.NewServer(cfg.Observability.GRPCPort, rt.Session.SessionKey(), metrics.DefaultMetrics)
	if err := health.Start(); err != nil {
		application.Logger.Fatal().Err(err).Msg("Failed to start gRPC health server")
	}

	// Control API
	control := &http.Server{
		Addr:              cfg.Observability.ControlAddr,
		Handler:           controlhttp.NewRouter(application, rt.Session),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", control.Addr).Msg("Starting control HTTP server")
		if err := control.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Control HTTP server error")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() { runErr <- rt.Session.Run(ctx) }()

	application.SetReady(true)
	health.SetServing(true)
	application.Logger.Info().
		Str("sessionKey", rt.Session.SessionKey()).
		Str("controlAddr", cfg.Observability.ControlAddr).
		Msg("Voice session running")

	select {
	case <-ctx.Done():
		application.Logger.Info().Msg("Shutdown signal received")
		application.SetReady(false)
		health.SetServing(false)
		<-runErr
	case err := <-runErr:
		if err != nil {
			application.Logger.Error().Err(err).Msg("Voice session stopped")
		}
		application.SetReady(false)
		health.SetServing(false)
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := control.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Control HTTP server shutdown")
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Observability HTTP server shutdown")
	}
	health.Stop()

	if out := cfg.Playback.OutputFile; out != "" {
		if err := rt.Speaker.WriteWAV(out); err != nil {
			log.Error().Err(err).Str("path", out).Msg("Failed to write playback output")
		} else {
			log.Info().Str("path", out).Float64("playedSeconds", rt.Speaker.Played()).Msg("Playback output written")
		}
	}

	application.Shutdown()
}
