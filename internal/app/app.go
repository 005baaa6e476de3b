package app

import (
	"sync/atomic"
	"time"

	"ai-voice-turn-client/internal/config"
	"ai-voice-turn-client/internal/observability/logging"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const serviceName = "ai-voice-turn-client"

// Application holds process-wide state for the client daemon.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	ready atomic.Bool
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Configuration) *Application {
	a := &Application{
		Cfg: cfg,
	}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	appLogger.Info().Msg("AI voice turn client application created")
	return a
}

// setupLogger configures the global zerolog logger and the application logger.
func (a *Application) setupLogger() {
	logCfg := logging.DefaultConfig()
	if a.Cfg.Observability.LogLevel != "" {
		logCfg.Level = a.Cfg.Observability.LogLevel
	}
	if a.Cfg.Observability.LogFormat != "" {
		logCfg.Format = a.Cfg.Observability.LogFormat
	}
	if a.Cfg.Service.Environment == "dev" {
		logCfg.Format = "console"
	}
	logging.Init(logCfg)

	a.Logger = log.With().
		Str("service", serviceName).
		Str("component", "application").
		Logger()

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("logFormat", logCfg.Format).
		Str("environment", a.Cfg.Service.Environment).
		Msg("Logger setup completed")
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start() error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Str("userId", a.Cfg.Service.UserID).
		Msg("AI voice turn client starting")

	return nil
}

// SetReady marks whether the voice session is accepting commands.
func (a *Application) SetReady(ready bool) {
	a.ready.Store(ready)
}

// Ready reports whether the voice session is accepting commands.
func (a *Application) Ready() bool {
	return a.ready.Load()
}

// Uptime returns the time since Start.
func (a *Application) Uptime() time.Duration {
	if a.StartupTime.IsZero() {
		return 0
	}
	return time.Since(a.StartupTime)
}

// Shutdown performs a best-effort cleanup before process exit.
func (a *Application) Shutdown() {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	a.SetReady(false)
	shutdownLogger.Info().
		Dur("uptime", a.Uptime()).
		Msg("AI voice turn client shutting down")
}
