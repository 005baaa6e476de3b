// Package logging configures zerolog for the voice client and builds the
// session, turn and stream scoped loggers its components log through.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Field names shared by every scoped logger.
const (
	FieldSessionKey = "sessionKey"
	FieldUserID     = "userId"
	FieldTurnID     = "turnId"
	FieldChannel    = "channel"
	FieldComponent  = "component"
)

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	TimeFormat string
	Output     io.Writer // defaults to stdout
}

// DefaultConfig returns the logging defaults.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		TimeFormat: time.RFC3339Nano,
	}
}

// Init configures the global zerolog logger. An unknown level falls back to info.
func Init(cfg Config) {
	zerolog.TimeFieldFormat = cfg.TimeFormat

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	ctx := zerolog.New(out).With().Timestamp()
	if cfg.Format == "console" {
		// millisecond stamps make turn latency readable in a terminal
		ctx = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}).With().Timestamp().Caller()
	}
	log.Logger = ctx.Logger()

	if err != nil && cfg.Level != "" {
		log.Warn().Str("level", cfg.Level).Msg("Unknown log level, using info")
	}
}

// WithSession returns a logger scoped to one conversation session.
func WithSession(sessionKey, userID, component string) zerolog.Logger {
	return log.With().
		Str(FieldComponent, component).
		Str(FieldSessionKey, sessionKey).
		Str(FieldUserID, userID).
		Logger()
}

// ForTurn narrows a session logger to one committed turn.
func ForTurn(session zerolog.Logger, turnID string) zerolog.Logger {
	return session.With().Str(FieldTurnID, turnID).Logger()
}

// WithChannel returns a logger for one of the session's streams.
func WithChannel(sessionKey, channel string) zerolog.Logger {
	return log.With().
		Str(FieldSessionKey, sessionKey).
		Str(FieldChannel, channel).
		Logger()
}
