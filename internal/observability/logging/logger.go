// Package logging provides structured logging with zerolog.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	TimeFormat string // RFC3339, Unix, etc.
	Output     io.Writer
}

// DefaultConfig returns sensible default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		TimeFormat: time.RFC3339,
	}
}

// Init initializes the global zerolog logger.
func Init(cfg Config) {
	// Set time format
	zerolog.TimeFieldFormat = cfg.TimeFormat

	// Parse log level
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure output format
	var output io.Writer = os.Stdout
	if cfg.Output != nil {
		output = cfg.Output
	}
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.Kitchen,
		}
	}

	// Set global logger
	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Str("service", "lecture-capture-service").
		Logger()
}

// WithSession returns a logger with recording session context.
func WithSession(sessionID, deviceID string) zerolog.Logger {
	return log.With().
		Str("sessionId", sessionID).
		Str("deviceId", deviceID).
		Logger()
}

// WithLecture returns a logger with lecture context.
func WithLecture(userID, lectureID string) zerolog.Logger {
	return log.With().
		Str("userId", userID).
		Str("lectureId", lectureID).
		Logger()
}

// WithStage returns a logger with pipeline stage context.
func WithStage(userID, tempID, stage string) zerolog.Logger {
	return log.With().
		Str("userId", userID).
		Str("tempId", tempID).
		Str("stage", stage).
		Logger()
}

// WithComponent returns a logger with a component tag.
func WithComponent(component string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Logger()
}
