package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger defines the roasteries logging contract.
// Implementations should support standard log levels and be safe for concurrent use.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// ZeroLogger adapts a zerolog.Logger to the Logger contract.
type ZeroLogger struct {
	logger zerolog.Logger
}

// New creates a ZeroLogger writing JSON lines to w at the given level.
func New(w io.Writer, level zerolog.Level) *ZeroLogger {
	return &ZeroLogger{
		logger: zerolog.New(zerolog.SyncWriter(w)).Level(level).With().Timestamp().Logger(),
	}
}

// NewConsole creates a ZeroLogger with human readable output, used by the CLI.
func NewConsole(w io.Writer, level zerolog.Level) *ZeroLogger {
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	return &ZeroLogger{
		logger: zerolog.New(cw).Level(level).With().Timestamp().Logger(),
	}
}

// ParseLevel maps a level name ("debug", "info", ...) to a zerolog level.
func ParseLevel(name string) (zerolog.Level, error) {
	if name == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return level, nil
}

func (l *ZeroLogger) Info(msg string, args ...any) {
	l.logger.Info().Msgf(msg, args...)
}

func (l *ZeroLogger) Warn(msg string, args ...any) {
	l.logger.Warn().Msgf(msg, args...)
}

func (l *ZeroLogger) Error(msg string, args ...any) {
	l.logger.Error().Msgf(msg, args...)
}

func (l *ZeroLogger) Debug(msg string, args ...any) {
	l.logger.Debug().Msgf(msg, args...)
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return &ZeroLogger{logger: zerolog.Nop()}
}

// Default provides a global default logger writing to stderr.
var Default Logger = NewConsole(os.Stderr, zerolog.InfoLevel)
