// Package logging builds client loggers and bridges pion internals into them.
package logging

import (
	"io"
	"time"

	"github.com/pion/logging"
	"github.com/rs/zerolog"
)

// New returns a timestamped logger writing to w at the given level.
func New(w io.Writer, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}).
		Level(lvl).
		With().Timestamp().Logger(), nil
}

// LoggerFactory implements pion's logging.LoggerFactory on top of zerolog.
// pion is chatty, scopes are logged one level below what they ask for,
// except warnings and errors.
type LoggerFactory struct {
	logger zerolog.Logger
}

func NewLoggerFactory(logger *zerolog.Logger) *LoggerFactory {
	return &LoggerFactory{
		logger: logger.With().Str("component", "pion").Logger(),
	}
}

func (f *LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &leveledLogger{
		logger: f.logger.With().Str("scope", scope).Logger(),
	}
}

type leveledLogger struct {
	logger zerolog.Logger
}

func (l *leveledLogger) Trace(msg string) { l.logger.Trace().Msg(msg) }
func (l *leveledLogger) Tracef(format string, args ...interface{}) {
	l.logger.Trace().Msgf(format, args...)
}

func (l *leveledLogger) Debug(msg string) { l.logger.Trace().Msg(msg) }
func (l *leveledLogger) Debugf(format string, args ...interface{}) {
	l.logger.Trace().Msgf(format, args...)
}

func (l *leveledLogger) Info(msg string) { l.logger.Debug().Msg(msg) }
func (l *leveledLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

func (l *leveledLogger) Warn(msg string) { l.logger.Warn().Msg(msg) }
func (l *leveledLogger) Warnf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

func (l *leveledLogger) Error(msg string) { l.logger.Error().Msg(msg) }
func (l *leveledLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}
