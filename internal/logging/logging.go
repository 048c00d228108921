// Package logging configures logrus and bridges it to pion's leveled
// logger interface so the WebRTC stack and the TURN relay log through the
// same formatter as the rest of the service.
package logging

import (
	"fmt"
	"strings"

	"github.com/pion/logging"
	log "github.com/sirupsen/logrus"
)

// Setup applies level and format ("text" or "json") to the standard logrus
// logger and returns it.
func Setup(level, format string) (*log.Logger, error) {
	logger := log.StandardLogger()

	lvl, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "", "text":
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&log.JSONFormatter{})
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	return logger, nil
}

// LoggerFactory hands out pion loggers that write to a logrus logger, one
// "scope" field per pion subsystem (ice, dtls, turn, ...).
type LoggerFactory struct {
	base *log.Logger
}

var _ logging.LoggerFactory = (*LoggerFactory)(nil)

func NewLoggerFactory(base *log.Logger) *LoggerFactory {
	if base == nil {
		base = log.StandardLogger()
	}
	return &LoggerFactory{base: base}
}

func (f *LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &leveledLogger{entry: f.base.WithFields(log.Fields{"src": "pion", "scope": scope})}
}

type leveledLogger struct {
	entry *log.Entry
}

func (l *leveledLogger) Trace(msg string)                          { l.entry.Trace(msg) }
func (l *leveledLogger) Tracef(format string, args ...interface{}) { l.entry.Tracef(format, args...) }
func (l *leveledLogger) Debug(msg string)                          { l.entry.Debug(msg) }
func (l *leveledLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *leveledLogger) Info(msg string)                           { l.entry.Info(msg) }
func (l *leveledLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *leveledLogger) Warn(msg string)                           { l.entry.Warn(msg) }
func (l *leveledLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *leveledLogger) Error(msg string)                          { l.entry.Error(msg) }
func (l *leveledLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
