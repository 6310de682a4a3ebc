// Package common provides the logging infrastructure shared by the HTTP
// server and the worker pool: a logrus logger with level/format selection
// and stream-separated output (errors to stderr, everything else to
// stdout), so container log collectors can apply different handling to
// each stream without parsing message content.
package common

import (
	"bytes"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes already-formatted logrus output to stderr for
// error-and-above entries and stdout for everything else.
type OutputSplitter struct{}

func (s *OutputSplitter) Write(p []byte) (int, error) {
	for _, marker := range [][]byte{
		[]byte("level=error"), []byte("level=fatal"), []byte("level=panic"),
		[]byte(`"level":"error"`), []byte(`"level":"fatal"`), []byte(`"level":"panic"`),
	} {
		if bytes.Contains(p, marker) {
			return os.Stderr.Write(p)
		}
	}
	return os.Stdout.Write(p)
}

// LogLevel is one of the recognized logrus levels accepted from
// configuration (the `log_level` option of SPEC_FULL.md's WorkflowConfig).
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LoggerConfig configures a logger built by NewLogger.
type LoggerConfig struct {
	Level   LogLevel // minimum level emitted
	Format  string   // "json" or "text"
	Service string   // attached as a constant "service" field
}

// DefaultLoggerConfig returns text-formatted, info-level defaults.
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{Level: LogLevelInfo, Format: "text"}
}

// NewLogger builds a logrus logger per cfg, with stream-separated output.
// The composition root constructs one instance and passes *logrus.Entry
// values derived from it into each collaborator's Deps, rather than
// reaching for a package-level global.
func NewLogger(cfg LoggerConfig) *logrus.Logger {
	logger := logrus.New()

	switch cfg.Level {
	case LogLevelDebug:
		logger.SetLevel(logrus.DebugLevel)
	case LogLevelWarn:
		logger.SetLevel(logrus.WarnLevel)
	case LogLevelError:
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339, FullTimestamp: true})
	}

	logger.SetOutput(&OutputSplitter{})
	return logger
}

// ServiceEntry returns a *logrus.Entry tagged with cfg.Service, the form
// every collaborator's Deps.Logger field expects.
func ServiceEntry(logger *logrus.Logger, cfg LoggerConfig) *logrus.Entry {
	entry := logrus.NewEntry(logger)
	if cfg.Service != "" {
		entry = entry.WithField("service", cfg.Service)
	}
	return entry
}
