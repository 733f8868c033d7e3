// Package logger builds the process logger.
package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New creates a logrus logger with the given level and format ("json" or "text").
func New(level, format string) *logrus.Logger {
	log := logrus.New()

	switch level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	switch format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	log.SetOutput(os.Stdout)
	return log
}

// Discard returns a logger that writes nothing. Used by tests.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
