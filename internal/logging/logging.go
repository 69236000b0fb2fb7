// Package logging builds the logrus logger shared by every ridelog
// component.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is the logger handed to components.
type Logger = logrus.FieldLogger

// Fields is a set of structured log fields.
type Fields = logrus.Fields

// New returns a logger writing to stderr at the given level. format is
// "json" or "text"; anything else falls back to text. An unknown level
// falls back to info.
func New(level, format string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if strings.EqualFold(format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

// Component tags a logger with the component name. Every core failure
// is logged through one of these so the origin is always present.
func Component(l Logger, name string) Logger {
	if l == nil {
		l = Discard()
	}
	return l.WithField("component", name)
}

// Discard returns a logger that drops everything. Used as the default
// when a component is built without one.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
