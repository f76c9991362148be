// Package logging wraps a package-level logrus entry, the same thin
// singleton shape the teacher exposes so every package logs through one
// configured sink instead of constructing its own logger.
package logging

import "github.com/sirupsen/logrus"

var logger *logrus.Entry

// Fields re-exports logrus.Fields so callers never need to import logrus
// directly just to build a structured log line.
type Fields = logrus.Fields

func init() {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
}

// SetLevel adjusts the verbosity of every future log call.
func SetLevel(l logrus.Level) {
	logger.Logger.SetLevel(l)
}

// SetFormatter swaps the underlying formatter.
func SetFormatter(f logrus.Formatter) {
	logger.Logger.SetFormatter(f)
}

func WithError(e error) *logrus.Entry {
	return logger.WithError(e)
}

func WithField(key string, value interface{}) *logrus.Entry {
	return logger.WithField(key, value)
}

func WithFields(f Fields) *logrus.Entry {
	return logger.WithFields(f)
}

func Entry() *logrus.Entry {
	return logger
}

func Error(args ...interface{}) {
	logger.Error(args...)
}

func Errorf(format string, args ...interface{}) {
	logger.Errorf(format, args...)
}

func Info(args ...interface{}) {
	logger.Info(args...)
}

func Infof(format string, args ...interface{}) {
	logger.Infof(format, args...)
}

func Debugf(format string, args ...interface{}) {
	logger.Debugf(format, args...)
}
