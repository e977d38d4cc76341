package log

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// BadgerLogrusAdapter implements the badger.Logger interface on a logrus entry.
// Badger's informational chatter (compactions, value log replay) is logged at debug level.
type BadgerLogrusAdapter struct {
	entry *logrus.Entry
}

// NewBadgerLogrusAdapter creates a new adapter
func NewBadgerLogrusAdapter(entry *logrus.Entry) *BadgerLogrusAdapter {
	return &BadgerLogrusAdapter{entry: entry}
}

// Errorf logs an error message
func (l *BadgerLogrusAdapter) Errorf(f string, v ...any) { l.log(logrus.ErrorLevel, f, v...) }

// Warningf logs a warning message
func (l *BadgerLogrusAdapter) Warningf(f string, v ...any) { l.log(logrus.WarnLevel, f, v...) }

// Infof logs at debug level
func (l *BadgerLogrusAdapter) Infof(f string, v ...any) { l.log(logrus.DebugLevel, f, v...) }

// Debugf logs at trace level
func (l *BadgerLogrusAdapter) Debugf(f string, v ...any) { l.log(logrus.TraceLevel, f, v...) }

// log drops badger's trailing newline so lines are not doubled
func (l *BadgerLogrusAdapter) log(level logrus.Level, f string, v ...any) {
	l.entry.Logf(level, strings.TrimRight(f, "\n"), v...)
}
