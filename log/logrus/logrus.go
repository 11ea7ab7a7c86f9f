// Package logrus adapts logrus to redisflow.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	rf "github.com/unkn0wn-root/redisflow"
)

var _ rf.Logger = Logger{}

type Logger struct{ E *logrus.Entry }

// New wraps l; component is attached as the "component" field when set.
func New(l *logrus.Logger, component string) Logger {
	e := logrus.NewEntry(l)
	if component != "" {
		e = e.WithField("component", component)
	}
	return Logger{E: e}
}

func (l Logger) Debug(msg string, f rf.Fields) { l.E.WithFields(logrus.Fields(f)).Debug(msg) }
func (l Logger) Info(msg string, f rf.Fields)  { l.E.WithFields(logrus.Fields(f)).Info(msg) }
func (l Logger) Warn(msg string, f rf.Fields)  { l.E.WithFields(logrus.Fields(f)).Warn(msg) }
func (l Logger) Error(msg string, f rf.Fields) { l.E.WithFields(logrus.Fields(f)).Error(msg) }
