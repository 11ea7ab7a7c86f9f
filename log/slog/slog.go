// Package slog adapts log/slog to redisflow.Logger.
package slog

import (
	"context"
	stdslog "log/slog"

	rf "github.com/unkn0wn-root/redisflow"
)

var _ rf.Logger = Logger{}

type Logger struct{ L *stdslog.Logger }

func (s Logger) Debug(msg string, f rf.Fields) { s.log(stdslog.LevelDebug, msg, f) }
func (s Logger) Info(msg string, f rf.Fields)  { s.log(stdslog.LevelInfo, msg, f) }
func (s Logger) Warn(msg string, f rf.Fields)  { s.log(stdslog.LevelWarn, msg, f) }
func (s Logger) Error(msg string, f rf.Fields) { s.log(stdslog.LevelError, msg, f) }

func (s Logger) log(level stdslog.Level, msg string, f rf.Fields) {
	ctx := context.Background()
	if !s.L.Enabled(ctx, level) {
		return
	}
	attrs := make([]stdslog.Attr, 0, len(f))
	for k, v := range f {
		attrs = append(attrs, stdslog.Any(k, v))
	}
	s.L.LogAttrs(ctx, level, msg, attrs...)
}
