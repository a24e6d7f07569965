// SPDX-License-Identifier: AGPL-3.0-or-later

/*

Edgeforge - Edgeforge is a Go-based deployment orchestration core that
materializes worker artifacts and their backing resources onto a
serverless edge platform across one or more domains.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package obslog provides structured logging for the orchestration core.
// The facade (Logger interface, Field key-value pairs, WithFields for
// scoped child loggers) is backed by github.com/rs/zerolog rather than ad
// hoc fmt.Fprintf formatting, since phase transitions, audit records and
// per-domain status updates are emitted at a volume where zerolog's
// zero-allocation field encoding earns its keep.
package obslog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Field represents a key-value pair attached to a log entry.
type Field struct {
	Key   string
	Value any
}

// NewField creates a new field.
func NewField(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Logger provides structured logging over a fixed set of severities.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	WithFields(fields ...Field) Logger
}

type zlogger struct {
	log zerolog.Logger
}

// New creates a Logger writing to stderr. If verbose is true, Debug-level
// entries are emitted; otherwise the minimum level is Info.
func New(verbose bool) Logger {
	return NewWithWriter(os.Stderr, verbose)
}

// NewWithWriter creates a Logger writing to w, for tests and alternate sinks.
func NewWithWriter(w io.Writer, verbose bool) Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	base := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &zlogger{log: base}
}

func (l *zlogger) event(level zerolog.Level, msg string, fields []Field) {
	var e *zerolog.Event
	switch level {
	case zerolog.DebugLevel:
		e = l.log.Debug()
	case zerolog.WarnLevel:
		e = l.log.Warn()
	case zerolog.ErrorLevel:
		e = l.log.Error()
	default:
		e = l.log.Info()
	}
	for _, f := range fields {
		e = e.Interface(f.Key, f.Value)
	}
	e.Msg(msg)
}

func (l *zlogger) Debug(msg string, fields ...Field) { l.event(zerolog.DebugLevel, msg, fields) }
func (l *zlogger) Info(msg string, fields ...Field)  { l.event(zerolog.InfoLevel, msg, fields) }
func (l *zlogger) Warn(msg string, fields ...Field)  { l.event(zerolog.WarnLevel, msg, fields) }
func (l *zlogger) Error(msg string, fields ...Field) { l.event(zerolog.ErrorLevel, msg, fields) }

func (l *zlogger) WithFields(fields ...Field) Logger {
	ctx := l.log.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, f.Value)
	}
	return &zlogger{log: ctx.Logger()}
}
