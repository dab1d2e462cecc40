// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package log provides helper function over the standard log/slog
// structured logging package. By default, slog package-level functions
// such as slog.Info accept a message and a series of interleaved key
// and value arguments as a series of "any" arguments. A more efficient
// API is also provided which takes slog.Attr arguments which are typed
// statically and avoid memory allocation for simple data types.
// This log package exports Debug, Info, Warn, Error, and Critical
// functions which accept a context, message, and a series of slog.Attr
// arguments facilitating usage of the slog.LogAttrs function.
//
// The logger itself is not a package-level variable. It is created
// once by the caller (usually the root command) and attached to a
// context using WithLogger, so all components which receive that
// context will log through the same handle. Contexts without a logger
// fall back to slog.Default().
package log

import (
	"context"
	"log/slog"
	"runtime"
	"time"
)

// LevelCritical is used for conditions which abort a whole migration
// run. It is reported as "ERROR+4" by the standard slog handlers.
const LevelCritical = slog.LevelError + 4

type loggerKey struct{}

// WithLogger returns a child of ctx which carries the l logger, so the
// logging functions of this package may use it.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// With returns a child of ctx which carries the logger of ctx extended
// by the given attrs. It is useful for adding attributes such as the
// run identifier to all subsequent log records.
func With(ctx context.Context, attrs ...slog.Attr) context.Context {
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return WithLogger(ctx, From(ctx).With(args...))
}

// From returns the logger which is carried by ctx, or slog.Default()
// if ctx carries no logger.
func From(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// Debug logs msg and attrs with the given context at the debug level.
func Debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAttrs(ctx, slog.LevelDebug, msg, attrs...)
}

// Info logs msg and attrs with the given context at the info level.
func Info(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAttrs(ctx, slog.LevelInfo, msg, attrs...)
}

// Warn logs msg and attrs with the given context at the warning level.
func Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAttrs(ctx, slog.LevelWarn, msg, attrs...)
}

// Error logs msg and attrs with the given context at the error level.
func Error(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAttrs(ctx, slog.LevelError, msg, attrs...)
}

// Critical logs msg and attrs with the given context at the critical
// level. It does not terminate the process; callers are expected to
// return the relevant error so the command can exit with non-zero code.
func Critical(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAttrs(ctx, LevelCritical, msg, attrs...)
}

// logAttrs logs the msg and given attrs using the level log-level.
// It ignores the direct caller of logAttrs function when looking for
// its caller file name and line number, hence, it must be either
// exported and only called by client codes or non-exported and caller
// from this package itself. And since it is called from this package,
// it has to be non-exported.
func logAttrs(
	ctx context.Context,
	level slog.Level,
	msg string,
	attrs ...slog.Attr,
) {
	l := From(ctx)
	if !l.Enabled(ctx, level) {
		return
	}
	var pcs [1]uintptr
	// skip [runtime.Callers, this function, its parent in log pkg]
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.AddAttrs(attrs...)
	_ = l.Handler().Handle(ctx, r)
}
