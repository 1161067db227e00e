// Copyright 2026 Redpanda Data, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log carries a [logr.Logger] through contexts so host functions
// and the engine log through the same sink.
package log

import (
	"context"
	"log/slog"

	"github.com/go-logr/logr"
)

// Info logs a non-error message using the logger stored in ctx. Additional
// key/value pairs are forwarded to the underlying logger.
func Info(ctx context.Context, msg string, keysAndValues ...any) {
	FromContext(ctx).Info(msg, keysAndValues...)
}

// Debug logs at verbosity 1 using the logger stored in ctx.
func Debug(ctx context.Context, msg string, keysAndValues ...any) {
	FromContext(ctx).V(1).Info(msg, keysAndValues...)
}

// Error logs an error with message and additional key/value pairs using the
// logger stored in ctx.
func Error(ctx context.Context, err error, msg string, keysAndValues ...any) {
	FromContext(ctx).Error(err, msg, keysAndValues...)
}

// IntoContext takes a context and sets the logger as one of its values.
// Use FromContext function to retrieve the logger.
func IntoContext(ctx context.Context, l logr.Logger) context.Context {
	return logr.NewContext(ctx, l)
}

// FromContext returns the logger stored in ctx decorated with keysAndValues,
// or a discarding logger if there is none.
func FromContext(ctx context.Context, keysAndValues ...any) logr.Logger {
	l := logr.FromContextOrDiscard(ctx)
	if len(keysAndValues) > 0 {
		l = l.WithValues(keysAndValues...)
	}
	return l
}

// SetGlobals makes l the destination of the standard library slog default
// logger, so libraries logging through slog end up in the same sink.
func SetGlobals(l logr.Logger) {
	slog.SetDefault(slog.New(logr.ToSlogHandler(l)))
}
