/*
Copyright The CloudNativePG Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package logging provides the structured logger shared by every component.
// It wraps zap behind a logr.Logger front, the same composition the rest of
// the ecosystem uses to keep call sites library-agnostic.
package logging

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the type every component stores and passes around.
type Logger struct {
	logr.Logger
}

// Log is the default, unnamed logger. Configured once by the CLI entrypoint.
var Log = New(false)

// New builds a Logger writing JSON lines in production mode, or a
// console-friendly encoder when debug is true.
func New(debug bool) Logger {
	var zapLogger *zap.Logger
	if debug {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		zapLogger, _ = cfg.Build()
	} else {
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		zapLogger, _ = cfg.Build()
	}
	return Logger{zapr.NewLogger(zapLogger)}
}

// WithName returns a named child logger, following the k-v, hierarchical
// logr convention used throughout this codebase.
func (l Logger) WithName(name string) Logger {
	return Logger{l.Logger.WithName(name)}
}

// WithValues returns a child logger carrying the given key-value pairs on
// every subsequent call.
func (l Logger) WithValues(kv ...interface{}) Logger {
	return Logger{l.Logger.WithValues(kv...)}
}

// Info logs a non-error message at the default verbosity.
func Info(msg string, kv ...interface{}) { Log.Info(msg, kv...) }

// Debug logs a message only surfaced when debug logging is enabled.
func Debug(msg string, kv ...interface{}) { Log.V(1).Info(msg, kv...) }

// Warning logs a recoverable condition the operator should notice.
func Warning(msg string, kv ...interface{}) { Log.Info("[warning] "+msg, kv...) }

// Error logs a failure, attaching the error value itself.
func Error(err error, msg string, kv ...interface{}) { Log.Error(err, msg, kv...) }

type loggerKey struct{}

// IntoContext attaches a Logger to a context, to be retrieved with FromContext.
func IntoContext(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext extracts the Logger previously stored with IntoContext,
// falling back to the package-level default logger.
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey{}).(Logger); ok {
		return logger
	}
	return Log
}

// LogWriter adapts a Logger to io.Writer, so the stdout/stderr streams of a
// spawned process (copy drivers, hook scripts, streamer receivers) can be
// piped line-by-line into structured logging.
type LogWriter struct {
	Logger Logger
	// FieldName is the structured field the captured line is stored under.
	FieldName string
}

// Write implements io.Writer. It never returns an error: a write to the log
// is always considered successful from the caller's point of view.
func (w LogWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	field := w.FieldName
	if field == "" {
		field = "value"
	}
	w.Logger.Info("logging line", field, string(p))
	return len(p), nil
}
