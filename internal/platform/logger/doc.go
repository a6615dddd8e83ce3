// Package logger provides structured logging functionality for the
// application using Go's standard library log/slog package, plus helpers
// for carrying a request-scoped logger through context.Context.
package logger
