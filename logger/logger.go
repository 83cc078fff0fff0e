// Package logger provides adapters for popular logging libraries to work
// with grovekv's Logger interface.
//
// The standard library's slog.Logger already implements grovekv.Logger
// directly; these adapters cover libraries with different signatures.
//
// Example with zap:
//
//	zapLogger, _ := zap.NewProduction()
//
//	db, err := grovekv.Open("data.db",
//	    grovekv.WithLogger(logger.NewZap(zapLogger)))
package logger
