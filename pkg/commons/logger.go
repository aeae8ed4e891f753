// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package commons provides the structured logger shared by every actor in
// the engine: the dynamic engine, pin distributors, and nodes.
package commons

import (
	"os"

	"go.uber.org/zap"
)

// Logger is the structured logging surface every actor depends on. It is
// satisfied by zap's SugaredLogger so call sites read naturally with
// key/value pairs ("node_id", id, "state", s).
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Fatalf(template string, args ...interface{})
	With(keysAndValues ...interface{}) Logger
	Sync() error
}

type zapLogger struct {
	*zap.SugaredLogger
}

func (l *zapLogger) With(keysAndValues ...interface{}) Logger {
	return &zapLogger{l.SugaredLogger.With(keysAndValues...)}
}

// NewApplicationLogger builds the default production logger: JSON to
// stderr, info level unless SK_LOG_LEVEL=debug.
func NewApplicationLogger() (Logger, error) {
	level := zap.InfoLevel
	if os.Getenv("SK_LOG_LEVEL") == "debug" {
		level = zap.DebugLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}

	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &zapLogger{base.Sugar()}, nil
}

// NewNopLogger returns a Logger that discards everything, for tests.
func NewNopLogger() Logger {
	return &zapLogger{zap.NewNop().Sugar()}
}
