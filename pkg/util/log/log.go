// Copyright 2025 The Planwatch Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// Package log provides context-aware leveled logging for the module. It
// is a thin facade over zerolog: callers use the familiar
// log.Infof(ctx, ...) surface while the host decides where the output
// goes by installing a logger via SetLogger or by attaching one to the
// context with zerolog's ctx plumbing.
package log

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

var logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// SetLogger replaces the process-wide logger. Intended to be called once
// during host initialization, before any concurrent use.
func SetLogger(l zerolog.Logger) {
	logger = l
	zerolog.DefaultContextLogger = &logger
}

func fromCtx(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
			return l
		}
	}
	return &logger
}

// Infof logs an informational message.
func Infof(ctx context.Context, format string, args ...interface{}) {
	fromCtx(ctx).Info().Msgf(format, args...)
}

// Warningf logs a warning.
func Warningf(ctx context.Context, format string, args ...interface{}) {
	fromCtx(ctx).Warn().Msgf(format, args...)
}

// Errorf logs an error.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	fromCtx(ctx).Error().Msgf(format, args...)
}

// Fatalf logs the message and terminates the process. Reserved for
// structural invariant violations that cannot be repaired locally.
func Fatalf(ctx context.Context, format string, args ...interface{}) {
	fromCtx(ctx).Fatal().Msg(fmt.Sprintf(format, args...))
}
