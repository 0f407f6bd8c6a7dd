// SPDX-License-Identifier: GPL-3.0-or-later

package doh3probe

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogLevelEnv is the environment variable controlling the log verbosity.
const LogLevelEnv = "DOH3PROBE_LOG"

// NewLogger returns a [*slog.Logger] emitting JSON records to w.
//
// The level uses the [slog.Level] text syntax (e.g., "debug", "info", "warn+2").
// An empty or invalid level selects [slog.LevelError].
func NewLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// NewLoggerFromEnv is like [NewLogger] but writes to the standard error
// and reads the level from the [LogLevelEnv] environment variable.
func NewLoggerFromEnv() *slog.Logger {
	return NewLogger(os.Stderr, os.Getenv(LogLevelEnv))
}

// discardLogger returns a logger that drops all the records.
func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
