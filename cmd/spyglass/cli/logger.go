// Copyright 2026 The Spyglass Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewLogger creates the logger for CLI command operations. When
// stderr is a terminal, uses slog.TextHandler for human-readable
// output; when piped or redirected, uses slog.JSONHandler so scripts
// and CI get machine-parseable lines.
func NewLogger(level slog.Level) *slog.Logger {
	var handler slog.Handler
	options := &slog.HandlerOptions{Level: level}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}
