// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package obs factors out the teacher's main.go setupLogger helper into a
// shared slog setup usable by both cmd/mbcoresim and the integration
// tests, so both get the same text-handler-to-stdout-or-file behavior.
package obs

import (
	"fmt"
	"log/slog"
	"os"
)

// Config selects the log level and destination.
type Config struct {
	Level string // debug, info, warn, error
	File  string // "" or "-" means stdout
}

// NewLogger builds a slog.Logger per cfg. It does not call
// slog.SetDefault; callers that want this logger to back the package-level
// slog helpers must do that themselves.
func NewLogger(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Printf("obs: failed to open log file %s, falling back to stdout: %v\n", cfg.File, err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
