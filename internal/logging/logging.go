// Package logging provides two loggers: a structured zerolog.Logger
// threaded through every internal component, and a colorized slog+tint
// logger for top-level status lines (the cerebro commands print their
// own status lines with fmt and do not call it). Both auto-detect whether stderr is a terminal and fall back to
// plain/JSON output when it isn't (piped into a file, a CI log, etc).
package logging

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// New returns the structured logger passed to internal components
// (inventory, discover, hashpipe, orchestrator, deletion, audit,
// session, ...). A TTY gets zerolog's pretty ConsoleWriter; anything
// else gets newline-delimited JSON, since that's what a log shipper or
// `| jq` downstream of a non-interactive run actually wants.
func New(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if isatty.IsTerminal(os.Stderr.Fd()) {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// NewCLILogger returns a colorized logger for top-level status output (progress summaries, "scan complete", that
// sort of line) — distinct from the structured component logger so
// library code never has an opinion about terminal colors.
func NewCLILogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	if isatty.IsTerminal(os.Stderr.Fd()) {
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		}))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
