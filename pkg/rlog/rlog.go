// Package rlog provides the structured logger shared across reagent's
// packages. Every subsystem gets a named, scoped logger the way the
// teacher codebase scopes slog.Logger per component, but built on
// zerolog to match the rest of the example pack.
package rlog

import (
	"os"

	"github.com/rs/zerolog"
)

var base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

const maxPreview = 256

// Named returns a child logger tagged with component=name, mirroring the
// teacher's convention of prefixing log lines with the emitting subsystem
// (e.g. "ContentsRequestProcessor: ...").
func Named(name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}

// Preview truncates s to at most maxPreview runes for safe inclusion in a
// log line, appending an ellipsis marker when truncated. react's acting
// phase is the usual caller, previewing tool-result content that can run
// to arbitrary length.
func Preview(s string) string {
	r := []rune(s)
	if len(r) <= maxPreview {
		return s
	}
	return string(r[:maxPreview]) + "…"
}
