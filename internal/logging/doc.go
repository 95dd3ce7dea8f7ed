// Package logging assembles structured slog loggers and formatting helpers used
// across photoner.
//
// It owns the console and JSON handlers, mirrors every record into a daily JSON
// log file, and exposes context helpers so engine and scheduler code can tag
// log lines with the tick's run id, phase, and population. A no-op logger is
// provided for tests and wiring code that cannot fail.
package logging
