// Package logs reads back the daily JSON log files written by the logging
// package. It locates the newest file, returns the last N lines or everything
// after a byte offset, and can poll for new lines while a tick is running.
// Filter narrows the raw lines to one run, a minimum level, or an event type.
package logs
