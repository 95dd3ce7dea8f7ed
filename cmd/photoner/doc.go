// Command photoner enhances photos arriving from a phone sync and drains an
// archive backlog in small, schedule-aware batches.
//
// `photoner tick` is meant to be invoked by cron or a systemd timer every few
// minutes; `photoner loop` does the same from a foreground process. Every
// other command is read-only apart from `cleanup record` and `config init`.
package main
