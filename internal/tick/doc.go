// Package tick runs one scheduling decision and, when the decision allows it,
// one bounded batch.
//
// A tick is the unit an external trigger (cron, a systemd timer, or the
// `photoner loop` command) invokes. Each tick reloads configuration, takes the
// run coordinator lease, measures the backlog of every population, asks the
// phase scheduler what to do, and hands the resulting work unit to the
// processing engine. The outcome, including explicit skip reasons, is written
// to the tick history table and forwarded to the notification service.
//
// Plan performs the same decision without the lease or any processing and
// backs the dry-run command; Snapshot collects the read-only view used by
// `photoner status`.
package tick
