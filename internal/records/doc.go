// Package records persists per-file processing outcomes in SQLite and answers
// the questions the rest of photoner asks about them.
//
// A row exists for each (source path, population) the engine has attempted.
// The path is keyed in NFC form so the same file synced from different
// filesystems maps to one row. Every state transition is a single UPSERT
// statement, which keeps the store safe under crashes and overlapping
// invocations: readers never observe a half-written record, and a tick that
// dies mid-item leaves at worst one pending row that the next tick overwrites.
//
// The store also keeps tick history and cleanup history, and provides the
// reporting queries behind the CLI (stats, error summaries, cleanup
// eligibility). It never deletes processing records.
//
// Schema changes bump schemaVersion in schema.go; an older database fails to
// open with ErrSchemaMismatch.
package records
