// Package engine executes a WorkUnit: one file at a time per worker, each
// isolated from the others, each ending in exactly one terminal record.
//
// Before every dispatch the engine checks free space on the output volume,
// the batch time budget, and the consecutive-failure guard. Once any of those
// stops dispatching, the remaining items are reported as untouched and get no
// record, so the next tick picks them up again. Outputs are produced through
// fileutil.WriteAtomic, so a crash leaves at worst a temp file that
// staging.CleanStale removes later and a pending record that discovery does
// not treat as processed.
package engine
