// Package preflight provides readiness checks for the filesystem paths and
// services photoner depends on.
//
// These checks run in two contexts:
//   - The processing engine consults a SpaceChecker before dispatching each
//     file and aborts the batch when the output volume drops below the
//     configured free-space floor.
//   - The CLI "photoner doctor" command runs RunAll to display path access,
//     free space, external binaries, and notification reachability.
package preflight
