// Package auditor orchestrates audit runs: it walks a bookmark forest, submits
// every URL-bearing leaf to a per-run scheduler, records outcomes, and on
// completion persists, exports and announces the report.
//
// One Auditor owns at most one live run. Starting a new run aborts the
// previous one first.
package auditor
