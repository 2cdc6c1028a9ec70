// Package snapshot persists point-in-time copies of a symbol's matching
// state, tagged with the last sequence number they include.
//
// Snapshots are produced by the symbol's worker as a detached copy and
// written by a background job, so persistence never blocks matching. A
// snapshot plus the command log after its sequence is enough to rebuild
// the symbol exactly.
package snapshot
