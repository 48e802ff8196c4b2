// Package runtrack records one directory per execution attempt: an
// immutable meta.json captured at start, a mutable state.json updated
// through heartbeats and progress calls, and an artifacts/ subdirectory
// for produced files. A "latest" pointer file always resolves to the
// most recently started run.
//
// The stored status machine is ACTIVE -> DONE | CRASHED | CANCELLED,
// set only by the owning process. "Stalled" is never stored; the
// Watcher derives it by comparing last_heartbeat to a liveness
// threshold.
package runtrack
