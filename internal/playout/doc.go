// Package playout is the rundown playout state machine.
//
// An Engine moves a rundown through its parts. Operators and the gateway
// drive it with Take, SetNext, MoveNext, holds and ad-libs; the gateway
// reports what actually went on air through the playback callbacks.
//
//	            SetNext / MoveNext
//	   ┌──────────────────────────────────┐
//	   ▼                                  │
//	[ next ] ──Take──▶ [ current ] ──Take──▶ [ previous ]
//	   ▲                    │
//	   └── auto-next ◀──────┘  (OnPartPlaybackStarted for next)
//
// Every operation runs under the rundown's guard lock (see package guard)
// with a freshly loaded view of the rundown. Side effects that must not
// delay a transition (snapshot publication, blueprint post-take hooks,
// as-run records, delayed notifications) are deferred until the lock is
// released.
//
// # Infinite pieces
//
// A piece whose lifespan outlives its part is continued into later parts by
// propagation. Continuations of parts that have no instance yet are written
// as template pieces flagged DynamicallyInserted; parts that have an
// instance receive piece instances instead. Which of the two a part uses is
// hidden behind a pieceSource. Propagation is idempotent: running it twice
// writes nothing the second time.
//
// # Timing heuristics
//
// Pieces starting at 0 are ordered as if they started at ZeroStartEpoch and
// pieces starting "now" at the elapsed part time plus NowEpoch. Both are
// configurable through TimingOptions, as is the early exit of propagation.
package playout
