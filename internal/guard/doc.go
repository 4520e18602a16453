// Package guard serialises mutating playout work per rundown.
//
// Every engine entry point runs inside Guard.Run. Locks are keyed by rundown
// id, so rundowns never block each other. Two priority classes exist:
// Playout (take, set next, ad-lib, gateway callbacks) and Ingest (content
// updates). Waiters are queued FIFO within a class and Playout waiters are
// always handed the lock before Ingest waiters.
//
// Nested calls reuse the lock: Run stores the set of held rundowns in the
// context, and a Run whose context already holds the rundown calls fn
// directly instead of queueing behind itself.
//
//	ctx ──▶ Run(r1, Playout) ──▶ acquire r1 ──▶ Flush pending ingest for r1
//	                                         ──▶ fn(ctx)
//	                                               └─▶ Run(r1, ...) reuses lock
//	                                         ──▶ release r1
//	                                         ──▶ deferred side effects
//
// Side effects that must not delay an on-air transition are queued with
// Defer and run in the background after the outermost lock is released.
// WaitDeferred lets tests and shutdown wait for them.
//
// Scheduler is the per-rundown debounce registry used for ingest-triggered
// recomputation. When installed as the guard's Flusher, any pending task for
// a rundown runs, under the already held lock, before playout work observes it.
//
// RedisLease optionally extends the lock across processes.
package guard
