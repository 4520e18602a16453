package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Priority classes. Playout waiters are always served before Ingest waiters.
type Priority int

const (
	// PriorityPlayout is for operator and gateway triggered work (take, next, ad-lib).
	PriorityPlayout Priority = iota
	// PriorityIngest is for rundown content updates.
	PriorityIngest
)

// String returns the priority name used in logs.
func (p Priority) String() string {
	if p == PriorityIngest {
		return "ingest"
	}
	return "playout"
}

// Logger is the logging interface used by the guard.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ErrLockTimeout is returned when a lock could not be acquired within the
// configured wait timeout.
var ErrLockTimeout = errors.New("guard: lock wait timeout")

// Flusher runs pending debounced work for a rundown. The guard calls it with
// the lock already held, so the flushed work reuses that lock.
type Flusher interface {
	Flush(ctx context.Context, rundownID string) error
}

// Lease is an optional cross-process lock taken by the outermost acquisition.
type Lease interface {
	Acquire(ctx context.Context, rundownID string) (release func(context.Context) error, err error)
}

// Options configure a Guard.
type Options struct {
	// Lease, when set, is taken after the in-process lock.
	Lease Lease
	// Flusher, when set, is flushed before playout work runs.
	Flusher Flusher
	// WaitTimeout bounds how long a caller waits for the lock. Zero waits
	// until the context is done.
	WaitTimeout time.Duration
	Logger      Logger
}

type waiter struct {
	ready chan struct{}
}

type rundownLock struct {
	held    bool
	playout []*waiter
	ingest  []*waiter
}

// Guard serialises all mutating work per rundown.
//
// Thread Safety: all methods are safe for concurrent use.
type Guard struct {
	opts Options

	mu    sync.Mutex
	locks map[string]*rundownLock

	deferred sync.WaitGroup
}

// New creates a Guard.
func New(opts Options) *Guard {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Guard{
		opts:  opts,
		locks: make(map[string]*rundownLock),
	}
}

// SetFlusher installs the debounce flusher after construction.
func (g *Guard) SetFlusher(f Flusher) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.opts.Flusher = f
}

type scopeKey struct{}

// scope records what the current call chain holds.
type scope struct {
	mu       sync.Mutex
	held     map[string]bool
	deferred []func()
}

func scopeFrom(ctx context.Context) *scope {
	s, _ := ctx.Value(scopeKey{}).(*scope)
	return s
}

// Holds reports whether ctx already holds the lock for rundownID.
func Holds(ctx context.Context, rundownID string) bool {
	s := scopeFrom(ctx)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held[rundownID]
}

// Defer queues fn to run after the outermost lock in ctx is released. It
// only runs when the locked work succeeded. Outside a locked scope fn runs
// in the background straight away.
func (g *Guard) Defer(ctx context.Context, fn func()) {
	s := scopeFrom(ctx)
	if s == nil {
		g.runDeferred([]func(){fn})
		return
	}
	s.mu.Lock()
	s.deferred = append(s.deferred, fn)
	s.mu.Unlock()
}

// WaitDeferred blocks until every deferred side effect has finished.
func (g *Guard) WaitDeferred() {
	g.deferred.Wait()
}

// Run executes fn while holding the lock for rundownID.
//
// Nested calls whose ctx already holds the lock run fn directly. The lock is
// released when fn returns or panics, and fn's error is returned unchanged.
func (g *Guard) Run(ctx context.Context, rundownID string, prio Priority, fn func(ctx context.Context) error) error {
	if Holds(ctx, rundownID) {
		return fn(ctx)
	}

	outer := scopeFrom(ctx)
	s := outer
	if s == nil {
		s = &scope{held: make(map[string]bool)}
		ctx = context.WithValue(ctx, scopeKey{}, s)
	}

	if err := g.acquire(ctx, rundownID, prio); err != nil {
		return err
	}

	var unlease func(context.Context) error
	done := false
	finish := func() {
		if done {
			return
		}
		done = true
		s.mu.Lock()
		delete(s.held, rundownID)
		s.mu.Unlock()
		if unlease != nil {
			if err := unlease(context.Background()); err != nil {
				g.opts.Logger.Warn("releasing rundown lease failed", "rundown_id", rundownID, "error", err)
			}
		}
		g.release(rundownID)
	}
	defer finish()

	if g.opts.Lease != nil {
		rel, err := g.opts.Lease.Acquire(ctx, rundownID)
		if err != nil {
			return fmt.Errorf("acquiring lease for %s: %w", rundownID, err)
		}
		unlease = rel
	}

	s.mu.Lock()
	s.held[rundownID] = true
	s.mu.Unlock()

	if prio == PriorityPlayout {
		g.mu.Lock()
		flusher := g.opts.Flusher
		g.mu.Unlock()
		if flusher != nil {
			if err := flusher.Flush(ctx, rundownID); err != nil {
				g.opts.Logger.Error("flushing pending ingest work failed", "rundown_id", rundownID, "error", err)
			}
		}
	}

	err := fn(ctx)
	finish()

	if outer == nil {
		// Outermost scope: side effects run once everything is released.
		s.mu.Lock()
		pending := s.deferred
		s.deferred = nil
		s.mu.Unlock()
		if err == nil && len(pending) > 0 {
			g.runDeferred(pending)
		}
	}
	return err
}

func (g *Guard) runDeferred(fns []func()) {
	g.deferred.Add(1)
	go func() {
		defer g.deferred.Done()
		for _, fn := range fns {
			g.safeCall(fn)
		}
	}()
}

func (g *Guard) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			g.opts.Logger.Error("deferred side effect panicked", "panic", r)
		}
	}()
	fn()
}

func (g *Guard) acquire(ctx context.Context, rundownID string, prio Priority) error {
	g.mu.Lock()
	lk, ok := g.locks[rundownID]
	if !ok {
		lk = &rundownLock{}
		g.locks[rundownID] = lk
	}
	if !lk.held {
		lk.held = true
		g.mu.Unlock()
		return nil
	}
	w := &waiter{ready: make(chan struct{})}
	if prio == PriorityPlayout {
		lk.playout = append(lk.playout, w)
	} else {
		lk.ingest = append(lk.ingest, w)
	}
	g.mu.Unlock()

	var timeout <-chan time.Time
	if g.opts.WaitTimeout > 0 {
		t := time.NewTimer(g.opts.WaitTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		return g.abandon(rundownID, w, ctx.Err())
	case <-timeout:
		return g.abandon(rundownID, w, ErrLockTimeout)
	}
}

// abandon removes w from the queue. If ownership was handed over in the
// meantime it is passed straight on.
func (g *Guard) abandon(rundownID string, w *waiter, cause error) error {
	g.mu.Lock()
	lk := g.locks[rundownID]
	if lk != nil {
		if removeWaiter(&lk.playout, w) || removeWaiter(&lk.ingest, w) {
			g.mu.Unlock()
			return cause
		}
	}
	g.mu.Unlock()

	// Already granted.
	<-w.ready
	g.release(rundownID)
	return cause
}

func removeWaiter(q *[]*waiter, w *waiter) bool {
	for i, x := range *q {
		if x == w {
			*q = append((*q)[:i], (*q)[i+1:]...)
			return true
		}
	}
	return false
}

func (g *Guard) release(rundownID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	lk, ok := g.locks[rundownID]
	if !ok {
		return
	}
	var next *waiter
	switch {
	case len(lk.playout) > 0:
		next, lk.playout = lk.playout[0], lk.playout[1:]
	case len(lk.ingest) > 0:
		next, lk.ingest = lk.ingest[0], lk.ingest[1:]
	}
	if next != nil {
		close(next.ready)
		return
	}
	lk.held = false
	delete(g.locks, rundownID)
}

// QueueLength returns the number of waiters per priority for a rundown.
func (g *Guard) QueueLength(rundownID string) (playout, ingest int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if lk, ok := g.locks[rundownID]; ok {
		return len(lk.playout), len(lk.ingest)
	}
	return 0, 0
}
