package guard

import (
	"context"
	"sync"
	"time"
)

// Task is debounced work keyed by rundown.
type Task func(ctx context.Context) error

// Locker serialises a key's task with other work on that key. *Guard
// implements it.
type Locker interface {
	Run(ctx context.Context, key string, prio Priority, fn func(ctx context.Context) error) error
}

type scheduledTask struct {
	timer *time.Timer
	fn    Task
	seq   uint64
}

// Scheduler is a per-rundown registry of debounced tasks. Scheduling a key
// that already has a pending task replaces the task and restarts its timer.
//
// Thread Safety: all methods are safe for concurrent use.
type Scheduler struct {
	logger Logger

	mu      sync.Mutex
	locker  Locker
	tasks   map[string]*scheduledTask
	seq     uint64
	closed  bool
	running sync.WaitGroup
}

// NewScheduler creates an empty scheduler.
func NewScheduler(logger Logger) *Scheduler {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Scheduler{
		logger: logger,
		tasks:  make(map[string]*scheduledTask),
	}
}

// SetLocker makes fired tasks run under l at ingest priority. A task stays
// pending until it runs under the lock, so a Flush from work that got the
// lock first still finds it.
func (s *Scheduler) SetLocker(l Locker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locker = l
}

// Schedule arranges for fn to run after delay unless it is rescheduled,
// flushed or cancelled first. Scheduling after Close is a no-op.
func (s *Scheduler) Schedule(key string, delay time.Duration, fn Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if prev, ok := s.tasks[key]; ok {
		prev.timer.Stop()
	}
	s.seq++
	seq := s.seq
	t := &scheduledTask{fn: fn, seq: seq}
	t.timer = time.AfterFunc(delay, func() { s.fire(key, seq) })
	s.tasks[key] = t
}

func (s *Scheduler) fire(key string, seq uint64) {
	s.mu.Lock()
	t, ok := s.tasks[key]
	if !ok || t.seq != seq || s.closed {
		s.mu.Unlock()
		return
	}
	locker := s.locker
	s.running.Add(1)
	s.mu.Unlock()
	defer s.running.Done()

	run := func(ctx context.Context) error {
		t := s.claim(key, seq)
		if t == nil {
			// Flushed, rescheduled or cancelled while waiting for the lock.
			return nil
		}
		return t.fn(ctx)
	}
	var err error
	if locker != nil {
		err = locker.Run(context.Background(), key, PriorityIngest, run)
	} else {
		err = run(context.Background())
	}
	if err != nil {
		s.logger.Error("debounced task failed", "key", key, "error", err)
	}
}

// claim removes and returns the pending task for key. A non-zero seq only
// matches the task scheduled with it.
func (s *Scheduler) claim(key string, seq uint64) *scheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[key]
	if !ok || (seq != 0 && t.seq != seq) {
		return nil
	}
	delete(s.tasks, key)
	t.timer.Stop()
	return t
}

// Flush runs the pending task for key synchronously on the caller's context.
// It returns nil when nothing is pending.
func (s *Scheduler) Flush(ctx context.Context, key string) error {
	t := s.claim(key, 0)
	if t == nil {
		return nil
	}
	return t.fn(ctx)
}

// Cancel drops the pending task for key, reporting whether one existed.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[key]
	if ok {
		t.timer.Stop()
		delete(s.tasks, key)
	}
	return ok
}

// Pending reports whether key has a task waiting to run.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

// Close cancels every pending task and waits for running ones to finish.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for key, t := range s.tasks {
		t.timer.Stop()
		delete(s.tasks, key)
	}
	s.mu.Unlock()
	s.running.Wait()
}
