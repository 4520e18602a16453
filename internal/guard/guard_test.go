package guard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRun_SerialisesPerRundown(t *testing.T) {
	g := New(Options{})
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.Run(context.Background(), "r1", PriorityPlayout, func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxInside)
	}
}

func TestRun_DifferentRundownsDoNotBlock(t *testing.T) {
	g := New(Options{})
	entered := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = g.Run(context.Background(), "r1", PriorityPlayout, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	done := make(chan error, 1)
	go func() {
		done <- g.Run(context.Background(), "r2", PriorityPlayout, func(context.Context) error { return nil })
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run(r2): %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("r2 blocked behind r1")
	}
	close(release)
}

func TestRun_NestedReusesLock(t *testing.T) {
	g := New(Options{})
	calls := 0
	err := g.Run(context.Background(), "r1", PriorityPlayout, func(ctx context.Context) error {
		if !Holds(ctx, "r1") {
			t.Error("Holds = false inside Run")
		}
		return g.Run(ctx, "r1", PriorityIngest, func(context.Context) error {
			calls++
			return nil
		})
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 1 {
		t.Errorf("nested fn ran %d times, want 1", calls)
	}
}

func TestRun_PlayoutServedBeforeIngest(t *testing.T) {
	g := New(Options{})
	entered := make(chan struct{})
	release := make(chan struct{})
	var order []string
	var mu sync.Mutex
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	go func() {
		_ = g.Run(context.Background(), "r1", PriorityIngest, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		_ = g.Run(context.Background(), "r1", PriorityIngest, func(context.Context) error { record("ingest"); return nil })
	}()
	waitFor(t, "ingest waiter", func() bool { _, n := g.QueueLength("r1"); return n == 1 })

	go func() {
		defer wg.Done()
		_ = g.Run(context.Background(), "r1", PriorityPlayout, func(context.Context) error { record("take"); return nil })
	}()
	waitFor(t, "first playout waiter", func() bool { n, _ := g.QueueLength("r1"); return n == 1 })

	go func() {
		defer wg.Done()
		_ = g.Run(context.Background(), "r1", PriorityPlayout, func(context.Context) error { record("next"); return nil })
	}()
	waitFor(t, "second playout waiter", func() bool { n, _ := g.QueueLength("r1"); return n == 2 })

	close(release)
	wg.Wait()

	want := []string{"take", "next", "ingest"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestRun_ErrorAndPanicRelease(t *testing.T) {
	g := New(Options{})
	boom := errors.New("boom")

	err := g.Run(context.Background(), "r1", PriorityPlayout, func(context.Context) error { return boom })
	if !errors.Is(err, boom) || err != boom {
		t.Fatalf("Run error = %v, want boom unchanged", err)
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Error("panic was swallowed")
			}
		}()
		_ = g.Run(context.Background(), "r1", PriorityPlayout, func(context.Context) error { panic("kaboom") })
	}()

	done := make(chan error, 1)
	go func() {
		done <- g.Run(context.Background(), "r1", PriorityPlayout, func(context.Context) error { return nil })
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run after failure: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("lock not released after error/panic")
	}
}

func TestDefer_RunsAfterReleaseOnSuccessOnly(t *testing.T) {
	g := New(Options{})
	var ran atomic.Int32
	var heldDuringDefer atomic.Bool

	err := g.Run(context.Background(), "r1", PriorityPlayout, func(ctx context.Context) error {
		g.Defer(ctx, func() {
			// The lock must be free again when deferred work runs.
			p, i := g.QueueLength("r1")
			heldDuringDefer.Store(p+i > 0)
			ran.Add(1)
		})
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	_ = g.Run(context.Background(), "r1", PriorityPlayout, func(ctx context.Context) error {
		g.Defer(ctx, func() { ran.Add(100) })
		return errors.New("failed")
	})

	g.WaitDeferred()
	if got := ran.Load(); got != 1 {
		t.Errorf("deferred ran = %d, want 1", got)
	}
	if heldDuringDefer.Load() {
		t.Error("deferred work saw queued waiters")
	}
}

func TestRun_ContextCancelWhileWaiting(t *testing.T) {
	g := New(Options{})
	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = g.Run(context.Background(), "r1", PriorityPlayout, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- g.Run(ctx, "r1", PriorityPlayout, func(context.Context) error { return nil })
	}()
	waitFor(t, "waiter", func() bool { n, _ := g.QueueLength("r1"); return n == 1 })
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want context.Canceled", err)
	}
	if n, _ := g.QueueLength("r1"); n != 0 {
		t.Errorf("queue length after cancel = %d, want 0", n)
	}
	close(release)
}

func TestRun_WaitTimeout(t *testing.T) {
	g := New(Options{WaitTimeout: 20 * time.Millisecond})
	entered := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	go func() {
		_ = g.Run(context.Background(), "r1", PriorityPlayout, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	err := g.Run(context.Background(), "r1", PriorityIngest, func(context.Context) error { return nil })
	if !errors.Is(err, ErrLockTimeout) {
		t.Errorf("Run error = %v, want ErrLockTimeout", err)
	}
}

type recordingFlusher struct {
	mu    sync.Mutex
	calls []string
	held  []bool
}

func (f *recordingFlusher) Flush(ctx context.Context, rundownID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rundownID)
	f.held = append(f.held, Holds(ctx, rundownID))
	return nil
}

func TestRun_FlushesBeforePlayoutOnly(t *testing.T) {
	f := &recordingFlusher{}
	g := New(Options{Flusher: f})

	_ = g.Run(context.Background(), "r1", PriorityIngest, func(context.Context) error { return nil })
	if len(f.calls) != 0 {
		t.Fatalf("ingest work flushed: %v", f.calls)
	}

	_ = g.Run(context.Background(), "r1", PriorityPlayout, func(context.Context) error { return nil })
	if len(f.calls) != 1 || f.calls[0] != "r1" {
		t.Fatalf("flush calls = %v, want [r1]", f.calls)
	}
	if !f.held[0] {
		t.Error("flush ran without the lock held")
	}
}
