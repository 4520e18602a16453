package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return mr, client
}

func TestRedisLease_AcquireRelease(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()
	lease := NewRedisLease(client, "test", time.Minute, time.Millisecond)

	release, err := lease.TryAcquire(ctx, "r1")
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if !mr.Exists("test:r1") {
		t.Fatal("lease key not written")
	}
	if ttl := mr.TTL("test:r1"); ttl <= 0 || ttl > time.Minute {
		t.Errorf("lease TTL = %v", ttl)
	}

	if _, err := lease.TryAcquire(ctx, "r1"); !errors.Is(err, ErrLeaseHeld) {
		t.Errorf("second TryAcquire error = %v, want ErrLeaseHeld", err)
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if mr.Exists("test:r1") {
		t.Error("lease key survived release")
	}
}

func TestRedisLease_ReleaseDoesNotStealForeignLease(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()
	lease := NewRedisLease(client, "test", time.Second, time.Millisecond)

	release, err := lease.TryAcquire(ctx, "r1")
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}

	// Our lease expires and another process takes it.
	mr.FastForward(2 * time.Second)
	if err := mr.Set("test:r1", "someone-else"); err != nil {
		t.Fatal(err)
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	got, err := mr.Get("test:r1")
	if err != nil || got != "someone-else" {
		t.Errorf("foreign lease = %q, %v; want untouched", got, err)
	}
}

func TestRedisLease_AcquireWaitsAndHonoursContext(t *testing.T) {
	_, client := setupRedis(t)
	lease := NewRedisLease(client, "test", time.Minute, 5*time.Millisecond)

	release, err := lease.Acquire(context.Background(), "r1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := lease.Acquire(ctx, "r1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire while held error = %v, want deadline exceeded", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = release(context.Background())
	}()
	again, err := lease.Acquire(context.Background(), "r1")
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	_ = again(context.Background())
}

func TestGuard_WithRedisLease(t *testing.T) {
	mr, client := setupRedis(t)
	g := New(Options{Lease: NewRedisLease(client, "studio", time.Minute, time.Millisecond)})

	err := g.Run(context.Background(), "r1", PriorityPlayout, func(ctx context.Context) error {
		if !mr.Exists("studio:r1") {
			t.Error("lease not held during Run")
		}
		// Nested calls must not try to take the lease again.
		return g.Run(ctx, "r1", PriorityPlayout, func(context.Context) error { return nil })
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if mr.Exists("studio:r1") {
		t.Error("lease still held after Run")
	}
}
