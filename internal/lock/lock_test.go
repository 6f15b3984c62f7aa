package lock

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryLockerMutualExclusion(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "job-1", "node-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = l.Acquire(ctx, "job-1", "node-b", time.Minute)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatal("second acquire should not succeed while the lock is held")
	}

	// A different name is independent.
	ok, err = l.Acquire(ctx, "job-2", "node-b", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire of unrelated lock: ok=%v err=%v", ok, err)
	}
}

func TestMemoryLockerReleaseByOwnerOnly(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	if ok, _ := l.Acquire(ctx, "job-1", "node-a", time.Minute); !ok {
		t.Fatal("acquire failed")
	}

	ok, err := l.Release(ctx, "job-1", "node-b")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok {
		t.Fatal("non-owner release must be a no-op")
	}

	ok, err = l.Release(ctx, "job-1", "node-a")
	if err != nil || !ok {
		t.Fatalf("owner release: ok=%v err=%v", ok, err)
	}

	// Released lock is free again.
	if ok, _ := l.Acquire(ctx, "job-1", "node-b", time.Minute); !ok {
		t.Fatal("acquire after release failed")
	}
}

func TestMemoryLockerExpiry(t *testing.T) {
	l := NewMemoryLocker()
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	if ok, _ := l.Acquire(ctx, "job-1", "node-a", 10*time.Second); !ok {
		t.Fatal("acquire failed")
	}

	now = now.Add(11 * time.Second)
	ok, err := l.Acquire(ctx, "job-1", "node-b", 10*time.Second)
	if err != nil || !ok {
		t.Fatalf("acquire after expiry: ok=%v err=%v", ok, err)
	}

	// The original owner's release must not clobber the new holder.
	if ok, _ := l.Release(ctx, "job-1", "node-a"); ok {
		t.Fatal("stale owner must not release a re-acquired lock")
	}
}

func TestMemoryLockerConcurrentAcquire(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	const workers = 32
	var wg sync.WaitGroup
	acquired := make(chan int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			ok, err := l.Acquire(ctx, "contended", "node", time.Minute)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			if ok {
				acquired <- id
			}
		}(i)
	}
	wg.Wait()
	close(acquired)

	var winners int
	for range acquired {
		winners++
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}
