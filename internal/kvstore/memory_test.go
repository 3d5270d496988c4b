package kvstore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryPutGetDelete(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	if err := m.Put(ctx, "state:abc", "user-1", time.Minute); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := m.Get(ctx, "state:abc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "user-1" {
		t.Errorf("Get = %q, want %q", got, "user-1")
	}

	if err := m.Delete(ctx, "state:abc"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := m.Get(ctx, "state:abc"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryExpiry(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	if err := m.Put(ctx, "short", "v", 10*time.Millisecond); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	time.Sleep(25 * time.Millisecond)

	if _, err := m.Get(ctx, "short"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected expired key to return ErrNotFound, got %v", err)
	}
}

func TestMemoryZeroTTLNeverExpires(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	if err := m.Put(ctx, "perm", "v", 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := m.Get(ctx, "perm"); err != nil {
		t.Errorf("zero-TTL key should not expire: %v", err)
	}
}

func TestMemoryIncrCountsWithinWindow(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := m.Incr(ctx, "ratelimit:api:u1", time.Minute)
		if err != nil {
			t.Fatalf("Incr failed: %v", err)
		}
		if got != want {
			t.Errorf("Incr = %d, want %d", got, want)
		}
	}

	// An independent key counts separately
	got, err := m.Incr(ctx, "ratelimit:api:u2", time.Minute)
	if err != nil {
		t.Fatalf("Incr failed: %v", err)
	}
	if got != 1 {
		t.Errorf("Incr for second key = %d, want 1", got)
	}
}

func TestMemoryIncrWindowResets(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	if _, err := m.Incr(ctx, "win", 10*time.Millisecond); err != nil {
		t.Fatalf("Incr failed: %v", err)
	}
	time.Sleep(25 * time.Millisecond)

	got, err := m.Incr(ctx, "win", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Incr after expiry failed: %v", err)
	}
	if got != 1 {
		t.Errorf("counter after window = %d, want a fresh 1", got)
	}
}

func TestMemoryMissingKey(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	if _, err := m.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
