package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLocalLockerMutualExclusion(t *testing.T) {
	locker := NewLocker(nil)

	token, ok, err := locker.TryLock(context.Background(), "provision:1", time.Minute)
	if err != nil {
		t.Fatalf("try lock: %v", err)
	}
	if !ok {
		t.Fatalf("first acquisition must succeed")
	}

	if _, ok, err := locker.TryLock(context.Background(), "provision:1", time.Minute); err != nil || ok {
		t.Fatalf("second acquisition must fail while held, ok=%v err=%v", ok, err)
	}

	// Another key is independent.
	if _, ok, err := locker.TryLock(context.Background(), "provision:2", time.Minute); err != nil || !ok {
		t.Fatalf("different key must be free, ok=%v err=%v", ok, err)
	}

	if err := locker.Release(context.Background(), "provision:1", token); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, err := locker.TryLock(context.Background(), "provision:1", time.Minute); err != nil || !ok {
		t.Fatalf("released key must be free, ok=%v err=%v", ok, err)
	}
}

func TestLocalLockerFencedRelease(t *testing.T) {
	locker := NewLocker(nil)

	token, _, err := locker.TryLock(context.Background(), "sweep", time.Minute)
	if err != nil {
		t.Fatalf("try lock: %v", err)
	}

	// Releasing with a stale token must not free the lock.
	if err := locker.Release(context.Background(), "sweep", "stale-token"); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if _, ok, _ := locker.TryLock(context.Background(), "sweep", time.Minute); ok {
		t.Fatalf("lock freed by a foreign token")
	}

	if err := locker.Release(context.Background(), "sweep", token); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestLocalLockerExpiry(t *testing.T) {
	locker := NewLocker(nil)

	if _, ok, err := locker.TryLock(context.Background(), "short", 10*time.Millisecond); err != nil || !ok {
		t.Fatalf("try lock: ok=%v err=%v", ok, err)
	}
	time.Sleep(20 * time.Millisecond)

	if _, ok, err := locker.TryLock(context.Background(), "short", time.Minute); err != nil || !ok {
		t.Fatalf("expired lock must be reclaimable, ok=%v err=%v", ok, err)
	}
}

func TestTryLockValidation(t *testing.T) {
	locker := NewLocker(nil)

	if _, _, err := locker.TryLock(context.Background(), "", time.Minute); err != ErrEmptyKey {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
	if _, _, err := locker.TryLock(context.Background(), "k", 0); err != ErrInvalidTTL {
		t.Fatalf("expected ErrInvalidTTL, got %v", err)
	}
}
