package store

import (
	"context"
	"testing"
)

func TestMemory_PutGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, ok, _ := m.Get(ctx, "missing"); ok {
		t.Fatal("expected missing key to be absent")
	}

	if err := m.Put(ctx, "wf/1", []byte("hello")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	v, ok, err := m.Get(ctx, "wf/1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(v) != "hello" {
		t.Errorf("Get = %q, want hello", v)
	}
}

func TestMemory_ScanIsPrefixedAndSorted(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_ = m.Put(ctx, "wf/b", []byte("2"))
	_ = m.Put(ctx, "wf/a", []byte("1"))
	_ = m.Put(ctx, "reaper/x", []byte("3"))

	got, err := m.Scan(ctx, "wf/")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Scan returned %d entries, want 2", len(got))
	}
	if string(got[0]) != "1" || string(got[1]) != "2" {
		t.Errorf("Scan order = [%s, %s], want [1, 2]", got[0], got[1])
	}
}

func TestMemory_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Put(ctx, "k", []byte("v"))

	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatalf("second Delete should be a no-op: %v", err)
	}
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Error("key should be gone after Delete")
	}
}

func TestMemory_PutCopiesValue(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	buf := []byte("original")
	_ = m.Put(ctx, "k", buf)
	buf[0] = 'X'

	v, _, _ := m.Get(ctx, "k")
	if string(v) != "original" {
		t.Errorf("mutation of caller's buffer leaked into store: %q", v)
	}
}

func TestWithRetry_SucceedsEventually(t *testing.T) {
	attempts := 0
	err := WithRetry(func() error {
		attempts++
		if attempts < 3 {
			return context.DeadlineExceeded
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithRetry should succeed on 3rd attempt: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestWithRetry_ExhaustsAfterThreeAttempts(t *testing.T) {
	attempts := 0
	err := WithRetry(func() error {
		attempts++
		return context.DeadlineExceeded
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != maxPersistenceAttempts {
		t.Errorf("attempts = %d, want %d", attempts, maxPersistenceAttempts)
	}
}
