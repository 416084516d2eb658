package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryGetSetDelete(t *testing.T) {
	m := NewMemory(time.Hour)
	defer m.Close()
	ctx := context.Background()

	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatalf("expected miss on empty cache")
	}

	if err := m.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := m.Get(ctx, "k")
	if err != nil || !ok || v != "v" {
		t.Fatalf("got (%q, %v, %v), want (v, true, nil)", v, ok, err)
	}

	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatalf("expected miss after delete")
	}
}

func TestMemoryExpiry(t *testing.T) {
	m := NewMemory(time.Hour)
	defer m.Close()
	ctx := context.Background()

	if err := m.Set(ctx, "k", "v", -time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatalf("expected expired entry to miss")
	}
}
