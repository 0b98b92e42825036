package session

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreCRUD(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.Put(ctx, &Session{}); err == nil {
		t.Fatalf("expected error for empty id")
	}

	s := New("s1", "")
	s.AddQuery("hi")
	if err := store.Put(ctx, s); err != nil {
		t.Fatalf("put: %v", err)
	}
	s.AddReply("mutated after put")

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Messages) != 1 {
		t.Fatalf("store must keep its own copy: %+v", got.Messages)
	}
	got.AddReply("mutated after get")
	again, _ := store.Get(ctx, "s1")
	if len(again.Messages) != 1 {
		t.Fatalf("store must return copies: %+v", again.Messages)
	}

	if err := store.Put(ctx, New("s2", "")); err != nil {
		t.Fatalf("put s2: %v", err)
	}
	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "s1"); !IsNotFound(err) {
		t.Fatalf("expected s1 deleted, got %v", err)
	}
	if err := store.DeleteAll(ctx); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store, got %d", store.Len())
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	now := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	s := New("s1", "")
	s.UpdatedAt = now.Unix()
	if err := store.Put(ctx, s); err != nil {
		t.Fatalf("put: %v", err)
	}
	now = now.Add(30 * time.Second)
	if _, err := store.Get(ctx, "s1"); err != nil {
		t.Fatalf("session should still be alive: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := store.Get(ctx, "s1"); !IsNotFound(err) {
		t.Fatalf("expected expired session, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expired session should be evicted")
	}
}
