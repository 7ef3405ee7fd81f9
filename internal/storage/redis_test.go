package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewWithClient(client), mr
}

func TestIncrWindowCountsAndExpires(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := store.IncrWindow(ctx, "rl:10.0.0.1", time.Minute)
		if err != nil {
			t.Fatalf("incr failed: %v", err)
		}
		if got != want {
			t.Fatalf("expected count %d, got %d", want, got)
		}
	}

	// Window expiry resets the counter.
	mr.FastForward(2 * time.Minute)
	got, err := store.IncrWindow(ctx, "rl:10.0.0.1", time.Minute)
	if err != nil {
		t.Fatalf("incr after expiry failed: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected fresh window, got %d", got)
	}
}

func TestResetWindow(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.IncrWindow(ctx, "rl:x", time.Minute); err != nil {
		t.Fatalf("incr failed: %v", err)
	}
	if err := store.ResetWindow(ctx, "rl:x"); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	got, err := store.IncrWindow(ctx, "rl:x", time.Minute)
	if err != nil || got != 1 {
		t.Fatalf("expected fresh counter after reset, got %d, %v", got, err)
	}
}

func TestJSONRoundTripAndMiss(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	type snapshot struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	if err := store.SetJSON(ctx, "snap", snapshot{Name: "cardiology", Count: 4}, time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	var out snapshot
	if err := store.GetJSON(ctx, "snap", &out); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if out.Name != "cardiology" || out.Count != 4 {
		t.Fatalf("unexpected value: %#v", out)
	}

	if err := store.GetJSON(ctx, "absent", &out); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}
}
