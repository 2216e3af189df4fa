package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leafsii/lp-points/pkg/kv"
	"github.com/leafsii/lp-points/pkg/kv/kvtest"
)

func TestMemoryStore(t *testing.T) {
	factory := func(t *testing.T) kv.Store {
		return New(0) // Disable janitor for deterministic tests
	}

	kvtest.RunConformanceTests(t, factory)
}

func TestMemoryStoreWithJanitor(t *testing.T) {
	// Test with a short janitor interval for faster cleanup testing
	store := New(10 * time.Millisecond)
	defer store.Close()

	ctx := context.Background()
	key := "test:janitor"
	value := []byte("test")

	// Set key with short TTL
	err := store.Set(ctx, key, value, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Key should exist initially
	_, err = store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Expected key to exist initially: %v", err)
	}

	// Wait for janitor to clean up
	time.Sleep(50 * time.Millisecond)

	// Key should be cleaned up by janitor
	_, err = store.Get(ctx, key)
	if !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected key to be cleaned up by janitor: %v", err)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewStore()
	defer store.Close()

	ctx := context.Background()
	value := []byte("abc")
	if err := store.HSet(ctx, "h", "f", value); err != nil {
		t.Fatalf("HSet failed: %v", err)
	}
	value[0] = 'z'

	got, err := store.HGet(ctx, "h", "f")
	if err != nil {
		t.Fatalf("HGet failed: %v", err)
	}
	if string(got) != "abc" {
		t.Fatalf("Expected stored value to be isolated from caller, got %q", got)
	}
}

func TestMemoryStoreCloseTwice(t *testing.T) {
	store := New(time.Millisecond)
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}
