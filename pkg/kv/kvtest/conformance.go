// Package kvtest provides conformance tests for kv.Store implementations
package kvtest

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/leafsii/lp-points/pkg/kv"
)

// StoreFactory creates a fresh Store instance for testing.
// Backends shared between runs should drop the test:* keys on t.Cleanup.
type StoreFactory func(t *testing.T) kv.Store

// RunConformanceTests runs all conformance tests against a Store implementation
func RunConformanceTests(t *testing.T, factory StoreFactory) {
	t.Run("StringOperations", func(t *testing.T) {
		testStringOperations(t, factory)
	})
	t.Run("HashOperations", func(t *testing.T) {
		testHashOperations(t, factory)
	})
	t.Run("HealthCheck", func(t *testing.T) {
		testHealthCheck(t, factory)
	})
}

type storeTest struct {
	name string
	test func(t *testing.T, store kv.Store)
}

func runAll(t *testing.T, factory StoreFactory, tests []storeTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			tt.test(t, store)
		})
	}
}

func testStringOperations(t *testing.T, factory StoreFactory) {
	runAll(t, factory, []storeTest{
		{"SetGet", testSetGet},
		{"GetNonExistent", testGetNonExistent},
		{"Overwrite", testOverwrite},
		{"SetWithTTL", testSetWithTTL},
	})
}

func testSetGet(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:string"
	value := []byte("hello world")

	// Set value
	err := store.Set(ctx, key, value)
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Get value
	result, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if !reflect.DeepEqual(result, value) {
		t.Fatalf("Expected %v, got %v", value, result)
	}
}

func testGetNonExistent(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:nonexistent"

	_, err := store.Get(ctx, key)
	if !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func testOverwrite(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:overwrite"

	if err := store.Set(ctx, key, []byte("first")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(ctx, key, []byte("second")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	result, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(result) != "second" {
		t.Fatalf("Expected %q, got %q", "second", result)
	}
}

func testSetWithTTL(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:ttl"
	value := []byte("expires")
	ttl := 100 * time.Millisecond

	// Set with TTL
	err := store.Set(ctx, key, value, ttl)
	if err != nil {
		t.Fatalf("Set with TTL failed: %v", err)
	}

	// Key should exist initially
	_, err = store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Expected key to exist initially, got %v", err)
	}

	// Wait for expiration
	time.Sleep(150 * time.Millisecond)

	// Key should be expired
	_, err = store.Get(ctx, key)
	if !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected key to be expired, got %v", err)
	}
}

func testHashOperations(t *testing.T, factory StoreFactory) {
	runAll(t, factory, []storeTest{
		{"HSetGet", testHSetGet},
		{"HGetAll", testHGetAll},
		{"HLen", testHLen},
		{"KeysAreIsolated", testHashKeysIsolated},
	})
}

func testHSetGet(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:hash"
	field := "field1"
	value := []byte("value1")

	// Set hash field
	err := store.HSet(ctx, key, field, value)
	if err != nil {
		t.Fatalf("HSet failed: %v", err)
	}

	// Get hash field
	result, err := store.HGet(ctx, key, field)
	if err != nil {
		t.Fatalf("HGet failed: %v", err)
	}

	if !reflect.DeepEqual(result, value) {
		t.Fatalf("Expected %v, got %v", value, result)
	}

	// Get non-existent field
	_, err = store.HGet(ctx, key, "nonexistent")
	if !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for non-existent field, got %v", err)
	}
}

func testHGetAll(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:hash-all"

	// Set multiple fields
	store.HSet(ctx, key, "field1", []byte("value1"))
	store.HSet(ctx, key, "field2", []byte("value2"))

	// Get all fields
	result, err := store.HGetAll(ctx, key)
	if err != nil {
		t.Fatalf("HGetAll failed: %v", err)
	}

	expected := map[string][]byte{
		"field1": []byte("value1"),
		"field2": []byte("value2"),
	}

	if !reflect.DeepEqual(result, expected) {
		t.Fatalf("Expected %v, got %v", expected, result)
	}

	// Get all for non-existent key
	_, err = store.HGetAll(ctx, "test:nonexistent-hash")
	if !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for non-existent key, got %v", err)
	}
}

func testHLen(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:hash-len"

	n, err := store.HLen(ctx, key)
	if err != nil {
		t.Fatalf("HLen failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("Expected 0 fields for missing hash, got %d", n)
	}

	store.HSet(ctx, key, "a", []byte("1"))
	store.HSet(ctx, key, "b", []byte("2"))
	store.HSet(ctx, key, "a", []byte("3"))

	n, err = store.HLen(ctx, key)
	if err != nil {
		t.Fatalf("HLen failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("Expected 2 fields, got %d", n)
	}
}

func testHashKeysIsolated(t *testing.T, store kv.Store) {
	ctx := context.Background()
	keyA, keyB := "test:hash-pool-a", "test:hash-pool-ab"

	store.HSet(ctx, keyA, "acct", []byte("a"))
	store.HSet(ctx, keyB, "acct", []byte("b"))

	all, err := store.HGetAll(ctx, keyA)
	if err != nil {
		t.Fatalf("HGetAll failed: %v", err)
	}
	if len(all) != 1 || string(all["acct"]) != "a" {
		t.Fatalf("Expected only the field stored under %s, got %v", keyA, all)
	}
}

func testHealthCheck(t *testing.T, factory StoreFactory) {
	store := factory(t)
	defer store.Close()

	ctx := context.Background()

	// Ping should not error for healthy store
	err := store.Ping(ctx)
	if err != nil {
		t.Fatalf("Ping failed for healthy store: %v", err)
	}
}
