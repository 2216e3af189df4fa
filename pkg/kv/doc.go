// Package kv provides a small Redis-like key-value store abstraction with in-memory
// and Redis-backed implementations.
//
// Account snapshots live in one hash per pool: the hash key names the pool and each
// field is an account address, so reading every account of a pool is a single HGetAll
// and no key scan or prefix match is involved.
//
// Example usage:
//
//	store, err := NewStoreFromConfig(Config{Backend: BackendMemory})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	ctx := context.Background()
//	if err := store.HSet(ctx, "points:snapshots:0xpool", "0xaccount", payload); err != nil {
//		log.Fatal(err)
//	}
//
//	value, err := store.HGet(ctx, "points:snapshots:0xpool", "0xaccount")
//	if errors.Is(err, ErrNotFound) {
//		log.Println("no snapshot yet")
//	}
//
// Backends register themselves from init functions; import pkg/kv/memory and
// pkg/kv/redis for their side effects before calling NewStoreFromConfig.
package kv
