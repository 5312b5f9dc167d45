// Package cmap provides a concurrent map keyed by strings.
//
// The map is split into a power-of-two number of shards, each guarded by
// its own RWMutex, so operations on distinct keys rarely contend:
//
//   - Sharding: murmur3 hash of the key selects the shard
//   - Fine-grained Locking: per-shard RWMutex
//   - Conditional Updates: Compute decides store/keep/delete under the shard lock
//   - Snapshots: Snapshot read-locks every shard at once for a point-in-time copy
//
// Usage:
//
//	m := cmap.New[string, Location]()
//	m.Set("key", loc)
//	val, ok := m.Get("key")
//
// All operations are safe for concurrent use.
package cmap
