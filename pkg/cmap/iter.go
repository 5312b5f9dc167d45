// Package cmap provides a concurrent map keyed by strings.
package cmap

// Op tells Compute what to do with the entry after the callback returns.
type Op uint8

const (
	// OpKeep leaves the entry untouched.
	OpKeep Op = iota
	// OpStore stores the returned value.
	OpStore
	// OpDelete removes the entry.
	OpDelete
)

// Compute runs fn under the shard write lock and applies the returned Op.
//
// fn receives the current value and whether it exists. The value fn
// returns is only used with OpStore. Compute reports the value that was
// present before the call.
func (m *Map[K, V]) Compute(key K, fn func(current V, exists bool) (V, Op)) (prev V, existed bool) {
	shard := m.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	current, exists := shard.items[key]
	next, op := fn(current, exists)
	switch op {
	case OpStore:
		shard.items[key] = next
	case OpDelete:
		if exists {
			delete(shard.items, key)
		}
	}
	return current, exists
}

// Range iterates over all key-value pairs.
//
// The callback returns false to stop iteration. Shards are visited one at
// a time, so the view is not a consistent snapshot.
func (m *Map[K, V]) Range(fn func(key K, value V) bool) {
	for _, shard := range m.shards {
		shard.mu.RLock()
		for k, v := range shard.items {
			if !fn(k, v) {
				shard.mu.RUnlock()
				return
			}
		}
		shard.mu.RUnlock()
	}
}

// Entry is a key-value pair copied out of the map.
type Entry[K ~string, V any] struct {
	Key   K
	Value V
}

// Snapshot returns a point-in-time copy of the whole map.
//
// Every shard is read-locked, in index order, before any is copied, and
// all locks are held until the copy is complete. Writers block for the
// duration of the copy; readers do not.
func (m *Map[K, V]) Snapshot() []Entry[K, V] {
	for _, shard := range m.shards {
		shard.mu.RLock()
	}

	n := 0
	for _, shard := range m.shards {
		n += len(shard.items)
	}

	out := make([]Entry[K, V], 0, n)
	for _, shard := range m.shards {
		for k, v := range shard.items {
			out = append(out, Entry[K, V]{Key: k, Value: v})
		}
	}

	for i := len(m.shards) - 1; i >= 0; i-- {
		m.shards[i].mu.RUnlock()
	}
	return out
}
