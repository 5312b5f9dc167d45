package cmap

import (
	"fmt"
	"sync"
	"testing"
)

func store[V any](m *Map[string, V], key string, v V) {
	m.Compute(key, func(V, bool) (V, Op) { return v, OpStore })
}

func remove[V any](m *Map[string, V], key string) {
	m.Compute(key, func(cur V, _ bool) (V, Op) { return cur, OpDelete })
}

func TestNew(t *testing.T) {
	m := New[string, int]()
	if m == nil {
		t.Fatal("New() returned nil")
	}
	if len(m.shards) != DefaultShardCount || m.shardMask != DefaultShardCount-1 {
		t.Errorf("shards = %d mask = %d, want %d shards", len(m.shards), m.shardMask, DefaultShardCount)
	}
	if m.Count() != 0 {
		t.Errorf("Count() = %d, want 0", m.Count())
	}
}

func TestGetHasCount(t *testing.T) {
	m := New[string, int]()

	store(m, "key1", 100)
	store(m, "key2", 200)

	if val, ok := m.Get("key1"); !ok || val != 100 {
		t.Errorf("Get(key1) = (%d, %v), want (100, true)", val, ok)
	}
	if !m.Has("key2") {
		t.Error("Has(key2) = false, want true")
	}

	remove(m, "key1")
	if _, ok := m.Get("key1"); ok {
		t.Error("key1 should not exist after deletion")
	}
	remove(m, "nonexistent")

	if m.Count() != 1 {
		t.Errorf("Count() = %d, want 1", m.Count())
	}
}

func TestBinaryKeys(t *testing.T) {
	m := New[string, int]()
	k1 := string([]byte{0x00, 0xff, 0x10})
	k2 := string([]byte{0x00, 0xff, 0x11})

	store(m, k1, 1)
	store(m, k2, 2)

	if v, _ := m.Get(k1); v != 1 {
		t.Errorf("Get(k1) = %d, want 1", v)
	}
	if v, _ := m.Get(k2); v != 2 {
		t.Errorf("Get(k2) = %d, want 2", v)
	}
}

func TestKeysSpreadAcrossShards(t *testing.T) {
	m := New[string, int]()
	for i := 0; i < 1000; i++ {
		store(m, fmt.Sprintf("k%d", i), i)
	}

	used := 0
	for _, s := range m.shards {
		if len(s.items) > 0 {
			used++
		}
	}
	if used < DefaultShardCount/2 {
		t.Errorf("1000 keys landed in %d of %d shards", used, DefaultShardCount)
	}
}

func TestConcurrentAccess(t *testing.T) {
	m := New[string, int]()
	const goroutines = 16
	const perG = 500

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				key := fmt.Sprintf("g%d-k%d", g, i)
				store(m, key, i)
				if v, ok := m.Get(key); !ok || v != i {
					t.Errorf("Get(%s) = (%d, %v), want (%d, true)", key, v, ok, i)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	if m.Count() != goroutines*perG {
		t.Errorf("Count() = %d, want %d", m.Count(), goroutines*perG)
	}
}
