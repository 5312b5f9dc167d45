// Package index maps record identifiers to their on-disk location.
//
// The index is a sharded concurrent map: identifiers hashing to different
// shards never contend. Every mutation is conditional on sequence numbers
// so that replay and live writes both converge on the newest record.
package index

import (
	"bytes"
	"sort"

	"github.com/yndnr/meshstore/pkg/cmap"
)

// Location is the position of the newest live record of an identifier.
type Location struct {
	SegmentID uint64
	Offset    int64
	Length    int
	Seq       uint64
}

// Entry is an identifier with its location, as copied by Snapshot.
type Entry struct {
	ID       []byte
	Location Location
}

// Index is the identifier to location map.
type Index struct {
	m *cmap.Map[string, Location]
}

// New creates an empty index.
func New() *Index {
	return &Index{m: cmap.New[string, Location]()}
}

// Lookup returns the location of id.
func (ix *Index) Lookup(id []byte) (Location, bool) {
	return ix.m.Get(string(id))
}

// Contains reports whether id has a live record.
func (ix *Index) Contains(id []byte) bool {
	return ix.m.Has(string(id))
}

// Upsert installs loc unless the existing entry has a greater or equal
// sequence number. It returns the entry that was replaced, if any.
func (ix *Index) Upsert(id []byte, loc Location) (prev Location, had bool, installed bool) {
	prev, had = ix.m.Compute(string(id), func(cur Location, exists bool) (Location, cmap.Op) {
		if exists && cur.Seq >= loc.Seq {
			return cur, cmap.OpKeep
		}
		installed = true
		return loc, cmap.OpStore
	})
	return prev, had, installed
}

// Remove applies a tombstone with the given sequence number. The entry is
// removed only if it is older than the tombstone.
func (ix *Index) Remove(id []byte, seq uint64) (prev Location, removed bool) {
	prev, _ = ix.m.Compute(string(id), func(cur Location, exists bool) (Location, cmap.Op) {
		if !exists || cur.Seq >= seq {
			return cur, cmap.OpKeep
		}
		removed = true
		return cur, cmap.OpDelete
	})
	return prev, removed
}

// Relocate swaps the entry of id from one location to another, only if it
// still equals from.
func (ix *Index) Relocate(id []byte, from, to Location) bool {
	swapped := false
	ix.m.Compute(string(id), func(cur Location, exists bool) (Location, cmap.Op) {
		if !exists || cur != from {
			return cur, cmap.OpKeep
		}
		swapped = true
		return to, cmap.OpStore
	})
	return swapped
}

// Snapshot returns a consistent point-in-time copy of the index, sorted
// by identifier.
func (ix *Index) Snapshot() []Entry {
	raw := ix.m.Snapshot()
	out := make([]Entry, len(raw))
	for i, e := range raw {
		out[i] = Entry{ID: []byte(e.Key), Location: e.Value}
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].ID, out[j].ID) < 0
	})
	return out
}

// Len returns the number of live identifiers.
func (ix *Index) Len() int {
	return ix.m.Count()
}

// ReferencesSegment reports whether any entry points into segment segID.
// Shards are scanned one at a time; callers that need a stable answer must
// exclude concurrent writers.
func (ix *Index) ReferencesSegment(segID uint64) bool {
	found := false
	ix.m.Range(func(_ string, loc Location) bool {
		if loc.SegmentID == segID {
			found = true
			return false
		}
		return true
	})
	return found
}
