package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/yndnr/meshstore/internal/core/domain"
	"github.com/yndnr/meshstore/internal/storage/index"
)

// Iterator is a lazy, restartable scan over a point-in-time snapshot of the
// engine. It never blocks concurrent puts, gets or deletes.
//
//	it := engine.Scan(ctx)
//	defer it.Close()
//	for it.Next() {
//		use(it.ID(), it.Payload())
//	}
//	if err := it.Err(); err != nil { ... }
//
// While an iterator is open, compaction keeps the files it may read on
// disk. The iterator releases them when it is exhausted or closed.
type Iterator struct {
	e   *Engine
	ctx context.Context

	entries []index.Entry
	pos     int
	pinned  bool

	id      []byte
	payload []byte
	err     error
}

// Scan returns an iterator over every live record at the time of the call,
// in identifier order.
func (e *Engine) Scan(ctx context.Context) *Iterator {
	it := &Iterator{e: e, ctx: ctx}
	it.Reset()
	return it
}

// Reset restarts the iterator on a fresh snapshot.
func (it *Iterator) Reset() {
	it.release()
	it.entries, it.pos = nil, 0
	it.id, it.payload, it.err = nil, nil, nil

	if err := it.e.checkOpen(); err != nil {
		it.err = err
		return
	}
	// Pin before taking the snapshot so no segment the snapshot points
	// into can be unlinked.
	it.e.pins.pin()
	it.pinned = true
	it.entries = it.e.index.Snapshot()
}

// Next advances to the next record.
func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}
	if it.pos >= len(it.entries) {
		it.release()
		it.id, it.payload = nil, nil
		return false
	}
	if err := it.ctx.Err(); err != nil {
		it.fail(err)
		return false
	}
	if err := it.e.checkOpen(); err != nil {
		it.fail(err)
		return false
	}

	entry := it.entries[it.pos]
	it.pos++

	rec, err := it.e.readAt(entry.Location)
	if err != nil {
		if errors.Is(err, errMoved) {
			err = domain.ErrIO.Detailf("segment %d vanished during scan", entry.Location.SegmentID)
		}
		it.fail(err)
		return false
	}
	payload, err := it.e.openPayload(rec)
	if err != nil {
		it.fail(err)
		return false
	}
	it.id = entry.ID
	it.payload = payload
	return true
}

// ID returns the identifier of the current record.
func (it *Iterator) ID() []byte { return it.id }

// Payload returns the payload of the current record.
func (it *Iterator) Payload() []byte { return it.payload }

// Err returns the error that stopped the iteration, if any.
func (it *Iterator) Err() error { return it.err }

// Len returns the number of records in the snapshot.
func (it *Iterator) Len() int { return len(it.entries) }

// Close releases the snapshot. It is safe to call more than once.
func (it *Iterator) Close() error {
	it.release()
	it.entries = nil
	return nil
}

func (it *Iterator) fail(err error) {
	it.err = err
	it.release()
}

func (it *Iterator) release() {
	if !it.pinned {
		return
	}
	it.pinned = false
	if it.e.pins.unpin() {
		it.e.removeDeferred()
	}
}

// pinSet counts open iterators and holds the segments whose removal was
// deferred because an iterator might still read them.
type pinSet struct {
	mu       sync.Mutex
	n        int
	deferred []uint64
}

func (p *pinSet) pin() {
	p.mu.Lock()
	p.n++
	p.mu.Unlock()
}

// unpin reports whether the last pin was dropped with removals pending.
func (p *pinSet) unpin() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n--
	return p.n == 0 && len(p.deferred) > 0
}

// tryRemove returns true when no iterator is open. Otherwise it records
// id for later removal.
func (p *pinSet) tryRemove(id uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.n == 0 {
		return true
	}
	p.deferred = append(p.deferred, id)
	return false
}

// takeDeferred returns the pending removals if no iterator is open.
func (p *pinSet) takeDeferred() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.n > 0 || len(p.deferred) == 0 {
		return nil
	}
	ids := p.deferred
	p.deferred = nil
	return ids
}

func (p *pinSet) isDeferred(id uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range p.deferred {
		if d == id {
			return true
		}
	}
	return false
}

func (p *pinSet) pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.deferred)
}
