package segment

import (
	"fmt"

	"github.com/yndnr/meshstore/internal/core/domain"
	"github.com/yndnr/meshstore/internal/storage/record"
)

// Iterator walks the records of a segment in file order.
//
//	it := seg.Records(segment.HeaderSize)
//	for it.Next() {
//		rec, off, size := it.Record(), it.Offset(), it.Size()
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator struct {
	seg *Segment
	off int64
	end int64

	rec  *record.Record
	at   int64
	size int
	err  error
}

// Records returns an iterator over the records written before the call,
// starting at offset from. Offsets below HeaderSize start at the first
// record.
func (s *Segment) Records(from int64) *Iterator {
	if from < HeaderSize {
		from = HeaderSize
	}
	return &Iterator{seg: s, off: from, end: s.cursor.Load()}
}

// Next advances to the next record. It returns false at the end of the
// written range or on error.
func (it *Iterator) Next() bool {
	if it.err != nil || it.off >= it.end {
		it.rec = nil
		return false
	}

	if it.off+record.HeaderSize > it.end {
		it.err = domain.ErrCorruptRecord.Detailf("segment %d offset %d: %d trailing bytes are shorter than a frame header", it.seg.id, it.off, it.end-it.off)
		return false
	}
	var hb [record.HeaderSize]byte
	if err := it.seg.readAt(hb[:], it.off); err != nil {
		it.err = err
		return false
	}
	h, err := record.DecodeHeader(hb[:])
	if err != nil {
		it.err = fmt.Errorf("segment %d offset %d: %w", it.seg.id, it.off, err)
		return false
	}
	if it.off+int64(h.Size) > it.end {
		it.err = domain.ErrCorruptRecord.Detailf("segment %d offset %d: frame of %d bytes crosses data end %d", it.seg.id, it.off, h.Size, it.end)
		return false
	}

	buf := make([]byte, h.Size)
	if err := it.seg.readAt(buf, it.off); err != nil {
		it.err = err
		return false
	}
	rec, n, err := record.Decode(buf)
	if err != nil {
		it.err = fmt.Errorf("segment %d offset %d: %w", it.seg.id, it.off, err)
		return false
	}

	it.rec = rec
	it.at = it.off
	it.size = n
	it.off += int64(n)
	return true
}

// Record returns the current record. Its slices are owned by the caller.
func (it *Iterator) Record() *record.Record { return it.rec }

// Offset returns the offset of the current record.
func (it *Iterator) Offset() int64 { return it.at }

// Size returns the encoded size of the current record.
func (it *Iterator) Size() int { return it.size }

// Err returns the error that stopped the iteration, if any.
func (it *Iterator) Err() error { return it.err }
