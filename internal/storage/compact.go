package storage

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/yndnr/meshstore/internal/storage/index"
	"github.com/yndnr/meshstore/internal/storage/record"
	"github.com/yndnr/meshstore/internal/storage/segment"
)

// CompactionResult summarizes one compaction run.
type CompactionResult struct {
	SegmentsCompacted int   `json:"segments_compacted" yaml:"segments_compacted"`
	RecordsRelocated  int   `json:"records_relocated" yaml:"records_relocated"`
	TombstonesCarried int   `json:"tombstones_carried" yaml:"tombstones_carried"`
	BytesReclaimed    int64 `json:"bytes_reclaimed" yaml:"bytes_reclaimed"`
	Deferred          int   `json:"deferred" yaml:"deferred"`
}

// Compact relocates the live records of every sealed segment whose live
// fraction is below the compaction threshold into the active segment, then
// unlinks the emptied segments.
//
// Relocated records get fresh sequence numbers. A segment is unlinked only
// after its relocated copies are flushed and the index no longer points
// into it; if a scan is open the unlink is deferred until it finishes.
func (e *Engine) Compact(ctx context.Context) (res CompactionResult, err error) {
	start := time.Now()
	defer func() { e.observer.ObserveCompaction(res, time.Since(start), err) }()

	if err := e.checkOpen(); err != nil {
		return res, err
	}
	e.compactMu.Lock()
	defer e.compactMu.Unlock()
	if err := e.checkOpen(); err != nil {
		return res, err
	}

	// The active segment must exist before anything is unlinked, so the
	// highest id on disk is always the highest id ever allocated.
	active, err := e.segments.Active()
	if err != nil {
		return res, fmt.Errorf("storage: compact: %w", err)
	}
	reclaimed := e.removeDeferredLocked()
	var grown int64
	defer func() { res.BytesReclaimed = max(reclaimed-grown, 0) }()

	for _, seg := range e.planCompaction(active) {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		moved, err := e.compactSegment(ctx, seg)
		res.RecordsRelocated += moved.relocated
		res.TombstonesCarried += moved.carried
		grown += moved.grown
		if err != nil {
			return res, fmt.Errorf("storage: compact segment %d: %w", seg.ID(), err)
		}

		size, deferred, err := e.retire(seg)
		if err != nil {
			return res, fmt.Errorf("storage: retire segment %d: %w", seg.ID(), err)
		}
		res.SegmentsCompacted++
		reclaimed += size
		if deferred {
			res.Deferred++
		}
		e.logger.Debug("segment compacted",
			"segment_id", seg.ID(),
			"relocated", moved.relocated,
			"tombstones_carried", moved.carried,
			"deferred", deferred,
		)
	}

	if res.SegmentsCompacted > 0 {
		e.compactions.Add(1)
		e.logger.Info("compaction completed",
			"segments", res.SegmentsCompacted,
			"relocated", res.RecordsRelocated,
			"reclaimed_bytes", max(reclaimed-grown, 0),
			"elapsed", time.Since(start),
		)
	}
	return res, nil
}

// planCompaction picks the sealed segments worth compacting. Segments
// whose live records fit the room left in the active segment always
// qualify. The others would force a rotation, so they qualify together
// only if one fresh segment holds all their live records and unlinking
// them frees more than that segment occupies.
func (e *Engine) planCompaction(active *segment.Segment) []*segment.Segment {
	roomBytes, roomRecords := active.Room()

	var plan, spill []*segment.Segment
	var spillBytes, spillRecords, spillCapacity int64
	for _, seg := range e.segments.ListSealed() {
		if !e.compactable(seg) {
			continue
		}
		b, r := seg.LiveBytes(), seg.LiveRecords()
		if b <= roomBytes && r <= roomRecords {
			plan = append(plan, seg)
			roomBytes -= b
			roomRecords -= r
			continue
		}
		spill = append(spill, seg)
		spillBytes += b
		spillRecords += r
		spillCapacity += seg.Capacity()
	}
	if len(spill) == 0 {
		return plan
	}

	freshBytes := e.opts.SegmentSizeBytes - segment.HeaderSize
	freshRecords := int64(e.opts.MaxRecordsPerSegment)
	if freshRecords == 0 {
		freshRecords = math.MaxInt64
	}
	if spillBytes > freshBytes || spillRecords > freshRecords || spillCapacity <= e.opts.SegmentSizeBytes {
		e.logger.Debug("compaction skipped segments that would not shrink the store",
			"segments", len(spill),
			"live_bytes", spillBytes,
		)
		return plan
	}
	return append(plan, spill...)
}

func (e *Engine) compactable(seg *segment.Segment) bool {
	if !seg.IsSealed() || e.pins.isDeferred(seg.ID()) {
		return false
	}
	return seg.DataBytes() == 0 || seg.LiveRatio() < e.opts.CompactionThreshold
}

// segmentMove counts what compacting one segment wrote elsewhere.
type segmentMove struct {
	relocated int
	carried   int
	grown     int64 // capacity of segments created by rotations
}

// compactSegment moves every record of seg that is still live to the
// active segment. Tombstones are carried forward while an older segment
// might still hold the record they delete.
func (e *Engine) compactSegment(ctx context.Context, seg *segment.Segment) (moved segmentMove, err error) {
	olderExists := e.hasOlderSegment(seg.ID())

	it := seg.Records(0)
	for it.Next() {
		if err := e.throttle(ctx, it.Size()); err != nil {
			return moved, err
		}
		rec := it.Record()

		if rec.IsTombstone() {
			if !olderExists {
				continue
			}
			ok, grown, err := e.carryTombstone(rec.ID)
			moved.grown += grown
			if ok {
				moved.carried++
			}
			if err != nil {
				return moved, err
			}
			continue
		}

		ok, grown, err := e.relocate(rec, seg.ID(), it.Offset())
		moved.grown += grown
		if ok {
			moved.relocated++
		}
		if err != nil {
			return moved, err
		}
	}
	return moved, it.Err()
}

func (e *Engine) throttle(ctx context.Context, n int) error {
	if e.limiter == nil {
		return ctx.Err()
	}
	return e.limiter.WaitN(ctx, min(n, e.limiter.Burst()))
}

func (e *Engine) hasOlderSegment(id uint64) bool {
	sealed := e.segments.ListSealed()
	return len(sealed) > 0 && sealed[0].ID() < id
}

// relocate re-appends rec if the index still points at its old position.
// Holding appendMu makes the check, the append and the swap atomic with
// respect to puts and deletes. grown is the capacity of a segment the
// append had to rotate into.
func (e *Engine) relocate(rec *record.Record, segID uint64, off int64) (ok bool, grown int64, err error) {
	e.appendMu.Lock()
	defer e.appendMu.Unlock()
	if err := e.checkOpen(); err != nil {
		return false, 0, err
	}

	cur, found := e.index.Lookup(rec.ID)
	if !found || cur.SegmentID != segID || cur.Offset != off {
		return false, 0, nil
	}

	dst, loc, grown, err := e.appendTracked(record.KindPayload, rec.ID, rec.Payload)
	if dst == nil {
		return false, grown, err
	}
	if !e.index.Relocate(rec.ID, cur, loc) {
		return false, grown, err
	}
	dst.AddLive(int64(loc.Length), 1)
	e.release(cur)
	return true, grown, err
}

func (e *Engine) carryTombstone(id []byte) (ok bool, grown int64, err error) {
	e.appendMu.Lock()
	defer e.appendMu.Unlock()
	if err := e.checkOpen(); err != nil {
		return false, 0, err
	}
	if e.index.Contains(id) {
		return false, 0, nil
	}
	dst, _, grown, err := e.appendTracked(record.KindTombstone, id, nil)
	return dst != nil, grown, err
}

// appendTracked is appendLocked for compaction. It also reports the size
// of the segment it rotated into, if it rotated.
func (e *Engine) appendTracked(kind record.Kind, id, payload []byte) (*segment.Segment, index.Location, int64, error) {
	rotations := e.rotations.Load()
	dst, loc, err := e.appendLocked(kind, id, payload)
	var grown int64
	if e.rotations.Load() != rotations {
		grown = e.opts.SegmentSizeBytes
	}
	return dst, loc, grown, err
}

// retire unlinks a compacted segment, or defers the unlink while a scan
// is open.
func (e *Engine) retire(seg *segment.Segment) (reclaimed int64, deferred bool, err error) {
	if err := e.syncAll(); err != nil {
		return 0, false, err
	}

	e.appendMu.Lock()
	referenced := e.index.ReferencesSegment(seg.ID())
	e.appendMu.Unlock()
	if referenced {
		return 0, false, fmt.Errorf("index still references segment %d", seg.ID())
	}

	if !e.pins.tryRemove(seg.ID()) {
		return 0, true, nil
	}
	size := seg.Capacity()
	if err := e.segments.Remove(seg.ID()); err != nil {
		return 0, false, err
	}
	return size, false, nil
}

// removeDeferred unlinks segments whose removal waited for scans. It is a
// no-op while a compaction is running; that compaction picks them up.
func (e *Engine) removeDeferred() {
	if !e.compactMu.TryLock() {
		return
	}
	defer e.compactMu.Unlock()
	if e.closed.Load() {
		return
	}
	e.removeDeferredLocked()
}

func (e *Engine) removeDeferredLocked() int64 {
	var reclaimed int64
	for _, id := range e.pins.takeDeferred() {
		seg, ok := e.segments.Get(id)
		if !ok {
			continue
		}
		size := seg.Capacity()
		if err := e.segments.Remove(id); err != nil {
			e.logger.Warn("deferred segment removal failed", "segment_id", id, "error", err)
			continue
		}
		reclaimed += size
	}
	return reclaimed
}
