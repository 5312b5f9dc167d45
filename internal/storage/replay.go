package storage

import (
	"fmt"
	"time"

	"github.com/yndnr/meshstore/internal/storage/index"
)

// replay rebuilds the index from every segment, sealed then active, oldest
// first, records in file order. Torn tails were already cut by the segment
// layer, so any decode failure here is corruption.
func (e *Engine) replay() error {
	start := time.Now()
	var (
		maxSeq     uint64
		records    int
		tombstones int
	)

	for _, seg := range e.segments.All() {
		it := seg.Records(0)
		for it.Next() {
			rec := it.Record()
			records++
			if rec.Seq > maxSeq {
				maxSeq = rec.Seq
			}

			if rec.IsTombstone() {
				tombstones++
				if prev, removed := e.index.Remove(rec.ID, rec.Seq); removed {
					e.release(prev)
				}
				continue
			}

			loc := index.Location{
				SegmentID: seg.ID(),
				Offset:    it.Offset(),
				Length:    it.Size(),
				Seq:       rec.Seq,
			}
			prev, had, installed := e.index.Upsert(rec.ID, loc)
			if !installed {
				continue
			}
			seg.AddLive(int64(loc.Length), 1)
			if had {
				e.release(prev)
			}
		}
		if err := it.Err(); err != nil {
			return fmt.Errorf("segment %d: %w", seg.ID(), err)
		}
	}

	e.nextSeq = maxSeq + 1
	if records > 0 {
		e.logger.Info("segments replayed",
			"records", records,
			"tombstones", tombstones,
			"live", e.index.Len(),
			"elapsed", time.Since(start),
		)
	}
	return nil
}
