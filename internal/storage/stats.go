package storage

import "time"

// SegmentStats describes one segment file.
type SegmentStats struct {
	ID          uint64    `json:"id" yaml:"id"`
	Sealed      bool      `json:"sealed" yaml:"sealed"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	Capacity    int64     `json:"capacity" yaml:"capacity"`
	DataBytes   int64     `json:"data_bytes" yaml:"data_bytes"`
	LiveBytes   int64     `json:"live_bytes" yaml:"live_bytes"`
	LiveRecords int64     `json:"live_records" yaml:"live_records"`
	LiveRatio   float64   `json:"live_ratio" yaml:"live_ratio"`
}

// Stats is a point-in-time summary of the engine.
type Stats struct {
	Instance   string     `json:"instance" yaml:"instance"`
	Dir        string     `json:"dir" yaml:"dir"`
	Durability Durability `json:"durability" yaml:"durability"`

	Records         int    `json:"records" yaml:"records"`
	NextSeq         uint64 `json:"next_seq" yaml:"next_seq"`
	ActiveSegmentID uint64 `json:"active_segment_id" yaml:"active_segment_id"`
	SealedSegments  int    `json:"sealed_segments" yaml:"sealed_segments"`

	DiskBytes        int64 `json:"disk_bytes" yaml:"disk_bytes"`
	DataBytes        int64 `json:"data_bytes" yaml:"data_bytes"`
	LiveBytes        int64 `json:"live_bytes" yaml:"live_bytes"`
	DeferredRemovals int   `json:"deferred_removals" yaml:"deferred_removals"`

	Puts        uint64 `json:"puts" yaml:"puts"`
	Gets        uint64 `json:"gets" yaml:"gets"`
	Deletes     uint64 `json:"deletes" yaml:"deletes"`
	Rotations   uint64 `json:"rotations" yaml:"rotations"`
	Compactions uint64 `json:"compactions" yaml:"compactions"`

	Segments []SegmentStats `json:"segments" yaml:"segments"`
}

// Stats returns current engine statistics.
func (e *Engine) Stats() Stats {
	e.appendMu.Lock()
	nextSeq := e.nextSeq
	e.appendMu.Unlock()

	st := Stats{
		Instance:         e.instance.String(),
		Dir:              e.dir,
		Durability:       e.opts.Durability,
		Records:          e.index.Len(),
		NextSeq:          nextSeq,
		DeferredRemovals: e.pins.pending(),
		Puts:             e.puts.Load(),
		Gets:             e.gets.Load(),
		Deletes:          e.deletes.Load(),
		Rotations:        e.rotations.Load(),
		Compactions:      e.compactions.Load(),
	}

	for _, seg := range e.segments.All() {
		ss := SegmentStats{
			ID:          seg.ID(),
			Sealed:      seg.IsSealed(),
			CreatedAt:   seg.CreatedAt(),
			Capacity:    seg.Capacity(),
			DataBytes:   seg.DataBytes(),
			LiveBytes:   seg.LiveBytes(),
			LiveRecords: seg.LiveRecords(),
			LiveRatio:   seg.LiveRatio(),
		}
		if ss.Sealed {
			st.SealedSegments++
		} else {
			st.ActiveSegmentID = ss.ID
		}
		st.DiskBytes += ss.Capacity
		st.DataBytes += ss.DataBytes
		st.LiveBytes += ss.LiveBytes
		st.Segments = append(st.Segments, ss)
	}
	return st
}

// DiskUsage returns the total size of the segment files.
func (e *Engine) DiskUsage() int64 {
	return e.segments.DiskUsage()
}
