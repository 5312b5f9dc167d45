package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/yndnr/meshstore/internal/core/domain"
	"github.com/yndnr/meshstore/internal/storage/index"
	"github.com/yndnr/meshstore/internal/storage/record"
	"github.com/yndnr/meshstore/internal/storage/segment"
)

// maxReadAttempts bounds how often Get follows an entry that compaction
// moved while the read was in flight.
const maxReadAttempts = 4

// Engine is the storage engine. It is safe for concurrent use.
type Engine struct {
	dir      string
	opts     Options
	logger   *slog.Logger
	observer Observer
	instance ulid.ULID

	segments *segment.Manager
	index    *index.Index

	// appendMu serializes sequence assignment, appends and index
	// publication. Readers never take it.
	appendMu sync.Mutex
	nextSeq  uint64

	dirty atomic.Bool
	// syncSegment flushes a segment after a sync-mode append.
	syncSegment func(*segment.Segment) error

	// compactMu allows one compaction at a time.
	compactMu sync.Mutex
	limiter   *rate.Limiter
	pins      pinSet

	puts        atomic.Uint64
	gets        atomic.Uint64
	deletes     atomic.Uint64
	compactions atomic.Uint64
	rotations   atomic.Uint64

	closed atomic.Bool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Open opens the engine on dir, creating it if needed, and rebuilds the
// index by replaying every segment.
func Open(dir string, opts Options) (*Engine, error) {
	if dir == "" {
		return nil, domain.ErrInvalidArgument.WithDetails("storage: dir is required")
	}
	applyDefaults(&opts)
	if err := opts.validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		dir:      dir,
		opts:     opts,
		observer: opts.Observer,
		instance: ulid.Make(),
		index:    index.New(),
		nextSeq:  1,
		stopCh:   make(chan struct{}),

		syncSegment: (*segment.Segment).Sync,
	}
	e.logger = opts.Logger.With("instance", e.instance.String())

	if bps := opts.CompactionBytesPerSecond; bps > 0 {
		burst := max(int(bps), opts.maxFrameSize())
		e.limiter = rate.NewLimiter(rate.Limit(bps), burst)
	}

	start := time.Now()
	e.logger.Info("storage open started", "dir", dir, "durability", opts.Durability)

	mgr, err := segment.OpenManager(segment.ManagerConfig{
		Dir:                  dir,
		SegmentSize:          opts.SegmentSizeBytes,
		MaxRecordsPerSegment: opts.MaxRecordsPerSegment,
		MaxFrameBytes:        opts.maxFrameSize(),
		Logger:               e.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open segments: %w", err)
	}
	e.segments = mgr

	if err := e.replay(); err != nil {
		_ = mgr.Close()
		return nil, fmt.Errorf("storage: replay: %w", err)
	}

	e.logger.Info("storage open completed",
		"elapsed", time.Since(start),
		"records", e.index.Len(),
		"segments", mgr.SegmentCount(),
		"next_seq", e.nextSeq,
	)

	e.startBackground()
	return e, nil
}

// Dir returns the data directory.
func (e *Engine) Dir() string {
	return e.dir
}

// Closed reports whether Close has been called.
func (e *Engine) Closed() bool {
	return e.closed.Load()
}

func (e *Engine) checkOpen() error {
	if e.closed.Load() {
		return domain.ErrEngineClosed
	}
	return nil
}

func (e *Engine) validateID(id []byte) error {
	if err := domain.ValidateIdentifier(id); err != nil {
		return err
	}
	if len(id) > e.opts.MaxIdentifierBytes {
		return domain.ErrInvalidIdentifier.Detailf("identifier is %d bytes, max %d", len(id), e.opts.MaxIdentifierBytes)
	}
	return nil
}

// Put stores payload under id and returns the sequence number assigned to
// the write. Every put produces a new record, even for identical bytes.
//
// If the sync-mode flush fails after the record was appended, the put is
// still applied: Put returns its sequence number together with an ErrIO
// error, and the record may or may not survive a crash.
func (e *Engine) Put(ctx context.Context, id, payload []byte) (seq uint64, err error) {
	start := time.Now()
	defer func() { e.observer.ObservePut(len(payload), time.Since(start), err) }()

	if err := e.checkOpen(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := e.validateID(id); err != nil {
		return 0, err
	}
	if len(payload) > e.opts.MaxPayloadBytes {
		return 0, domain.ErrPayloadTooLarge.Detailf("%d bytes, max %d", len(payload), e.opts.MaxPayloadBytes)
	}

	stored := payload
	if e.opts.Cipher != nil {
		stored, err = e.opts.Cipher.Encrypt(payload, id)
		if err != nil {
			return 0, fmt.Errorf("storage: seal payload: %w", err)
		}
	}

	e.appendMu.Lock()
	defer e.appendMu.Unlock()
	if err := e.checkOpen(); err != nil {
		return 0, err
	}

	seg, loc, err := e.appendLocked(record.KindPayload, id, stored)
	if seg == nil {
		return 0, err
	}
	prev, had, installed := e.index.Upsert(id, loc)
	if installed {
		seg.AddLive(int64(loc.Length), 1)
		if had {
			e.release(prev)
		}
	}
	e.puts.Add(1)
	return loc.Seq, err
}

// Get returns the payload stored under id, or domain.ErrNotFound. The
// record checksum is verified before anything is returned.
func (e *Engine) Get(ctx context.Context, id []byte) (payload []byte, err error) {
	start := time.Now()
	defer func() { e.observer.ObserveGet(len(payload), time.Since(start), err) }()

	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.validateID(id); err != nil {
		return nil, err
	}
	e.gets.Add(1)

	for attempt := 0; attempt < maxReadAttempts; attempt++ {
		loc, ok := e.index.Lookup(id)
		if !ok {
			return nil, domain.ErrNotFound
		}
		rec, err := e.readAt(loc)
		if errors.Is(err, errMoved) {
			if err := e.checkOpen(); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(rec.ID, id) {
			return nil, domain.ErrCorruptRecord.Detailf("segment %d offset %d holds identifier %s", loc.SegmentID, loc.Offset, domain.ShortID(rec.ID))
		}
		return e.openPayload(rec)
	}
	return nil, domain.ErrIO.Detailf("record %s kept moving during read", domain.ShortID(id))
}

var errMoved = errors.New("storage: record moved")

// readAt reads the record at loc. It returns errMoved when the segment was
// removed by a concurrent compaction.
func (e *Engine) readAt(loc index.Location) (*record.Record, error) {
	seg, ok := e.segments.Get(loc.SegmentID)
	if !ok {
		return nil, errMoved
	}
	rec, err := seg.ReadRecord(loc.Offset, loc.Length)
	switch {
	case err == nil:
	case errors.Is(err, segment.ErrSegmentClosed):
		return nil, errMoved
	case errors.Is(err, segment.ErrOutOfRange):
		return nil, domain.ErrCorruptRecord.Wrap(err)
	default:
		return nil, err
	}
	if rec.Seq != loc.Seq || rec.IsTombstone() {
		return nil, domain.ErrCorruptRecord.Detailf("segment %d offset %d: found %s seq %d, index says seq %d", loc.SegmentID, loc.Offset, rec.Kind, rec.Seq, loc.Seq)
	}
	return rec, nil
}

func (e *Engine) openPayload(rec *record.Record) ([]byte, error) {
	if e.opts.Cipher == nil {
		return rec.Payload, nil
	}
	plain, err := e.opts.Cipher.Decrypt(rec.Payload, rec.ID)
	if err != nil {
		return nil, domain.ErrCorruptRecord.Wrap(err).WithDetails("payload authentication failed")
	}
	return plain, nil
}

// Delete appends a tombstone for id and reports whether it was present.
// The tombstone is written even when id is absent, so a put racing with
// the delete can never be resurrected by replay. A failed sync-mode flush
// is reported like it is for Put.
func (e *Engine) Delete(ctx context.Context, id []byte) (found bool, err error) {
	start := time.Now()
	defer func() { e.observer.ObserveDelete(found, time.Since(start), err) }()

	if err := e.checkOpen(); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := e.validateID(id); err != nil {
		return false, err
	}

	e.appendMu.Lock()
	defer e.appendMu.Unlock()
	if err := e.checkOpen(); err != nil {
		return false, err
	}

	seg, loc, err := e.appendLocked(record.KindTombstone, id, nil)
	if seg == nil {
		return false, err
	}
	prev, removed := e.index.Remove(id, loc.Seq)
	if removed {
		e.release(prev)
	}
	e.deletes.Add(1)
	return removed, err
}

// Contains reports whether id has a live record.
func (e *Engine) Contains(ctx context.Context, id []byte) (bool, error) {
	if err := e.checkOpen(); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := e.validateID(id); err != nil {
		return false, err
	}
	return e.index.Contains(id), nil
}

// appendLocked encodes and appends one record with the next sequence
// number, rotating once if the active segment is full. In sync mode the
// record is msynced before returning. Callers hold appendMu and publish
// the returned location themselves. A non-nil segment means the record
// was appended, even when the error reports a failed flush.
func (e *Engine) appendLocked(kind record.Kind, id, payload []byte) (*segment.Segment, index.Location, error) {
	seq := e.nextSeq
	frame, err := record.Encode(&record.Record{Kind: kind, Seq: seq, ID: id, Payload: payload})
	if err != nil {
		return nil, index.Location{}, err
	}

	seg, err := e.segments.Active()
	if err != nil {
		return nil, index.Location{}, fmt.Errorf("storage: active segment: %w", err)
	}
	off, err := seg.Append(frame)
	if errors.Is(err, segment.ErrSegmentFull) || errors.Is(err, segment.ErrSegmentSealed) {
		seg, err = e.rotateLocked(seg)
		if err != nil {
			return nil, index.Location{}, err
		}
		off, err = seg.Append(frame)
	}
	if err != nil {
		return nil, index.Location{}, domain.ErrIO.Wrap(err).Detailf("append to segment %d", seg.ID())
	}
	e.nextSeq++

	loc := index.Location{
		SegmentID: seg.ID(),
		Offset:    off,
		Length:    len(frame),
		Seq:       seq,
	}

	// The frame is in the mapping and replay will find it whether or not
	// the flush worked, so a failed flush still hands back the location.
	if e.opts.Durability == DurabilitySync {
		if err := e.syncSegment(seg); err != nil {
			e.dirty.Store(true)
			return seg, loc, domain.ErrIO.Wrap(err).Detailf("record %d appended to segment %d but not flushed; it may be durable", seq, seg.ID())
		}
	} else {
		e.dirty.Store(true)
	}
	return seg, loc, nil
}

func (e *Engine) rotateLocked(full *segment.Segment) (*segment.Segment, error) {
	next, err := e.segments.Rotate()
	if err != nil {
		return nil, fmt.Errorf("storage: rotate: %w", err)
	}
	e.rotations.Add(1)
	e.observer.ObserveRotate(full.ID(), next.ID())
	e.logger.Info("segment sealed",
		"segment_id", full.ID(),
		"data_bytes", full.DataBytes(),
		"next_segment_id", next.ID(),
	)
	return next, nil
}

// release drops the live accounting of a superseded location.
func (e *Engine) release(loc index.Location) {
	if seg, ok := e.segments.Get(loc.SegmentID); ok {
		seg.AddLive(-int64(loc.Length), -1)
	}
}

// Sync flushes every unsealed segment.
func (e *Engine) Sync() error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	return e.syncAll()
}

func (e *Engine) syncAll() error {
	e.dirty.Store(false)
	var errs []error
	for _, seg := range e.segments.All() {
		if seg.IsSealed() {
			continue
		}
		if err := seg.Sync(); err != nil && !errors.Is(err, segment.ErrSegmentClosed) {
			e.dirty.Store(true)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops background work, flushes and unmaps every segment. Further
// operations fail with domain.ErrEngineClosed.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(e.stopCh)
	e.wg.Wait()

	e.compactMu.Lock()
	defer e.compactMu.Unlock()
	e.appendMu.Lock()
	defer e.appendMu.Unlock()

	err := e.segments.Close()
	if err != nil {
		e.logger.Error("storage close failed", "error", err)
		return fmt.Errorf("storage: close: %w", err)
	}
	e.logger.Info("storage closed", "records", e.index.Len())
	return nil
}

// startBackground launches the buffered-mode flusher and the periodic
// compactor.
func (e *Engine) startBackground() {
	if e.opts.Durability == DurabilityBuffered {
		e.wg.Add(1)
		go e.flushLoop()
	}
	if e.opts.CompactionInterval > 0 {
		e.wg.Add(1)
		go e.compactionLoop()
	}
}

func (e *Engine) flushLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.opts.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !e.dirty.Load() {
				continue
			}
			if err := e.syncAll(); err != nil {
				e.logger.Error("background sync failed", "error", err)
			}
		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) compactionLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.opts.CompactionInterval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-e.stopCh
		cancel()
	}()

	for {
		select {
		case <-ticker.C:
			res, err := e.Compact(ctx)
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, domain.ErrEngineClosed) {
				e.logger.Error("background compaction failed", "error", err)
				continue
			}
			if res.SegmentsCompacted > 0 {
				e.logger.Info("background compaction completed",
					"segments", res.SegmentsCompacted,
					"relocated", res.RecordsRelocated,
					"reclaimed_bytes", res.BytesReclaimed,
				)
			}
		case <-e.stopCh:
			return
		}
	}
}
