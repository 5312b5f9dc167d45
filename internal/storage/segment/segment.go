package segment

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/exp/mmap"

	"github.com/yndnr/meshstore/internal/core/domain"
	"github.com/yndnr/meshstore/internal/storage/record"
)

// Internal control signals. The storage engine absorbs them; they never
// reach its callers.
var (
	ErrSegmentFull   = errors.New("segment: full")
	ErrSegmentSealed = errors.New("segment: sealed")
	ErrOutOfRange    = errors.New("segment: read beyond durable length")
	ErrSegmentClosed = errors.New("segment: closed")
)

// region is a mapped view of a segment file.
type region interface {
	ReadAt(p []byte, off int64) (int, error)
	Len() int
	Close() error
}

// Segment is one append-only segment file.
//
// Reads are safe from any goroutine. Append, Sync and Seal are serialized
// internally; the storage engine additionally calls Append from a single
// goroutine at a time so that offsets follow sequence order.
type Segment struct {
	id        uint64
	path      string
	capacity  int64
	uid       ulid.ULID
	createdAt time.Time

	// mu guards the mapping lifetime: readers hold it shared, Close holds
	// it exclusively before unmapping.
	mu     sync.RWMutex
	region region
	rw     *writableRegion // nil when mapped read-only from disk
	closed bool

	// wmu serializes writers.
	wmu        sync.Mutex
	hdr        header
	syncedTo   int64
	lastRecord int64
	maxRecords int64

	cursor  atomic.Int64
	records atomic.Int64
	sealed  atomic.Bool

	liveBytes   atomic.Int64
	liveRecords atomic.Int64
}

// Create creates, pre-allocates and maps a new active segment.
func Create(dir string, id uint64, capacity int64, maxRecords int) (*Segment, error) {
	if capacity <= HeaderSize {
		return nil, fmt.Errorf("segment: capacity %d does not exceed header size", capacity)
	}
	path := filepath.Join(dir, FileName(id))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, DefaultFilePerm)
	if err != nil {
		return nil, fmt.Errorf("segment: create %s: %w", path, err)
	}
	defer f.Close()

	if err := truncateFile(f, capacity); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("segment: preallocate %s: %w", path, err)
	}
	rw, err := mapWritable(f, capacity)
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	s := &Segment{
		id:         id,
		path:       path,
		capacity:   capacity,
		region:     rw,
		rw:         rw,
		maxRecords: int64(maxRecords),
	}
	if err := s.initHeader(); err != nil {
		_ = rw.Close()
		_ = os.Remove(path)
		return nil, err
	}
	if err := syncDir(dir); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("segment: sync dir: %w", err)
	}
	return s, nil
}

func (s *Segment) initHeader() error {
	s.hdr = header{
		Version:   FormatVersion,
		SegmentID: s.id,
		CreatedAt: time.Now(),
		UID:       ulid.Make(),
	}
	s.uid = s.hdr.UID
	s.createdAt = s.hdr.CreatedAt
	s.hdr.marshal(s.rw.data[:HeaderSize])
	if err := s.rw.sync(0, HeaderSize); err != nil {
		return fmt.Errorf("segment: sync header %s: %w", s.path, err)
	}
	s.cursor.Store(HeaderSize)
	s.syncedTo = HeaderSize
	return nil
}

// OpenOptions controls how an existing segment file is opened.
type OpenOptions struct {
	// Capacity is the configured segment size. Unsealed files shorter than
	// this are extended with zeros.
	Capacity int64

	// MaxRecords caps the records an unsealed segment accepts. 0 means no cap.
	MaxRecords int

	// MaxFrameBytes is the largest frame the writer can produce. Recovery
	// never treats more than this many trailing bytes as one torn write.
	// 0 means no bound.
	MaxFrameBytes int

	// AllowReinit lets a file with an invalid header and an all-zero body
	// be re-initialized. Only the newest segment may have been left in that
	// state by a crash during creation.
	AllowReinit bool
}

// RecoveryInfo describes what Open had to repair.
type RecoveryInfo struct {
	Extended    bool  // file was shorter than its capacity
	Reinit      bool  // header was rewritten
	TornBytes   int64 // bytes zeroed past the last valid record
	TornAt      int64 // offset where the torn region started
	RecordCount int64 // valid records found in an unsealed file
}

// Open maps an existing segment file. Sealed files are mapped read-only
// and have their trailing record validated. Unsealed files are mapped
// read-write and their write cursor is recovered from the records.
func Open(path string, opts OpenOptions) (*Segment, RecoveryInfo, error) {
	var info RecoveryInfo
	id, ok := ParseFileName(path)
	if !ok {
		return nil, info, fmt.Errorf("segment: unexpected file name %q", path)
	}

	f, err := os.OpenFile(path, os.O_RDWR, DefaultFilePerm)
	if err != nil {
		return nil, info, fmt.Errorf("segment: open %s: %w", path, err)
	}
	defer f.Close()

	raw := make([]byte, HeaderSize)
	n, err := f.ReadAt(raw, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, info, fmt.Errorf("segment: read header %s: %w", path, err)
	}
	hdr, herr := parseHeader(raw[:n])
	if herr == nil && hdr.SegmentID != id {
		herr = fmt.Errorf("%w: id %d in file named for %d", errBadHeader, hdr.SegmentID, id)
	}
	if herr == nil && hdr.sealed() {
		s, err := openSealed(path, id, hdr)
		return s, info, err
	}

	st, err := f.Stat()
	if err != nil {
		return nil, info, fmt.Errorf("segment: stat %s: %w", path, err)
	}
	capacity := max(st.Size(), opts.Capacity)
	if capacity <= HeaderSize {
		capacity = max(opts.Capacity, HeaderSize+record.HeaderSize)
	}
	if st.Size() < capacity {
		if err := truncateFile(f, capacity); err != nil {
			return nil, info, fmt.Errorf("segment: extend %s: %w", path, err)
		}
		info.Extended = true
	}

	rw, err := mapWritable(f, capacity)
	if err != nil {
		return nil, info, err
	}
	s := &Segment{
		id:         id,
		path:       path,
		capacity:   capacity,
		region:     rw,
		rw:         rw,
		maxRecords: int64(opts.MaxRecords),
	}

	if herr != nil {
		if !opts.AllowReinit || firstNonZero(rw.data[HeaderSize:]) >= 0 {
			_ = rw.Close()
			return nil, info, domain.ErrCorruptRecord.Detailf("segment %d: %v", id, herr)
		}
		if err := s.initHeader(); err != nil {
			_ = rw.Close()
			return nil, info, err
		}
		info.Reinit = true
		return s, info, nil
	}

	s.hdr = hdr
	s.uid = hdr.UID
	s.createdAt = hdr.CreatedAt
	if err := s.recoverCursor(&info, opts.MaxFrameBytes); err != nil {
		_ = rw.Close()
		return nil, info, err
	}
	return s, info, nil
}

func openSealed(path string, id uint64, hdr header) (*Segment, error) {
	ra, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("segment: mmap %s: %w", path, err)
	}
	s := &Segment{
		id:         id,
		path:       path,
		capacity:   int64(ra.Len()),
		uid:        hdr.UID,
		createdAt:  hdr.CreatedAt,
		region:     ra,
		hdr:        hdr,
		lastRecord: hdr.LastRecord,
	}
	s.cursor.Store(hdr.DataEnd)
	s.syncedTo = hdr.DataEnd
	s.sealed.Store(true)

	if err := s.validateTail(); err != nil {
		_ = ra.Close()
		return nil, err
	}
	return s, nil
}

// validateTail checks that the sealed data range ends with exactly one
// well-formed record.
func (s *Segment) validateTail() error {
	end, last := s.hdr.DataEnd, s.hdr.LastRecord
	if end < HeaderSize || end > s.capacity {
		return domain.ErrCorruptRecord.Detailf("segment %d: data end %d outside file of %d bytes", s.id, end, s.capacity)
	}
	if end == HeaderSize {
		if last != 0 {
			return domain.ErrCorruptRecord.Detailf("segment %d: empty segment names last record %d", s.id, last)
		}
		return nil
	}
	if last < HeaderSize || end-last < record.HeaderSize {
		return domain.ErrCorruptRecord.Detailf("segment %d: last record offset %d invalid for data end %d", s.id, last, end)
	}
	buf := make([]byte, end-last)
	if _, err := s.region.ReadAt(buf, last); err != nil {
		return domain.ErrIO.Wrap(err).Detailf("segment %d: read tail", s.id)
	}
	_, n, err := record.Decode(buf)
	if err != nil {
		return fmt.Errorf("segment %d: trailing record at %d: %w", s.id, last, err)
	}
	if int64(n) != end-last {
		return domain.ErrCorruptRecord.Detailf("segment %d: trailing record ends at %d, want %d", s.id, last+int64(n), end)
	}
	return nil
}

// recoverCursor walks the records of an unsealed segment to find the
// write cursor. Walking stops at the end-of-data marker or at the first
// frame that fails to decode. Bytes past that point are a torn tail, and
// are zeroed, only if they could be a single interrupted write: they span
// at most one maximum frame and no valid frame starts inside them.
// Anything else is corruption and fails the open without touching the
// file.
func (s *Segment) recoverCursor(info *RecoveryInfo, maxFrame int) error {
	data := s.rw.data
	end := int64(len(data))
	off := int64(HeaderSize)
	var last, count int64

	for off < end {
		rest := data[off:]
		if _, n, err := record.Decode(rest); err == nil {
			last = off
			count++
			off += int64(n)
			continue
		}
		if size, err := record.FrameSize(rest); err == nil && size == 0 && firstNonZero(rest) < 0 {
			break
		}

		to, validAt, ok := s.tornTail(off, maxFrame)
		if !ok {
			if validAt > 0 {
				return domain.ErrCorruptRecord.Detailf("segment %d: unreadable record at offset %d is followed by a valid record at offset %d", s.id, off, validAt)
			}
			return domain.ErrCorruptRecord.Detailf("segment %d: unreadable record at offset %d is followed by %d bytes of data", s.id, off, to-off)
		}
		if err := s.zeroRange(off, to, info); err != nil {
			return err
		}
		info.TornAt = off
		break
	}

	s.cursor.Store(off)
	s.syncedTo = off
	s.lastRecord = last
	s.records.Store(count)
	info.RecordCount = count
	return nil
}

// tornTail inspects the bytes from off to the end of the file. It returns
// the end of the non-zero region, the offset of a valid frame found inside
// it, if any, and whether the region can be discarded as a torn write.
func (s *Segment) tornTail(off int64, maxFrame int) (to, validAt int64, ok bool) {
	data := s.rw.data
	lnz := lastNonZero(data[off:])
	if lnz < 0 {
		return off, 0, true
	}
	to = off + int64(lnz) + 1
	if maxFrame > 0 && to-off > int64(maxFrame) {
		return to, 0, false
	}
	for p := off + 1; p < to; p++ {
		h, err := record.DecodeHeader(data[p:])
		if err != nil || p+int64(h.Size) > int64(len(data)) {
			continue
		}
		if _, _, err := record.Decode(data[p:]); err == nil {
			return to, p, false
		}
	}
	return to, 0, true
}

func (s *Segment) zeroRange(from, to int64, info *RecoveryInfo) error {
	clear(s.rw.data[from:to])
	if err := s.rw.sync(from, to); err != nil {
		return domain.ErrIO.Wrap(err).Detailf("segment %d: zero torn tail", s.id)
	}
	info.TornBytes += to - from
	return nil
}

func firstNonZero(b []byte) int {
	for i, c := range b {
		if c != 0 {
			return i
		}
	}
	return -1
}

func lastNonZero(b []byte) int {
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] != 0 {
			return i
		}
	}
	return -1
}

// Append copies an encoded record at the write cursor and returns its
// offset. It fails with ErrSegmentFull when the record does not fit and
// with ErrSegmentSealed once the segment is sealed.
func (s *Segment) Append(frame []byte) (int64, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrSegmentClosed
	}
	if s.sealed.Load() {
		return 0, ErrSegmentSealed
	}
	if s.maxRecords > 0 && s.records.Load() >= s.maxRecords {
		return 0, ErrSegmentFull
	}

	off := s.cursor.Load()
	if off+int64(len(frame)) > s.capacity {
		return 0, ErrSegmentFull
	}
	copy(s.rw.data[off:], frame)
	s.lastRecord = off
	s.records.Add(1)
	s.cursor.Store(off + int64(len(frame)))
	return off, nil
}

// Fits reports whether a frame of n bytes can still be appended.
func (s *Segment) Fits(n int) bool {
	if s.sealed.Load() {
		return false
	}
	if s.maxRecords > 0 && s.records.Load() >= s.maxRecords {
		return false
	}
	return s.cursor.Load()+int64(n) <= s.capacity
}

// Room returns how many more bytes and records can be appended. Records
// is math.MaxInt64 when the segment has no record limit.
func (s *Segment) Room() (bytes, records int64) {
	if s.sealed.Load() {
		return 0, 0
	}
	records = math.MaxInt64
	if s.maxRecords > 0 {
		records = max(s.maxRecords-s.records.Load(), 0)
	}
	return s.capacity - s.cursor.Load(), records
}

// Read returns a copy of length bytes at offset. The range must lie
// within the written part of the segment.
func (s *Segment) Read(offset int64, length int) ([]byte, error) {
	if offset < HeaderSize || length < 0 || offset+int64(length) > s.cursor.Load() {
		return nil, fmt.Errorf("%w: segment %d offset %d length %d", ErrOutOfRange, s.id, offset, length)
	}
	buf := make([]byte, length)
	if err := s.readAt(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadRecord reads and decodes the record stored at offset. The checksum
// is verified before anything is returned.
func (s *Segment) ReadRecord(offset int64, length int) (*record.Record, error) {
	buf, err := s.Read(offset, length)
	if err != nil {
		return nil, err
	}
	rec, n, err := record.Decode(buf)
	if err != nil {
		return nil, fmt.Errorf("segment %d offset %d: %w", s.id, offset, err)
	}
	if n != length {
		return nil, domain.ErrCorruptRecord.Detailf("segment %d offset %d: frame of %d bytes, index says %d", s.id, offset, n, length)
	}
	return rec, nil
}

func (s *Segment) readAt(p []byte, off int64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSegmentClosed
	}
	if _, err := s.region.ReadAt(p, off); err != nil {
		return domain.ErrIO.Wrap(err).Detailf("segment %d offset %d", s.id, off)
	}
	return nil
}

// Sync flushes written but unsynced records to the file.
func (s *Segment) Sync() error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.syncLocked()
}

func (s *Segment) syncLocked() error {
	if s.rw == nil || s.sealed.Load() {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSegmentClosed
	}
	cur := s.cursor.Load()
	if cur <= s.syncedTo {
		return nil
	}
	if err := s.rw.sync(s.syncedTo, cur); err != nil {
		return domain.ErrIO.Wrap(err).Detailf("segment %d: msync", s.id)
	}
	s.syncedTo = cur
	return nil
}

// Seal flushes the segment, records the data end in its header and makes
// the mapping read-only. Sealing twice is a no-op.
func (s *Segment) Seal() error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if s.sealed.Load() {
		return nil
	}
	if err := s.syncLocked(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSegmentClosed
	}

	h := s.hdr
	h.Flags |= flagSealed
	h.DataEnd = s.cursor.Load()
	if h.DataEnd > HeaderSize {
		h.LastRecord = s.lastRecord
	}
	h.marshal(s.rw.data[:HeaderSize])
	if err := s.rw.sync(0, HeaderSize); err != nil {
		return domain.ErrIO.Wrap(err).Detailf("segment %d: sync header", s.id)
	}
	if err := s.rw.protectReadOnly(); err != nil {
		return domain.ErrIO.Wrap(err).Detailf("segment %d: mprotect", s.id)
	}
	s.hdr = h
	s.sealed.Store(true)
	return nil
}

// Close flushes an unsealed segment and unmaps it. It waits for in-flight
// reads; later reads fail with ErrSegmentClosed.
func (s *Segment) Close() error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	var err error
	if !s.isClosed() {
		err = s.syncLocked()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if cerr := s.region.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("segment %d: unmap: %w", s.id, cerr)
	}
	return err
}

func (s *Segment) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// ID returns the segment id.
func (s *Segment) ID() uint64 { return s.id }

// Path returns the segment file path.
func (s *Segment) Path() string { return s.path }

// UID returns the unique id stamped in the header at creation.
func (s *Segment) UID() ulid.ULID { return s.uid }

// CreatedAt returns the creation time recorded in the header.
func (s *Segment) CreatedAt() time.Time { return s.createdAt }

// Capacity returns the pre-allocated file size.
func (s *Segment) Capacity() int64 { return s.capacity }

// Cursor returns the offset one past the last written record.
func (s *Segment) Cursor() int64 { return s.cursor.Load() }

// DataBytes returns the number of record bytes written.
func (s *Segment) DataBytes() int64 { return s.cursor.Load() - HeaderSize }

// RecordCount returns the number of records appended to or recovered
// from an unsealed segment in this process. It is zero for segments that
// were already sealed on disk.
func (s *Segment) RecordCount() int64 { return s.records.Load() }

// IsSealed reports whether the segment is sealed.
func (s *Segment) IsSealed() bool { return s.sealed.Load() }

// LiveBytes returns the bytes of records still referenced by the index.
func (s *Segment) LiveBytes() int64 { return s.liveBytes.Load() }

// LiveRecords returns the number of records still referenced by the index.
func (s *Segment) LiveRecords() int64 { return s.liveRecords.Load() }

// AddLive adjusts the live accounting. Negative deltas release records.
func (s *Segment) AddLive(bytes, records int64) {
	s.liveBytes.Add(bytes)
	s.liveRecords.Add(records)
}

// LiveRatio returns LiveBytes over DataBytes, or 1 for an empty segment.
func (s *Segment) LiveRatio() float64 {
	data := s.DataBytes()
	if data <= 0 {
		return 1
	}
	return float64(s.LiveBytes()) / float64(data)
}
