package segment

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"

	"github.com/yndnr/meshstore/internal/core/domain"
	"github.com/yndnr/meshstore/internal/storage/record"
)

// DefaultSegmentSize is the default pre-allocated size of a segment file.
const DefaultSegmentSize int64 = 64 << 20 // 64MB

var (
	ErrManagerClosed = errors.New("segment: manager closed")
	errRemoveActive  = errors.New("segment: refusing to remove the active or newest segment")
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Dir string

	SegmentSize          int64
	MaxRecordsPerSegment int
	// MaxFrameBytes bounds torn-tail recovery; see OpenOptions.
	MaxFrameBytes int

	Logger *slog.Logger
}

// Manager owns the segment files of one directory: the sealed set,
// ordered by id, and the single active segment.
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	// mu serializes segment creation and rotation.
	mu     sync.Mutex
	nextID uint64

	active atomic.Pointer[Segment]
	sealed *skipmap.OrderedMap[uint64, *Segment]
	closed atomic.Bool
}

// OpenManager scans dir for segment files and opens them. Every file but
// the newest must be sealed or cleanly recoverable; the newest becomes the
// active segment unless it is sealed or has no room left.
func OpenManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("segment: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, DefaultDirPerm); err != nil {
		return nil, domain.ErrIO.Wrap(err).WithDetails("create segment dir")
	}
	if cfg.SegmentSize == 0 {
		cfg.SegmentSize = DefaultSegmentSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	m := &Manager{
		cfg:    cfg,
		logger: cfg.Logger,
		nextID: 1,
		sealed: skipmap.New[uint64, *Segment](),
	}

	ids, err := listSegmentIDs(cfg.Dir)
	if err != nil {
		return nil, domain.ErrIO.Wrap(err).WithDetails("list segments")
	}

	for i, id := range ids {
		newest := i == len(ids)-1
		if err := m.openOne(id, newest); err != nil {
			_ = m.Close()
			return nil, err
		}
	}
	if len(ids) > 0 {
		m.nextID = ids[len(ids)-1] + 1
	}
	return m, nil
}

func (m *Manager) openOne(id uint64, newest bool) error {
	path := filepath.Join(m.cfg.Dir, FileName(id))
	seg, info, err := Open(path, OpenOptions{
		Capacity:      m.cfg.SegmentSize,
		MaxRecords:    m.cfg.MaxRecordsPerSegment,
		MaxFrameBytes: m.cfg.MaxFrameBytes,
		AllowReinit:   newest,
	})
	if err != nil {
		return err
	}
	m.logRecovery(seg, info)

	if !newest && info.TornBytes > 0 {
		_ = seg.Close()
		return domain.ErrCorruptRecord.Detailf("segment %d: unreadable record at offset %d in a non-final segment", id, info.TornAt)
	}

	switch {
	case seg.IsSealed():
		m.sealed.Store(id, seg)
	case !newest || !seg.Fits(record.Size(1, 0)):
		// A crash during rotation, or a segment that filled up exactly.
		if err := seg.Seal(); err != nil {
			_ = seg.Close()
			return err
		}
		m.logger.Info("segment sealed on open", "segment_id", id, "data_bytes", seg.DataBytes())
		m.sealed.Store(id, seg)
	default:
		m.active.Store(seg)
	}
	return nil
}

func (m *Manager) logRecovery(seg *Segment, info RecoveryInfo) {
	if info.Reinit {
		m.logger.Warn("segment header re-initialized", "segment_id", seg.ID())
	}
	if info.Extended {
		m.logger.Warn("segment file was short, extended", "segment_id", seg.ID(), "capacity", seg.Capacity())
	}
	if info.TornBytes > 0 {
		m.logger.Warn("discarded incomplete trailing write",
			"segment_id", seg.ID(),
			"offset", info.TornAt,
			"bytes", info.TornBytes,
		)
	}
}

func listSegmentIDs(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var ids []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := ParseFileName(e.Name()); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Dir returns the managed directory.
func (m *Manager) Dir() string {
	return m.cfg.Dir
}

// Active returns the writable segment, creating one if none exists.
func (m *Manager) Active() (*Segment, error) {
	if s := m.active.Load(); s != nil {
		return s, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}
	if s := m.active.Load(); s != nil {
		return s, nil
	}
	s, err := m.createLocked()
	if err != nil {
		return nil, err
	}
	m.active.Store(s)
	return s, nil
}

// Rotate seals the active segment and installs a fresh one with the next
// id. Readers are never blocked: the old segment is visible in the sealed
// set before the new one replaces it as active.
func (m *Manager) Rotate() (*Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}

	if cur := m.active.Load(); cur != nil {
		if err := cur.Seal(); err != nil {
			return nil, fmt.Errorf("segment: seal %d: %w", cur.ID(), err)
		}
		m.sealed.Store(cur.ID(), cur)
	}

	s, err := m.createLocked()
	if err != nil {
		m.active.Store(nil)
		return nil, err
	}
	m.active.Store(s)
	m.logger.Debug("segment rotated", "segment_id", s.ID(), "sealed_count", m.sealed.Len())
	return s, nil
}

func (m *Manager) createLocked() (*Segment, error) {
	id := m.nextID
	s, err := Create(m.cfg.Dir, id, m.cfg.SegmentSize, m.cfg.MaxRecordsPerSegment)
	if err != nil {
		return nil, domain.ErrIO.Wrap(err).Detailf("create segment %d", id)
	}
	m.nextID = id + 1
	return s, nil
}

// ListSealed returns the sealed segments in ascending id order.
func (m *Manager) ListSealed() []*Segment {
	out := make([]*Segment, 0, m.sealed.Len())
	m.sealed.Range(func(_ uint64, s *Segment) bool {
		out = append(out, s)
		return true
	})
	return out
}

// All returns the sealed segments followed by the active one, if any.
func (m *Manager) All() []*Segment {
	out := m.ListSealed()
	if a := m.active.Load(); a != nil {
		out = append(out, a)
	}
	return out
}

// Get returns the segment with the given id.
func (m *Manager) Get(id uint64) (*Segment, bool) {
	if a := m.active.Load(); a != nil && a.ID() == id {
		return a, true
	}
	return m.sealed.Load(id)
}

// Remove unmaps and unlinks a sealed segment. The active segment, and any
// segment not older than it, is never removed so ids are never reused.
func (m *Manager) Remove(id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.active.Load()
	if a == nil || id >= a.ID() {
		return fmt.Errorf("%w: %d", errRemoveActive, id)
	}
	s, ok := m.sealed.LoadAndDelete(id)
	if !ok {
		return nil
	}
	if err := s.Close(); err != nil {
		m.logger.Warn("segment close failed", "segment_id", id, "error", err)
	}
	if err := os.Remove(s.Path()); err != nil && !os.IsNotExist(err) {
		return domain.ErrIO.Wrap(err).Detailf("remove segment %d", id)
	}
	if err := syncDir(m.cfg.Dir); err != nil {
		return domain.ErrIO.Wrap(err).WithDetails("sync segment dir")
	}
	m.logger.Info("segment removed", "segment_id", id)
	return nil
}

// SegmentCount returns the number of open segments.
func (m *Manager) SegmentCount() int {
	n := m.sealed.Len()
	if m.active.Load() != nil {
		n++
	}
	return n
}

// DiskUsage returns the summed file size of all segments.
func (m *Manager) DiskUsage() int64 {
	var total int64
	for _, s := range m.All() {
		total += s.Capacity()
	}
	return total
}

// Close syncs and unmaps every segment.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, s := range m.All() {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
