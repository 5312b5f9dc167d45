package storage

import (
	"log/slog"
	"time"

	"github.com/yndnr/meshstore/internal/core/domain"
	"github.com/yndnr/meshstore/internal/storage/record"
	"github.com/yndnr/meshstore/internal/storage/segment"
	"github.com/yndnr/meshstore/pkg/crypto/adaptive"
)

// Durability selects when a put is considered committed.
type Durability string

const (
	// DurabilitySync msyncs every write before it returns. Survives power
	// loss.
	DurabilitySync Durability = "sync"

	// DurabilityBuffered returns after the index update and leaves flushing
	// to the background flusher. Survives a process crash only.
	DurabilityBuffered Durability = "buffered"
)

// ParseDurability parses a durability mode name.
func ParseDurability(s string) (Durability, error) {
	switch d := Durability(s); d {
	case DurabilitySync, DurabilityBuffered:
		return d, nil
	default:
		return "", domain.ErrInvalidArgument.Detailf("durability must be %q or %q, got %q", DurabilitySync, DurabilityBuffered, s)
	}
}

// Default configuration values.
const (
	DefaultSegmentSizeBytes         = segment.DefaultSegmentSize
	DefaultMaxPayloadBytes          = 4 << 20 // 4MB
	DefaultMaxIdentifierBytes       = 256
	DefaultCompactionThreshold      = 0.5
	DefaultSyncInterval             = time.Second
	DefaultCompactionInterval       = time.Duration(0)
	DefaultCompactionBytesPerSecond = int64(0)
)

// Options configures the engine.
type Options struct {
	// SegmentSizeBytes is the pre-allocated size of each segment file. It
	// must hold at least one record of maximum size.
	SegmentSizeBytes int64

	// Durability must be set explicitly; Open rejects an empty value.
	Durability Durability

	// MaxPayloadBytes bounds the plaintext payload of a put.
	MaxPayloadBytes int

	// MaxIdentifierBytes bounds identifier length.
	MaxIdentifierBytes int

	// MaxRecordsPerSegment rotates a segment after this many records.
	// 0 means no limit.
	MaxRecordsPerSegment int

	// CompactionThreshold is the live-bytes fraction below which a sealed
	// segment is compacted.
	CompactionThreshold float64

	// CompactionInterval runs compaction in the background. 0 disables it.
	CompactionInterval time.Duration

	// CompactionBytesPerSecond caps relocation throughput. 0 is unlimited.
	CompactionBytesPerSecond int64

	// SyncInterval is the flush period in buffered mode.
	SyncInterval time.Duration

	// Cipher seals payloads at rest, bound to their identifier. Optional.
	Cipher adaptive.Cipher

	Logger   *slog.Logger
	Observer Observer
}

// DefaultOptions returns the default options with the given durability.
func DefaultOptions(d Durability) Options {
	return Options{
		SegmentSizeBytes:    DefaultSegmentSizeBytes,
		Durability:          d,
		MaxPayloadBytes:     DefaultMaxPayloadBytes,
		MaxIdentifierBytes:  DefaultMaxIdentifierBytes,
		CompactionThreshold: DefaultCompactionThreshold,
		SyncInterval:        DefaultSyncInterval,
	}
}

func applyDefaults(o *Options) {
	if o.SegmentSizeBytes == 0 {
		o.SegmentSizeBytes = DefaultSegmentSizeBytes
	}
	if o.MaxPayloadBytes == 0 {
		o.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if o.MaxIdentifierBytes == 0 {
		o.MaxIdentifierBytes = DefaultMaxIdentifierBytes
	}
	if o.CompactionThreshold == 0 {
		o.CompactionThreshold = DefaultCompactionThreshold
	}
	if o.SyncInterval == 0 {
		o.SyncInterval = DefaultSyncInterval
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Observer == nil {
		o.Observer = NopObserver{}
	}
}

func (o *Options) validate() error {
	if _, err := ParseDurability(string(o.Durability)); err != nil {
		return err
	}
	if o.MaxPayloadBytes < 0 || o.MaxPayloadBytes > record.MaxPayloadLen {
		return domain.ErrInvalidArgument.Detailf("max_payload_bytes %d out of range", o.MaxPayloadBytes)
	}
	if o.MaxIdentifierBytes < 0 || o.MaxIdentifierBytes > domain.MaxIdentifierLen {
		return domain.ErrInvalidArgument.Detailf("max_identifier_bytes %d out of range", o.MaxIdentifierBytes)
	}
	if o.MaxRecordsPerSegment < 0 {
		return domain.ErrInvalidArgument.Detailf("max_records_per_segment %d is negative", o.MaxRecordsPerSegment)
	}
	if o.CompactionThreshold <= 0 || o.CompactionThreshold > 1 {
		return domain.ErrInvalidArgument.Detailf("compaction_threshold %v not in (0, 1]", o.CompactionThreshold)
	}
	if o.CompactionInterval < 0 || o.SyncInterval < 0 || o.CompactionBytesPerSecond < 0 {
		return domain.ErrInvalidArgument.WithDetails("intervals and rates must not be negative")
	}
	if need := int64(segment.HeaderSize + o.maxFrameSize()); o.SegmentSizeBytes < need {
		return domain.ErrInvalidArgument.Detailf("segment_size_bytes %d cannot hold a maximum record of %d bytes", o.SegmentSizeBytes, need)
	}
	return nil
}

// storedSize is the on-disk payload size for n plaintext bytes.
func (o *Options) storedSize(n int) int {
	if o.Cipher == nil {
		return n
	}
	return adaptive.SealedSize(o.Cipher, n)
}

func (o *Options) maxFrameSize() int {
	return record.Size(o.MaxIdentifierBytes, o.storedSize(o.MaxPayloadBytes))
}
