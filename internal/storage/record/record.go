package record

import (
	"bytes"
	"fmt"
)

// Kind tags a record as a payload write or a tombstone.
type Kind uint8

const (
	KindUnspecified Kind = iota
	KindPayload
	KindTombstone
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindPayload:
		return "payload"
	case KindTombstone:
		return "tombstone"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Record is one immutable entry of the log.
type Record struct {
	Kind    Kind
	Seq     uint64
	ID      []byte
	Payload []byte
}

// NewPayload creates a payload record.
func NewPayload(id, payload []byte, seq uint64) *Record {
	return &Record{
		Kind:    KindPayload,
		Seq:     seq,
		ID:      id,
		Payload: payload,
	}
}

// NewTombstone creates a tombstone record.
func NewTombstone(id []byte, seq uint64) *Record {
	return &Record{
		Kind: KindTombstone,
		Seq:  seq,
		ID:   id,
	}
}

// IsTombstone reports whether the record marks a deletion.
func (r *Record) IsTombstone() bool {
	return r.Kind == KindTombstone
}

// Size returns the encoded size of the record.
func (r *Record) Size() int {
	return Size(len(r.ID), len(r.Payload))
}

// Clone returns a deep copy whose slices do not alias the original.
func (r *Record) Clone() *Record {
	return &Record{
		Kind:    r.Kind,
		Seq:     r.Seq,
		ID:      bytes.Clone(r.ID),
		Payload: bytes.Clone(r.Payload),
	}
}
