package record

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/yndnr/meshstore/internal/core/domain"
)

// Frame layout constants.
const (
	lengthSize   = 4
	checksumSize = 4

	// HeaderSize is the fixed part of a frame:
	// frame_len(4) + crc(4) + kind(1) + seq(8) + id_len(2) + payload_len(4).
	HeaderSize = lengthSize + checksumSize + 1 + 8 + 2 + 4

	// MaxPayloadLen is the largest payload the frame can describe.
	MaxPayloadLen = 1<<32 - 1 - HeaderSize - domain.MaxIdentifierLen
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func crc32Checksum(b []byte) uint32 {
	return crc32.Checksum(b, castagnoli)
}

// Size returns the encoded size of a record with the given field lengths.
func Size(idLen, payloadLen int) int {
	return HeaderSize + idLen + payloadLen
}

// Encode serializes a record into a new buffer.
func Encode(r *Record) ([]byte, error) {
	return AppendEncode(make([]byte, 0, r.Size()), r)
}

// AppendEncode appends the encoded frame of r to dst.
func AppendEncode(dst []byte, r *Record) ([]byte, error) {
	if r == nil {
		return nil, domain.ErrInvalidArgument.WithDetails("record is nil")
	}
	switch r.Kind {
	case KindPayload:
	case KindTombstone:
		if len(r.Payload) != 0 {
			return nil, domain.ErrInvalidArgument.WithDetails("tombstone carries a payload")
		}
	default:
		return nil, domain.ErrInvalidArgument.Detailf("unknown record kind %d", r.Kind)
	}
	if err := domain.ValidateIdentifier(r.ID); err != nil {
		return nil, err
	}
	if len(r.Payload) > MaxPayloadLen {
		return nil, domain.ErrPayloadTooLarge.Detailf("%d bytes", len(r.Payload))
	}

	start := len(dst)
	size := r.Size()
	dst = append(dst, make([]byte, size)...)
	frame := dst[start:]

	binary.LittleEndian.PutUint32(frame[0:4], uint32(size-lengthSize))
	frame[8] = byte(r.Kind)
	binary.LittleEndian.PutUint64(frame[9:17], r.Seq)
	binary.LittleEndian.PutUint16(frame[17:19], uint16(len(r.ID)))
	binary.LittleEndian.PutUint32(frame[19:23], uint32(len(r.Payload)))
	copy(frame[HeaderSize:], r.ID)
	copy(frame[HeaderSize+len(r.ID):], r.Payload)

	crc := crc32Checksum(frame[lengthSize+checksumSize:])
	binary.LittleEndian.PutUint32(frame[4:8], crc)
	return dst, nil
}

// FrameSize reads the length prefix at the start of buf and returns the
// total size of the frame it announces. A zero result means buf starts at
// the end-of-data marker.
func FrameSize(buf []byte) (int, error) {
	if len(buf) < lengthSize {
		return 0, domain.ErrCorruptRecord.WithDetails("truncated length prefix")
	}
	n := binary.LittleEndian.Uint32(buf[:lengthSize])
	if n == 0 {
		return 0, nil
	}
	return lengthSize + int(n), nil
}

// Header is the fixed part of a frame.
type Header struct {
	Size       int // total frame size including the length prefix
	Checksum   uint32
	Kind       Kind
	Seq        uint64
	IDLen      int
	PayloadLen int
}

// DecodeHeader parses the fixed header at the start of buf and checks that
// its fields agree with each other. It does not read the identifier or the
// payload and does not verify the checksum, so a frame that passes may
// still fail Decode.
func DecodeHeader(buf []byte) (Header, error) {
	size, err := FrameSize(buf)
	if err != nil {
		return Header{}, err
	}
	if size == 0 {
		return Header{}, domain.ErrCorruptRecord.WithDetails("empty frame")
	}
	if size < HeaderSize {
		return Header{}, domain.ErrCorruptRecord.Detailf("frame of %d bytes is shorter than header", size)
	}
	if len(buf) < HeaderSize {
		return Header{}, domain.ErrCorruptRecord.Detailf("truncated header: %d bytes", len(buf))
	}

	h := Header{
		Size:       size,
		Checksum:   binary.LittleEndian.Uint32(buf[4:8]),
		Kind:       Kind(buf[8]),
		Seq:        binary.LittleEndian.Uint64(buf[9:17]),
		IDLen:      int(binary.LittleEndian.Uint16(buf[17:19])),
		PayloadLen: int(binary.LittleEndian.Uint32(buf[19:23])),
	}
	if Size(h.IDLen, h.PayloadLen) != size {
		return Header{}, domain.ErrCorruptRecord.Detailf("inner lengths id=%d payload=%d disagree with frame of %d", h.IDLen, h.PayloadLen, size)
	}
	if h.IDLen == 0 {
		return Header{}, domain.ErrCorruptRecord.WithDetails("empty identifier")
	}
	switch h.Kind {
	case KindPayload:
	case KindTombstone:
		if h.PayloadLen != 0 {
			return Header{}, domain.ErrCorruptRecord.WithDetails("tombstone carries a payload")
		}
	default:
		return Header{}, domain.ErrCorruptRecord.Detailf("unknown kind %d", h.Kind)
	}
	return h, nil
}

// Decode validates and parses the frame at the start of buf.
//
// It returns the record and the number of bytes the frame occupies. The
// returned ID and Payload alias buf; use Record.Clone to retain them
// beyond the lifetime of buf.
func Decode(buf []byte) (*Record, int, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return nil, 0, err
	}
	if h.Size > len(buf) {
		return nil, 0, domain.ErrCorruptRecord.Detailf("declared length %d exceeds buffer of %d", h.Size, len(buf))
	}
	frame := buf[:h.Size]
	if got := crc32Checksum(frame[lengthSize+checksumSize:]); got != h.Checksum {
		return nil, 0, domain.ErrCorruptRecord.Detailf("checksum mismatch: got %08x, want %08x", got, h.Checksum)
	}

	r := &Record{
		Kind:    h.Kind,
		Seq:     h.Seq,
		ID:      frame[HeaderSize : HeaderSize+h.IDLen],
		Payload: frame[HeaderSize+h.IDLen : h.Size],
	}
	return r, h.Size, nil
}
