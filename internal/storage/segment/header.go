package segment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// File format constants.
const (
	FilePrefix    = "seg-"
	FileExtension = ".dat"
	Magic         = "MSHSEG01"
	FormatVersion = 1

	// HeaderSize is the fixed size of the segment header. The first record
	// starts at this offset.
	HeaderSize = 64

	DefaultFilePerm = 0600
	DefaultDirPerm  = 0750
)

const flagSealed uint16 = 1 << 0

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

var errBadHeader = errors.New("segment: invalid header")

// header layout:
//
//	0  magic[8]
//	8  version:2
//	10 flags:2
//	12 segment_id:8
//	20 created_at:8 (unix ms)
//	28 uid:16
//	44 data_end:8
//	52 last_record:8
//	60 header_crc:4
type header struct {
	Version    uint16
	Flags      uint16
	SegmentID  uint64
	CreatedAt  time.Time
	UID        ulid.ULID
	DataEnd    int64
	LastRecord int64
}

func (h *header) sealed() bool {
	return h.Flags&flagSealed != 0
}

func (h *header) marshal(dst []byte) {
	_ = dst[HeaderSize-1]
	copy(dst[0:8], Magic)
	binary.LittleEndian.PutUint16(dst[8:10], h.Version)
	binary.LittleEndian.PutUint16(dst[10:12], h.Flags)
	binary.LittleEndian.PutUint64(dst[12:20], h.SegmentID)
	binary.LittleEndian.PutUint64(dst[20:28], uint64(h.CreatedAt.UnixMilli()))
	copy(dst[28:44], h.UID[:])
	binary.LittleEndian.PutUint64(dst[44:52], uint64(h.DataEnd))
	binary.LittleEndian.PutUint64(dst[52:60], uint64(h.LastRecord))
	binary.LittleEndian.PutUint32(dst[60:64], crc32.Checksum(dst[:60], castagnoli))
}

func parseHeader(src []byte) (header, error) {
	var h header
	if len(src) < HeaderSize {
		return h, fmt.Errorf("%w: %d bytes", errBadHeader, len(src))
	}
	if string(src[0:8]) != Magic {
		return h, fmt.Errorf("%w: bad magic", errBadHeader)
	}
	if got, want := crc32.Checksum(src[:60], castagnoli), binary.LittleEndian.Uint32(src[60:64]); got != want {
		return h, fmt.Errorf("%w: checksum mismatch", errBadHeader)
	}
	h.Version = binary.LittleEndian.Uint16(src[8:10])
	if h.Version != FormatVersion {
		return h, fmt.Errorf("%w: unsupported version %d", errBadHeader, h.Version)
	}
	h.Flags = binary.LittleEndian.Uint16(src[10:12])
	h.SegmentID = binary.LittleEndian.Uint64(src[12:20])
	h.CreatedAt = time.UnixMilli(int64(binary.LittleEndian.Uint64(src[20:28])))
	copy(h.UID[:], src[28:44])
	h.DataEnd = int64(binary.LittleEndian.Uint64(src[44:52]))
	h.LastRecord = int64(binary.LittleEndian.Uint64(src[52:60]))
	return h, nil
}

// FileName returns the file name of the segment with the given id.
func FileName(id uint64) string {
	return fmt.Sprintf("%s%020d%s", FilePrefix, id, FileExtension)
}

// ParseFileName extracts the segment id from a file name produced by
// FileName.
func ParseFileName(name string) (uint64, bool) {
	name = filepath.Base(name)
	if !strings.HasPrefix(name, FilePrefix) || !strings.HasSuffix(name, FileExtension) {
		return 0, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(name, FilePrefix), FileExtension)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}
