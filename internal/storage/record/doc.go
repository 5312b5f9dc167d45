// Package record implements the on-disk framing of meshstore records.
//
// A record is either a payload write or a tombstone for one identifier,
// stamped with an engine-wide sequence number. Records are immutable:
// updates and deletions are new records, never in-place edits.
//
// Frame layout (little-endian):
//
//	[frame_len:4][crc32c:4][kind:1][seq:8][id_len:2][payload_len:4][id][payload]
//
// Where:
//   - frame_len counts every byte after itself; 0 marks the end of data
//     in a pre-allocated segment
//   - crc32c (Castagnoli) covers every byte after the checksum field
//   - kind is 1 for a payload, 2 for a tombstone (tombstones carry no payload)
package record
