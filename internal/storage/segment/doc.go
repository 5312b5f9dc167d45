// Package segment implements append-only, memory-mapped segment files and
// the manager that owns them.
//
// A segment is a pre-allocated file mapped MAP_SHARED. Appends copy the
// encoded record into the mapping and then publish the new write cursor,
// so readers only ever see fully copied frames. Sealed segments are
// immutable and their mapping is read-only.
//
// File layout:
//
//	[header:64][frame][frame]...[frame][zero fill to capacity]
//
// The header carries a magic, the sealed flag, the segment id, creation
// time, a ULID, and, once sealed, the data end and the offset of the last
// record. See HeaderSize.
package segment
