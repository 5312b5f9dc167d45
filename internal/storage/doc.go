// Package storage provides the meshstore storage engine.
//
// The engine stores content-addressed byte records in append-only,
// memory-mapped segment files and serves them through an in-memory index
// rebuilt from the segments on every open.
//
// Architecture:
//
//   - record: checksummed frame codec (payload or tombstone)
//   - segment: pre-allocated mmap segment files and their manager
//   - index: sharded identifier to location map, last writer wins by
//     sequence number
//
// Writes are serialized by a single append mutex: sequence assignment,
// append, optional msync and index publication happen in one critical
// section. Reads never take it. Durability is an explicit choice:
//
//   - DurabilitySync: every put is msynced before it returns
//   - DurabilityBuffered: puts return after the index update; a background
//     flusher msyncs every SyncInterval (survives a process crash, not a
//     power loss)
//
// Compaction relocates the live records of sparsely live sealed segments
// into the active segment and unlinks the old file once the index no
// longer references it.
package storage
