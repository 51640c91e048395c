// Package store provides the byte-level storage collaborators that
// persist documents and carry fan-out parts between replicas.
//
// Every backend implements Storage, a flat key space of byte blobs:
//
//   - SQLite (default): single-file database with WAL and migrations
//   - bbolt: single-file B+tree, one bucket
//   - Badger and Pebble: LSM directories
//   - Redis: shared remote folder, keys under a namespace
//   - FS: one file per key below a root directory
//   - Memory: process-local map for tests and dry runs
//
// # Keys
//
// Keys are slash-separated relative names ("docs/todo",
// "todo/client-a0000001/manifest"). Empty segments, "." and ".." are
// rejected with ErrInvalidKey so the same key is valid on every backend.
//
// # Semantics
//
//   - Read of a missing key returns (nil, false, nil), never an error
//   - List returns keys with a byte prefix, sorted ascending
//   - Delete of a missing key is a no-op
//   - Operations after Close return ErrClosed
//
// SaveDocument and LoadDocument are the persistence helpers the core
// needs: a full snapshot envelope written under DocumentKey and read back
// in restore mode.
package store
