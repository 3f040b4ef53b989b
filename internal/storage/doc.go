// Package storage persists the duplicate cache's seen-keys so the
// process survives restarts without re-announcing old content.
//
// The store is write-through only: the in-memory cache is always the
// source of truth for lookups, and storage errors never invalidate it.
package storage
