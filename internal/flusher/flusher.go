// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package flusher turns a sealed, read-only memtable into an SSTable and
// registers it with the engine's shared collaborators (spec §4.3).
package flusher

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/coldbrewdb/coldbrew/internal/bloom"
	"github.com/coldbrewdb/coldbrew/internal/bucket"
	"github.com/coldbrewdb/coldbrew/internal/keyrange"
	"github.com/coldbrewdb/coldbrew/internal/logger"
	"github.com/coldbrewdb/coldbrew/internal/metrics"
	"github.com/coldbrewdb/coldbrew/internal/storageerr"
	"github.com/coldbrewdb/coldbrew/memtable"
	"github.com/coldbrewdb/coldbrew/sstable"
)

// FilterEntry is one member of the process-wide bloom filter list: a filter
// paired with the data file path it was bound to at flush time, and the
// handle the list is sorted by.
type FilterEntry struct {
	Filter   *bloom.Filter
	DataPath string
	Handle   *sstable.Handle
}

// FilterList is the shared, hotness-sorted bloom filter list every read
// consults before falling through to a sparse-index lookup (spec §4.1,
// §5).
type FilterList struct {
	mu      sync.RWMutex
	entries []FilterEntry
}

// NewFilterList returns an empty filter list.
func NewFilterList() *FilterList {
	return &FilterList{}
}

// PushAndResort appends e and re-sorts the list by hotness descending.
func (fl *FilterList) PushAndResort(e FilterEntry) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	fl.entries = append(fl.entries, e)
	sort.Slice(fl.entries, func(i, j int) bool {
		return fl.entries[i].Handle.Hotness() > fl.entries[j].Handle.Hotness()
	})
}

// Snapshot returns the filter list in its current hotness order.
func (fl *FilterList) Snapshot() []FilterEntry {
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	out := make([]FilterEntry, len(fl.entries))
	copy(out, fl.entries)
	return out
}

// Remove drops every entry for dataPath, e.g. once its SSTable is compacted
// away.
func (fl *FilterList) Remove(dataPath string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	kept := fl.entries[:0]
	for _, e := range fl.entries {
		if e.DataPath != dataPath {
			kept = append(kept, e)
		}
	}
	fl.entries = kept
}

// ReadOnlyRegistry tracks sealed memtables awaiting flush, keyed by their
// id. The engine inserts into it when a memtable is sealed and the Flusher
// removes from it once the flush completes successfully.
type ReadOnlyRegistry struct {
	mu    sync.RWMutex
	table map[string]memtable.Source
}

// NewReadOnlyRegistry returns an empty registry.
func NewReadOnlyRegistry() *ReadOnlyRegistry {
	return &ReadOnlyRegistry{table: make(map[string]memtable.Source)}
}

// Insert registers a sealed memtable under id.
func (r *ReadOnlyRegistry) Insert(id string, source memtable.Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table[id] = source
}

// Remove drops id from the registry.
func (r *ReadOnlyRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.table, id)
}

// Get returns the sealed memtable registered under id, if any.
func (r *ReadOnlyRegistry) Get(id string) (memtable.Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.table[id]
	return s, ok
}

// Snapshot returns every currently sealed, not-yet-flushed memtable.
func (r *ReadOnlyRegistry) Snapshot() []memtable.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]memtable.Source, 0, len(r.table))
	for _, s := range r.table {
		out = append(out, s)
	}
	return out
}

// Flusher converts sealed memtables into SSTables and publishes them to the
// engine's shared collaborators.
type Flusher struct {
	buckets  *bucket.BucketMap
	keyRange *keyrange.KeyRange
	filters  *FilterList
	registry *ReadOnlyRegistry
	log      logger.Logger
	met      *metrics.Metrics

	// signal is the flush-signal broadcast channel potential listeners
	// (e.g. the compactor) select on. A full channel is reported via
	// storageerr.FlushSignalOverflow but does not fail the flush.
	signal chan string
}

// New returns a Flusher wired to the engine's shared collaborators. signal
// is the broadcast channel flush completions are announced on; callers size
// it to the number of listeners they expect to keep drained. met may be nil,
// in which case flush-signal overflows are counted nowhere.
func New(buckets *bucket.BucketMap, kr *keyrange.KeyRange, filters *FilterList, registry *ReadOnlyRegistry, signal chan string, log logger.Logger, met *metrics.Metrics) *Flusher {
	if log == nil {
		log = logger.Nop{}
	}
	if met == nil {
		met = metrics.Nop()
	}
	return &Flusher{buckets: buckets, keyRange: kr, filters: filters, registry: registry, signal: signal, log: log, met: met}
}

// Flush runs the pipeline described in spec §4.3 against a sealed memtable
// identified by id, producing a new SSTable. unixMS seeds the SSTable's file
// names and must be unique across concurrent flushes.
func (f *Flusher) Flush(id string, source memtable.Source, unixMS int64) error {
	entries := source.Entries()
	if len(entries) == 0 {
		return errors.Wrap(storageerr.EmptyMemtable, "flusher: Flush")
	}

	bf := source.BloomFilter()
	smallest, err := source.SmallestKey()
	if err != nil {
		return errors.Wrap(err, "flusher: snapshot smallest key")
	}
	largest, err := source.LargestKey()
	if err != nil {
		return errors.Wrap(err, "flusher: snapshot largest key")
	}

	handle, err := f.buckets.InsertInto(source, unixMS, 1)
	if err != nil {
		return errors.Wrap(err, "flusher: insert into bucket")
	}

	f.keyRange.Set(handle.DataPath, smallest, largest, handle)

	f.filters.PushAndResort(FilterEntry{Filter: bf, DataPath: handle.DataPath, Handle: handle})

	f.registry.Remove(id)

	select {
	case f.signal <- handle.DataPath:
	default:
		f.met.RecordFlushSignalOverflow()
		f.log.Errorf("flusher: %v: flush signal channel full for %s", storageerr.FlushSignalOverflow, handle.DataPath)
	}

	return nil
}
