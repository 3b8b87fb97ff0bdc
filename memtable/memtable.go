// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package memtable is the write-ahead in-memory table the core storage
// pipeline treats as an external collaborator (spec §1/§6): the engine only
// ever depends on the small Source interface below, never on a concrete
// memtable's internals. This package's own skip-list implementation is the
// engine's default, but the same interface is satisfied by a merged stream of
// several sealed memtables during compaction (spec §9), letting the SSTable
// builder be reused unchanged for both flush and compaction.
package memtable

import (
	"bytes"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/coldbrewdb/coldbrew/internal/bloom"
	"github.com/coldbrewdb/coldbrew/internal/record"
	"github.com/coldbrewdb/coldbrew/internal/storageerr"
)

// Getter is an optional capability a Source may implement to answer a point
// lookup directly instead of forcing callers to linear-scan Entries(). The
// default Memtable implements it via its skip list; MergedSource does not,
// since it's only ever consumed as a full stream during compaction.
type Getter interface {
	Get(key []byte) (record.Entry, bool)
}

// Source is the interface the Flusher and the compactor's merge path consume.
// Anything that can produce a sorted entry stream, its byte size, its
// boundary keys, and a membership filter can be flushed or compacted.
type Source interface {
	// Entries returns every live entry in ascending key order.
	Entries() []record.Entry
	// Size returns the summed byte cost of current entries.
	Size() int
	// SmallestKey returns the smallest key, or storageerr.EmptyIndex if empty.
	SmallestKey() ([]byte, error)
	// LargestKey returns the largest key, or storageerr.EmptyIndex if empty.
	LargestKey() ([]byte, error)
	// BloomFilter returns a filter built over the current key set.
	BloomFilter() *bloom.Filter
}

// entryCost approximates the on-disk byte cost of one logical entry: the
// fixed entry header plus the key bytes (values live in the vlog and aren't
// charged against memtable size).
func entryCost(key []byte) int {
	return 4 + len(key) + 4 + 8 + 1
}

// Memtable is the default, skip-list backed Source implementation. It is
// safe for concurrent use: one writer, many readers.
type Memtable struct {
	id string

	mu   sync.RWMutex
	sl   *skipList
	size int
}

// New returns an empty memtable identified by id (used by the read-only
// memtable registry once this table is sealed).
func New(id string) *Memtable {
	return &Memtable{id: id, sl: newSkipList()}
}

// ID returns the memtable's identity in the read-only registry.
func (m *Memtable) ID() string { return m.id }

// Put inserts or overwrites key with a pointer to valueOffset in the vlog.
func (m *Memtable) Put(key []byte, valueOffset uint32, createdAt uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	replaced := m.sl.insert(key, record.Entry{
		Key:         append([]byte(nil), key...),
		ValueOffset: valueOffset,
		CreatedAt:   createdAt,
		IsTombstone: false,
	})
	if !replaced {
		m.size += entryCost(key)
	}
}

// Delete inserts a tombstone for key.
func (m *Memtable) Delete(key []byte, createdAt uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	replaced := m.sl.insert(key, record.Entry{
		Key:         append([]byte(nil), key...),
		CreatedAt:   createdAt,
		IsTombstone: true,
	})
	if !replaced {
		m.size += entryCost(key)
	}
}

// Get looks up key in the memtable.
func (m *Memtable) Get(key []byte) (record.Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sl.get(key)
}

// Entries implements Source.
func (m *Memtable) Entries() []record.Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]record.Entry, 0, m.sl.length)
	m.sl.ascend(func(e record.Entry) bool {
		out = append(out, e)
		return true
	})
	return out
}

// Size implements Source.
func (m *Memtable) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// SmallestKey implements Source.
func (m *Memtable) SmallestKey() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.sl.length == 0 {
		return nil, errors.Wrap(storageerr.EmptyIndex, "memtable: SmallestKey")
	}
	return m.sl.first().Key, nil
}

// LargestKey implements Source.
func (m *Memtable) LargestKey() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.sl.length == 0 {
		return nil, errors.Wrap(storageerr.EmptyIndex, "memtable: LargestKey")
	}
	return m.sl.last().Key, nil
}

// BloomFilter implements Source.
func (m *Memtable) BloomFilter() *bloom.Filter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([][]byte, 0, m.sl.length)
	m.sl.ascend(func(e record.Entry) bool {
		keys = append(keys, e.Key)
		return true
	})
	return bloom.NewFromKeys(keys, 0)
}

// MergedSource adapts several sealed Sources (e.g. the sstables a compaction
// round is merging) into a single sorted Source, satisfying spec §9's
// requirement that the compactor reuse the same builder as the flusher. Later
// sources win ties on equal keys (most-recently-sealed wins), matching the
// memtable-shadowing rule reads already follow.
type MergedSource struct {
	sources []Source
}

// NewMergedSource returns a Source presenting the deduplicated, sorted union
// of entries across sources, newest-last.
func NewMergedSource(sources ...Source) *MergedSource {
	return &MergedSource{sources: sources}
}

func (m *MergedSource) merge() []record.Entry {
	byKey := make(map[string]record.Entry)
	order := make([][]byte, 0)
	for _, s := range m.sources {
		for _, e := range s.Entries() {
			k := string(e.Key)
			if _, ok := byKey[k]; !ok {
				order = append(order, e.Key)
			}
			byKey[k] = e
		}
	}
	out := make([]record.Entry, len(order))
	for i, k := range order {
		out[i] = byKey[string(k)]
	}
	sortEntries(out)
	return out
}

// Entries implements Source.
func (m *MergedSource) Entries() []record.Entry { return m.merge() }

// Size implements Source.
func (m *MergedSource) Size() int {
	size := 0
	for _, e := range m.merge() {
		size += entryCost(e.Key)
	}
	return size
}

// SmallestKey implements Source.
func (m *MergedSource) SmallestKey() ([]byte, error) {
	entries := m.merge()
	if len(entries) == 0 {
		return nil, errors.Wrap(storageerr.EmptyIndex, "memtable: MergedSource.SmallestKey")
	}
	return entries[0].Key, nil
}

// LargestKey implements Source.
func (m *MergedSource) LargestKey() ([]byte, error) {
	entries := m.merge()
	if len(entries) == 0 {
		return nil, errors.Wrap(storageerr.EmptyIndex, "memtable: MergedSource.LargestKey")
	}
	return entries[len(entries)-1].Key, nil
}

// BloomFilter implements Source.
func (m *MergedSource) BloomFilter() *bloom.Filter {
	entries := m.merge()
	keys := make([][]byte, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return bloom.NewFromKeys(keys, 0)
}

func sortEntries(e []record.Entry) {
	// Insertion sort is fine: callers merge at most a handful of sealed
	// sstables/memtables at a time (MAX_THRESHOLD-bounded compaction input).
	for i := 1; i < len(e); i++ {
		for j := i; j > 0 && bytes.Compare(e[j-1].Key, e[j].Key) > 0; j-- {
			e[j-1], e[j] = e[j], e[j-1]
		}
	}
}
