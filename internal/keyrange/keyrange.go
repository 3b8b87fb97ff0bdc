// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package keyrange implements the per-SSTable (smallest, largest) registry
// reads consult to prune which tables are worth a bloom-filter check at all
// (spec §4.6).
package keyrange

import (
	"bytes"
	"sync"

	"github.com/coldbrewdb/coldbrew/sstable"
)

type entry struct {
	smallest, largest []byte
	handle            *sstable.Handle
}

// KeyRange maps a data file path to the boundary keys and shared handle of
// the SSTable stored there. Registered at flush time, removed once a
// compaction round supersedes the table (spec §3: "removed when the SSTable
// is compacted away").
type KeyRange struct {
	mu     sync.RWMutex
	byPath map[string]entry
}

// New returns an empty registry.
func New() *KeyRange {
	return &KeyRange{byPath: make(map[string]entry)}
}

// Set inserts or replaces the entry for dataFilePath.
func (kr *KeyRange) Set(dataFilePath string, smallest, largest []byte, handle *sstable.Handle) {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	kr.byPath[dataFilePath] = entry{
		smallest: append([]byte(nil), smallest...),
		largest:  append([]byte(nil), largest...),
		handle:   handle,
	}
}

// Remove deletes the entry for dataFilePath, e.g. once its SSTable has been
// superseded by a compaction.
func (kr *KeyRange) Remove(dataFilePath string) {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	delete(kr.byPath, dataFilePath)
}

// Filter returns every handle whose [smallest, largest] range covers key, in
// no particular order. Callers still consult each candidate's bloom filter
// before paying for a sparse-index lookup.
func (kr *KeyRange) Filter(key []byte) []*sstable.Handle {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	var out []*sstable.Handle
	for _, e := range kr.byPath {
		if bytes.Compare(key, e.smallest) >= 0 && bytes.Compare(key, e.largest) <= 0 {
			out = append(out, e.handle)
		}
	}
	return out
}

// FilterRange returns every handle whose range intersects [lo, hi].
func (kr *KeyRange) FilterRange(lo, hi []byte) []*sstable.Handle {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	var out []*sstable.Handle
	for _, e := range kr.byPath {
		if bytes.Compare(lo, e.largest) <= 0 && bytes.Compare(hi, e.smallest) >= 0 {
			out = append(out, e.handle)
		}
	}
	return out
}
