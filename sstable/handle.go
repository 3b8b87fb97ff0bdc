// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import "sync/atomic"

// Handle is the shared, reference-counted identity of one SSTable: its two
// file paths plus its hotness counters. BucketMap, KeyRange, and the
// process-wide bloom filter list all hold the same *Handle for a given
// SSTable, so a hotness bump is visible everywhere without a long-lived
// mutable alias of the table's contents (see spec §9: "model as shared
// immutable handles").
//
// Hotness is tracked as two separate monotonic counters rather than one: a
// write-hotness bump (a bucket insertion nearby) and a read-hotness bump (a
// successful point lookup against this table). The spec's single "hotness"
// sort key is their sum -- this resolves the documented coupling concern
// between write locality and read locality (spec §9) without changing the
// externally observable sort order.
type Handle struct {
	DataPath  string
	IndexPath string

	writeHotness atomic.Uint64
	readHotness  atomic.Uint64
}

// NewHandle returns a handle for the SSTable at dataPath/indexPath, seeded
// with an initial write-hotness. Build and Recover seed it with 0; later
// write-hotness comes from BucketMap's per-insertion bumps.
func NewHandle(dataPath, indexPath string, initialHotness uint64) *Handle {
	h := &Handle{DataPath: dataPath, IndexPath: indexPath}
	h.writeHotness.Store(initialHotness)
	return h
}

// BumpWriteHotness increments the write-locality counter. Called by
// BucketMap on every insertion into a bucket this table's a member of.
func (h *Handle) BumpWriteHotness() { h.writeHotness.Add(1) }

// BumpReadHotness increments the read-locality counter. Called after a
// successful point lookup resolves against this table.
func (h *Handle) BumpReadHotness() { h.readHotness.Add(1) }

// Hotness returns the combined sort key used to order the bloom filter list,
// hottest first.
func (h *Handle) Hotness() uint64 {
	return h.writeHotness.Load() + h.readHotness.Load()
}
