// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package sstable implements the sorted, immutable on-disk file pair a
// sealed memtable becomes: a data file of fixed-layout entry blocks and a
// sparse index file giving each block's first key and file offset.
//
// A table is either built (from a sorted entry stream) or recovered (by
// streaming an existing pair back in); it is read concurrently afterwards.
// Tables never mutate once sealed -- deletion is physical file removal, done
// by the bucket layer once a compaction has superseded them.
package sstable // import "github.com/coldbrewdb/coldbrew/sstable"

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	pkgerrors "github.com/pkg/errors"

	"github.com/coldbrewdb/coldbrew/internal/block"
	"github.com/coldbrewdb/coldbrew/internal/bloom"
	"github.com/coldbrewdb/coldbrew/internal/record"
	"github.com/coldbrewdb/coldbrew/internal/sparseindex"
	"github.com/coldbrewdb/coldbrew/internal/storageerr"
)

// DataFileName returns the data file name for an SSTable created at unixMS.
func DataFileName(unixMS int64) string {
	return fmt.Sprintf("sstable_%d_.db", unixMS)
}

// IndexFileName returns the sparse index file name for an SSTable created at
// unixMS.
func IndexFileName(unixMS int64) string {
	return fmt.Sprintf("index_%d_.db", unixMS)
}

// Table is an opened, immutable SSTable: its sparse index kept in memory and
// its data file opened for point/range reads.
type Table struct {
	handle *Handle

	// Each read operation takes this file's lock. The spec notes exclusive
	// per-file locking as the source behavior, but flags that a per-file
	// read-lock is the correct optimization for immutable tables -- readers
	// never contend with a writer once a table is sealed, only with each
	// other over the shared *os.File read cursor, which ReadAt avoids
	// needing entirely. We still take the read-lock to bound concurrent fd
	// usage per table and to serialize against Close.
	mu     sync.RWMutex
	closed bool

	dataFile    *os.File
	dataSize    int64
	index       *sparseindex.Index
	compression Compression

	smallest []byte
	largest  []byte

	bloom *bloom.Filter
}

// Handle returns the table's shared identity.
func (t *Table) Handle() *Handle { return t.handle }

// Smallest returns the table's smallest key.
func (t *Table) Smallest() []byte { return t.smallest }

// Largest returns the table's largest key.
func (t *Table) Largest() []byte { return t.largest }

// Bloom returns the table's membership filter.
func (t *Table) Bloom() *bloom.Filter { return t.bloom }

// BuildOptions configures Build.
type BuildOptions struct {
	BlockSize   int // target size in bytes of one block, e.g. 4096
	Compression Compression
	BloomFPR    float64
}

// Build writes a new SSTable to dir from a sorted, deduplicated stream of
// entries, and an accompanying bloom filter over their keys. Returns the
// opened table ready for reads.
//
// Algorithm (spec §4.1): accumulate entries into the current block; on
// overflow, flush the block, capturing the data file's write offset *before*
// the block's bytes are written, and record (first_key, block_offset) in the
// sparse index. After the last block, persist the sparse index.
func Build(dir string, unixMS int64, entries []record.Entry, opts BuildOptions) (*Table, error) {
	if len(entries) == 0 {
		return nil, errors.Wrap(storageerr.EmptyMemtable, "sstable: Build")
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = 4096
	}

	dataPath := filepath.Join(dir, DataFileName(unixMS))
	indexPath := filepath.Join(dir, IndexFileName(unixMS))

	f, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "sstable: create data file %s", dataPath)
	}

	idx := &sparseindex.Index{}
	blk := block.New(opts.BlockSize)
	var offset int64
	keys := make([][]byte, 0, len(entries))

	flushBlock := func() error {
		if blk.Empty() {
			return nil
		}
		raw := blk.Bytes()
		on := compressBlock(opts.Compression, raw)
		idx.Append(blk.FirstKey(), uint32(offset))
		if _, werr := f.WriteAt(on, offset); werr != nil {
			return errors.Wrapf(werr, "sstable: write block at offset %d in %s", offset, dataPath)
		}
		offset += int64(len(on))
		blk.Reset()
		return nil
	}

	for _, e := range entries {
		keys = append(keys, e.Key)
		if blk.IsFull(e.EncodedLen()) {
			if err := flushBlock(); err != nil {
				_ = f.Close()
				_ = os.Remove(dataPath)
				return nil, err
			}
		}
		blk.Append(e)
	}
	if err := flushBlock(); err != nil {
		_ = f.Close()
		_ = os.Remove(dataPath)
		return nil, err
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(dataPath)
		return nil, errors.Wrapf(err, "sstable: sync data file %s", dataPath)
	}

	if err := os.WriteFile(indexPath, idx.Serialize(), 0644); err != nil {
		_ = f.Close()
		_ = os.Remove(dataPath)
		return nil, errors.Wrapf(err, "sstable: write index file %s", indexPath)
	}

	bf := bloom.NewFromKeys(keys, opts.BloomFPR)

	t := &Table{
		handle:      NewHandle(dataPath, indexPath, 0),
		dataFile:    f,
		dataSize:    offset,
		index:       idx,
		compression: opts.Compression,
		smallest:    append([]byte(nil), entries[0].Key...),
		largest:     append([]byte(nil), entries[len(entries)-1].Key...),
		bloom:       bf,
	}
	return t, nil
}

// Recover reopens an existing SSTable data/index file pair and rebuilds the
// in-memory entry index by streaming the full data file -- used at engine
// open to restore a bucket's tables without re-running Build.
func Recover(dataPath, indexPath string, compression Compression, bloomFPR float64) (*Table, error) {
	f, err := os.OpenFile(dataPath, os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "sstable: open data file %s", dataPath)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "sstable: stat data file %s", dataPath)
	}

	rawIndex, err := os.ReadFile(indexPath)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "sstable: read index file %s", indexPath)
	}
	idx, err := sparseindex.Deserialize(rawIndex)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "sstable: decode index file %s", indexPath)
	}

	data, err := os.ReadFile(dataPath)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "sstable: read data file %s", dataPath)
	}

	var keys [][]byte
	var smallest, largest []byte
	for bi := range idx.Records {
		start, end := idx.BlockSpan(bi, uint32(fi.Size()))
		raw, derr := decompressBlock(compression, data[start:end])
		if derr != nil {
			_ = f.Close()
			return nil, errors.Wrapf(derr, "sstable: decompress block at %d in %s", start, dataPath)
		}
		for len(raw) > 0 {
			e, n, derr := record.DecodeEntry(raw)
			if derr != nil {
				_ = f.Close()
				return nil, errors.Wrapf(derr, "sstable: recover %s", dataPath)
			}
			if n == 0 {
				break
			}
			keys = append(keys, e.Key)
			if smallest == nil || bytes.Compare(e.Key, smallest) < 0 {
				smallest = e.Key
			}
			if largest == nil || bytes.Compare(e.Key, largest) > 0 {
				largest = e.Key
			}
			raw = raw[n:]
		}
	}

	bf := bloom.NewFromKeys(keys, bloomFPR)
	t := &Table{
		handle:      NewHandle(dataPath, indexPath, 0),
		dataFile:    f,
		dataSize:    fi.Size(),
		index:       idx,
		compression: compression,
		smallest:    smallest,
		largest:     largest,
		bloom:       bf,
	}
	return t, nil
}

// Close releases the table's open file descriptor. It does not remove the
// underlying files; callers that want physical deletion call os.Remove
// themselves once Close returns (see bucket.BucketMap.DeleteSSTables).
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.dataFile.Close()
}

// readBlockAtIndex reads and decompresses the block at Records[i].
func (t *Table) readBlockAtIndex(i int) ([]byte, error) {
	start, end := t.index.BlockSpan(i, uint32(t.dataSize))
	buf := make([]byte, int64(end)-int64(start))
	if _, err := t.dataFile.ReadAt(buf, int64(start)); err != nil {
		return nil, errors.Wrap(pkgerrors.Wrapf(err, "short read of %d-byte block", len(buf)), fmt.Sprintf("sstable: read block at %d in %s", start, t.handle.DataPath))
	}
	return decompressBlock(t.compression, buf)
}

// PointResult is the outcome of a successful point lookup.
type PointResult struct {
	ValueOffset uint32
	CreatedAt   uint64
	IsTombstone bool
}

// Get performs the SSTable point-read path (spec §4.1): given a start offset
// produced by the sparse index lookup, seek to that offset and linearly scan
// entry headers until a key matches or EOF / a larger key is observed.
func (t *Table) Get(key []byte) (PointResult, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return PointResult{}, false, errors.New("sstable: Get on closed table")
	}

	blockIdx, ok := t.index.LookupIndex(key)
	if !ok {
		return PointResult{}, false, nil
	}
	raw, err := t.readBlockAtIndex(blockIdx)
	if err != nil {
		return PointResult{}, false, err
	}
	for len(raw) > 0 {
		e, n, err := record.DecodeEntry(raw)
		if err != nil {
			return PointResult{}, false, errors.Wrapf(err, "sstable: point read %s", t.handle.DataPath)
		}
		if n == 0 {
			break
		}
		cmp := bytes.Compare(e.Key, key)
		if cmp == 0 {
			return PointResult{ValueOffset: e.ValueOffset, CreatedAt: e.CreatedAt, IsTombstone: e.IsTombstone}, true, nil
		}
		if cmp > 0 {
			break
		}
		raw = raw[n:]
	}
	return PointResult{}, false, nil
}

// RangeEntry is one entry returned by Range, before the caller's exact-bound
// post-filter.
type RangeEntry struct {
	Key         []byte
	ValueOffset uint32
	CreatedAt   uint64
	IsTombstone bool
}

// Range performs the SSTable range-read path (spec §4.1): scans forward from
// the block covering lo to the block covering hi, returning every entry in
// those blocks. The caller post-filters by the exact [lo, hi] bound.
func (t *Table) Range(lo, hi []byte) ([]RangeEntry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil, errors.New("sstable: Range on closed table")
	}

	startIdx, endIdx, ok := t.index.RangeIndices(lo, hi)
	if !ok {
		return nil, nil
	}

	var out []RangeEntry
	for i := startIdx; i <= endIdx; i++ {
		raw, err := t.readBlockAtIndex(i)
		if err != nil {
			return nil, err
		}
		for len(raw) > 0 {
			e, n, err := record.DecodeEntry(raw)
			if err != nil {
				return nil, errors.Wrapf(err, "sstable: range read %s", t.handle.DataPath)
			}
			if n == 0 {
				break
			}
			out = append(out, RangeEntry{Key: e.Key, ValueOffset: e.ValueOffset, CreatedAt: e.CreatedAt, IsTombstone: e.IsTombstone})
			raw = raw[n:]
		}
	}
	return out, nil
}
