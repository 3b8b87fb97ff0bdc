// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package sparseindex implements the per-SSTable sparse index: one
// (first-key, block-offset) record per block, persisted as its own file
// alongside the SSTable's data file.
package sparseindex

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/coldbrewdb/coldbrew/internal/storageerr"
)

// Record is one sparse index entry: the first key of a block and that
// block's offset in the data file.
type Record struct {
	FirstKey    []byte
	BlockOffset uint32
}

// Index is the full in-memory sparse index for one SSTable, kept sorted by
// FirstKey (blocks are emitted in key order, so Records is already sorted by
// construction).
type Index struct {
	Records []Record
}

// Append adds a record for a newly sealed block. Callers must call this in
// increasing key order (the SSTable builder guarantees this).
func (idx *Index) Append(firstKey []byte, blockOffset uint32) {
	idx.Records = append(idx.Records, Record{
		FirstKey:    append([]byte(nil), firstKey...),
		BlockOffset: blockOffset,
	})
}

// Serialize encodes the index as a stream of
// (key_len:u32, key:bytes, block_offset:u32) records, little-endian.
func (idx *Index) Serialize() []byte {
	var buf []byte
	for _, r := range idx.Records {
		var hdr [4]byte
		binary.LittleEndian.PutUint32(hdr[:], uint32(len(r.FirstKey)))
		buf = append(buf, hdr[:]...)
		buf = append(buf, r.FirstKey...)
		var off [4]byte
		binary.LittleEndian.PutUint32(off[:], r.BlockOffset)
		buf = append(buf, off[:]...)
	}
	return buf
}

// Deserialize parses an index file's contents as produced by Serialize.
func Deserialize(data []byte) (*Index, error) {
	idx := &Index{}
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, errors.Wrap(storageerr.UnexpectedEOF, "sparseindex: truncated key length")
		}
		keyLen := int(binary.LittleEndian.Uint32(data[0:4]))
		need := 4 + keyLen + 4
		if len(data) < need {
			return nil, errors.Wrap(storageerr.UnexpectedEOF, "sparseindex: truncated record")
		}
		key := make([]byte, keyLen)
		copy(key, data[4:4+keyLen])
		off := binary.LittleEndian.Uint32(data[4+keyLen : need])
		idx.Records = append(idx.Records, Record{FirstKey: key, BlockOffset: off})
		data = data[need:]
	}
	return idx, nil
}

// LookupIndex returns the Records index of the block that would contain key:
// the last block whose first key is <= key. ok is false if the index is
// empty or key is smaller than every block's first key.
func (idx *Index) LookupIndex(key []byte) (i int, ok bool) {
	// sort.Search finds the first record whose FirstKey > key; the block we
	// want is the one just before it.
	i = sort.Search(len(idx.Records), func(i int) bool {
		return bytes.Compare(idx.Records[i].FirstKey, key) > 0
	})
	if i == 0 {
		return 0, false
	}
	return i - 1, true
}

// RangeIndices returns [startIdx, endIdx] (inclusive, both valid indices into
// Records) spanning every block that might contain a key in [lo, hi]. ok is
// false if the index is empty.
func (idx *Index) RangeIndices(lo, hi []byte) (startIdx, endIdx int, ok bool) {
	if len(idx.Records) == 0 {
		return 0, 0, false
	}
	startIdx = sort.Search(len(idx.Records), func(i int) bool {
		return bytes.Compare(idx.Records[i].FirstKey, lo) > 0
	})
	if startIdx == 0 {
		startIdx = 1
	}
	startIdx--

	endIdx = sort.Search(len(idx.Records), func(i int) bool {
		return bytes.Compare(idx.Records[i].FirstKey, hi) > 0
	}) - 1
	if endIdx >= len(idx.Records) {
		endIdx = len(idx.Records) - 1
	}
	if endIdx < startIdx {
		endIdx = startIdx
	}
	return startIdx, endIdx, true
}

// BlockSpan returns the [offset, end) byte span of the block at Records[i],
// where end is the next block's offset or endOfFile if i is the last block.
func (idx *Index) BlockSpan(i int, endOfFile uint32) (offset, end uint32) {
	offset = idx.Records[i].BlockOffset
	if i+1 < len(idx.Records) {
		end = idx.Records[i+1].BlockOffset
	} else {
		end = endOfFile
	}
	return offset, end
}
