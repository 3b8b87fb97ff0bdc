// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package block implements the in-memory staging area for one SSTable block:
// a bounded byte buffer of encoded entries, flushed to the data file once full
// or once the table writer is closed.
package block

import "github.com/coldbrewdb/coldbrew/internal/record"

// Block accumulates encoded entries up to a target size. It records the
// first entry's key so the writer can register it in the sparse index.
type Block struct {
	targetSize int
	buf        []byte
	firstKey   []byte
	count      int
}

// New returns an empty block bounded by targetSize bytes.
func New(targetSize int) *Block {
	return &Block{targetSize: targetSize}
}

// IsFull reports whether appending an entry of entrySize bytes would exceed
// the block's target size. An empty block is never full, so a
// larger-than-target entry always fits in a fresh block.
func (b *Block) IsFull(entrySize int) bool {
	if b.count == 0 {
		return false
	}
	return len(b.buf)+entrySize > b.targetSize
}

// Append encodes e into the block. Callers must check IsFull first.
func (b *Block) Append(e record.Entry) {
	if b.count == 0 {
		b.firstKey = append([]byte(nil), e.Key...)
	}
	b.buf = e.Encode(b.buf)
	b.count++
}

// Empty reports whether the block has no entries.
func (b *Block) Empty() bool { return b.count == 0 }

// FirstKey returns the key of the first entry appended to this block.
func (b *Block) FirstKey() []byte { return b.firstKey }

// Bytes returns the block's accumulated, encoded bytes.
func (b *Block) Bytes() []byte { return b.buf }

// Reset clears the block so it can be reused for the next batch of entries.
func (b *Block) Reset() {
	b.buf = b.buf[:0]
	b.firstKey = nil
	b.count = 0
}
