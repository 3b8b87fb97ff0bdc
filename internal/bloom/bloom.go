// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package bloom implements a per-SSTable membership filter sized from a
// target entry count and false-positive rate, using double hashing
// (Kirsch-Mitzenmacher) over xxhash to derive the k probe positions without
// computing k independent hashes.
package bloom

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

// Filter is a fixed-size Bloom filter. It is built once from a memtable's key
// set (see NewFromKeys) and is immutable thereafter, consistent with the
// SSTable it's attached to never mutating after sealing.
type Filter struct {
	bits []uint64 // bit array, 64 bits per word
	k    int      // number of hash probes
	n    uint64   // number of bits (len(bits) * 64)
}

// defaultFPR is the false-positive target used when the caller doesn't
// specify one.
const defaultFPR = 0.01

// New allocates an empty filter sized for expectedEntries at the given false
// positive rate. A zero or negative fpr falls back to defaultFPR.
func New(expectedEntries int, fpr float64) *Filter {
	if expectedEntries < 1 {
		expectedEntries = 1
	}
	if fpr <= 0 || fpr >= 1 {
		fpr = defaultFPR
	}
	m := optimalBits(expectedEntries, fpr)
	k := optimalHashCount(expectedEntries, m)
	words := (m + 63) / 64
	if words < 1 {
		words = 1
	}
	return &Filter{
		bits: make([]uint64, words),
		k:    k,
		n:    uint64(words * 64),
	}
}

// NewFromKeys builds a filter sized for len(keys) at the given false-positive
// rate and adds every key.
func NewFromKeys(keys [][]byte, fpr float64) *Filter {
	f := New(len(keys), fpr)
	for _, k := range keys {
		f.Add(k)
	}
	return f
}

func optimalBits(n int, fpr float64) int {
	m := -1 * float64(n) * math.Log(fpr) / (math.Ln2 * math.Ln2)
	if m < 8 {
		m = 8
	}
	return int(math.Ceil(m))
}

func optimalHashCount(n, m int) int {
	if n == 0 {
		return 1
	}
	k := int(math.Round(float64(m) / float64(n) * math.Ln2))
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}
	return k
}

// h1h2 derives the two base hashes used for Kirsch-Mitzenmacher double
// hashing: probe_i = h1 + i*h2 (mod n).
func h1h2(key []byte) (uint64, uint64) {
	h1 := xxhash.Sum64(key)
	var seeded [8]byte
	binary.LittleEndian.PutUint64(seeded[:], h1)
	h2 := xxhash.Sum64(seeded[:])
	if h2 == 0 {
		h2 = 1
	}
	return h1, h2
}

// Add inserts key into the filter.
func (f *Filter) Add(key []byte) {
	h1, h2 := h1h2(key)
	for i := 0; i < f.k; i++ {
		pos := (h1 + uint64(i)*h2) % f.n
		f.bits[pos/64] |= 1 << (pos % 64)
	}
}

// MayContain reports whether key might be present. False negatives are
// impossible; false positives occur at roughly the configured rate.
func (f *Filter) MayContain(key []byte) bool {
	h1, h2 := h1h2(key)
	for i := 0; i < f.k; i++ {
		pos := (h1 + uint64(i)*h2) % f.n
		if f.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// Serialize encodes the filter for persistence alongside its SSTable:
// k:u32 ‖ num_words:u32 ‖ words (u64 little-endian each).
func (f *Filter) Serialize() []byte {
	buf := make([]byte, 8, 8+len(f.bits)*8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(f.k))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(f.bits)))
	for _, w := range f.bits {
		var wb [8]byte
		binary.LittleEndian.PutUint64(wb[:], w)
		buf = append(buf, wb[:]...)
	}
	return buf
}

// Deserialize decodes a filter previously produced by Serialize.
func Deserialize(data []byte) (*Filter, error) {
	if len(data) < 8 {
		return nil, errors.New("bloom: truncated filter header")
	}
	k := int(binary.LittleEndian.Uint32(data[0:4]))
	words := int(binary.LittleEndian.Uint32(data[4:8]))
	need := 8 + words*8
	if len(data) < need {
		return nil, errors.New("bloom: truncated filter body")
	}
	bits := make([]uint64, words)
	for i := 0; i < words; i++ {
		off := 8 + i*8
		bits[i] = binary.LittleEndian.Uint64(data[off : off+8])
	}
	return &Filter{bits: bits, k: k, n: uint64(words * 64)}, nil
}
