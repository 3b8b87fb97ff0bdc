// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"github.com/cockroachdb/errors"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Compression selects the codec used to compress each data block before it's
// written to the SSTable's data file. Block offsets recorded in the sparse
// index always point at the (possibly compressed) bytes actually on disk;
// decompression happens transparently when a block is read back in. This
// doesn't disturb the fixed entry layout inside a decompressed block.
type Compression uint8

const (
	// NoCompression stores blocks verbatim. This is the default, and what the
	// spec's invariant tests exercise directly.
	NoCompression Compression = iota
	// SnappyCompression compresses each block with snappy, pebble's default
	// codec.
	SnappyCompression
	// ZstdCompression compresses each block with zstd (klauspost/compress),
	// pebble's higher-ratio alternative codec.
	ZstdCompression
)

var zstdEncoder, _ = zstd.NewWriter(nil)
var zstdDecoder, _ = zstd.NewReader(nil)

func compressBlock(c Compression, raw []byte) []byte {
	switch c {
	case SnappyCompression:
		return snappy.Encode(nil, raw)
	case ZstdCompression:
		return zstdEncoder.EncodeAll(raw, nil)
	default:
		return raw
	}
}

func decompressBlock(c Compression, compressed []byte) ([]byte, error) {
	switch c {
	case SnappyCompression:
		raw, err := snappy.Decode(nil, compressed)
		if err != nil {
			return nil, errors.Wrap(err, "sstable: snappy decompress")
		}
		return raw, nil
	case ZstdCompression:
		raw, err := zstdDecoder.DecodeAll(compressed, nil)
		if err != nil {
			return nil, errors.Wrap(err, "sstable: zstd decompress")
		}
		return raw, nil
	default:
		return compressed, nil
	}
}
