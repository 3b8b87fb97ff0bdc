// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package record defines the two wire formats the engine moves around: the
// logical Entry (key plus a pointer into the value log, as stored inside
// SSTable blocks and the memtable) and the physical ValueLogEntry (key and
// value bytes together, as appended to the value log).
package record

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/coldbrewdb/coldbrew/internal/storageerr"
)

// Entry is the logical record: a key plus a pointer into the value log.
// value_offset points into the ValueLog; tombstones carry no live value.
type Entry struct {
	Key         []byte
	ValueOffset uint32
	CreatedAt   uint64 // milliseconds since epoch
	IsTombstone bool
}

// EncodedLen returns the number of bytes Encode will produce for this entry.
func (e Entry) EncodedLen() int {
	return 4 + len(e.Key) + 4 + 8 + 1
}

// Encode appends the entry's wire representation to dst and returns the
// extended slice. Layout (all little-endian):
//
//	key_len:u32 ‖ key ‖ value_offset:u32 ‖ created_at:u64 ‖ is_tombstone:u8
func (e Entry) Encode(dst []byte) []byte {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(e.Key)))
	dst = append(dst, hdr[:]...)
	dst = append(dst, e.Key...)

	var tail [13]byte
	binary.LittleEndian.PutUint32(tail[0:4], e.ValueOffset)
	binary.LittleEndian.PutUint64(tail[4:12], e.CreatedAt)
	if e.IsTombstone {
		tail[12] = 1
	}
	dst = append(dst, tail[:]...)
	return dst
}

// DecodeEntry decodes a single Entry from the front of buf, returning the
// entry and the number of bytes consumed. It returns storageerr.UnexpectedEOF
// (distinct from a clean end-of-buffer with zero bytes available) if buf
// contains a partial record.
func DecodeEntry(buf []byte) (Entry, int, error) {
	if len(buf) == 0 {
		return Entry{}, 0, nil
	}
	if len(buf) < 4 {
		return Entry{}, 0, errors.Wrap(storageerr.UnexpectedEOF, "record: truncated key length")
	}
	keyLen := int(binary.LittleEndian.Uint32(buf[0:4]))
	need := 4 + keyLen + 4 + 8 + 1
	if len(buf) < need {
		return Entry{}, 0, errors.Wrap(storageerr.UnexpectedEOF, "record: truncated entry body")
	}
	key := make([]byte, keyLen)
	copy(key, buf[4:4+keyLen])
	rest := buf[4+keyLen:]
	e := Entry{
		Key:         key,
		ValueOffset: binary.LittleEndian.Uint32(rest[0:4]),
		CreatedAt:   binary.LittleEndian.Uint64(rest[4:12]),
		IsTombstone: rest[12] != 0,
	}
	return e, need, nil
}

// ValueLogEntry is the physical record appended to the value log: the key and
// value bytes travel together here, unlike in Entry where only the offset
// does.
type ValueLogEntry struct {
	Key         []byte
	Value       []byte
	CreatedAt   int64 // milliseconds since epoch
	IsTombstone bool
}

// headerLen is the fixed 16-byte prefix: key_len(4) + value_len(4) +
// created_at(8), followed by a single is_tombstone byte making 17 -- spec §3
// states "16 + key_len + value_len + 1" for the total, i.e. a 16 byte fixed
// header plus a 1 byte tombstone flag plus the variable key/value bytes.
const headerLen = 4 + 4 + 8

// EncodedLen returns the serialized size of this value log entry.
func (e ValueLogEntry) EncodedLen() int {
	return headerLen + 1 + len(e.Key) + len(e.Value)
}

// Encode appends the entry's wire representation to dst. Layout (all
// little-endian):
//
//	key_len:u32 ‖ value_len:u32 ‖ created_at:i64 ‖ is_tombstone:u8 ‖ key ‖ value
func (e ValueLogEntry) Encode(dst []byte) []byte {
	var hdr [headerLen + 1]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(e.Key)))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(e.Value)))
	binary.LittleEndian.PutUint64(hdr[8:16], uint64(e.CreatedAt))
	if e.IsTombstone {
		hdr[16] = 1
	}
	dst = append(dst, hdr[:]...)
	dst = append(dst, e.Key...)
	dst = append(dst, e.Value...)
	return dst
}

// DecodeValueLogEntry decodes a single ValueLogEntry from the front of buf,
// returning the entry and the number of bytes consumed.
func DecodeValueLogEntry(buf []byte) (ValueLogEntry, int, error) {
	if len(buf) < headerLen+1 {
		return ValueLogEntry{}, 0, errors.Wrap(storageerr.UnexpectedEOF, "record: truncated vlog header")
	}
	keyLen := int(binary.LittleEndian.Uint32(buf[0:4]))
	valLen := int(binary.LittleEndian.Uint32(buf[4:8]))
	createdAt := int64(binary.LittleEndian.Uint64(buf[8:16]))
	isTombstone := buf[16] != 0

	need := headerLen + 1 + keyLen + valLen
	if len(buf) < need {
		return ValueLogEntry{}, 0, errors.Wrap(storageerr.UnexpectedEOF, "record: truncated vlog body")
	}
	key := make([]byte, keyLen)
	copy(key, buf[headerLen+1:headerLen+1+keyLen])
	value := make([]byte, valLen)
	copy(value, buf[headerLen+1+keyLen:need])

	return ValueLogEntry{
		Key:         key,
		Value:       value,
		CreatedAt:   createdAt,
		IsTombstone: isTombstone,
	}, need, nil
}
