// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package vlog implements the sequential value log: an append-only file
// holding the full (key, value) payload that SSTable entries only point into
// by offset (spec §4.4, the WiscKey-style value-separation split).
package vlog

import (
	"encoding/binary"
	"os"
	"sync"

	"github.com/DataDog/zstd"
	"github.com/cockroachdb/errors"
	pkgerrors "github.com/pkg/errors"

	"github.com/coldbrewdb/coldbrew/internal/record"
	"github.com/coldbrewdb/coldbrew/internal/storageerr"
)

// Compression selects whether value bytes are compressed before being
// appended. Keys, lengths, and the tombstone flag are always stored
// verbatim; only the value payload is ever compressed, so the serialized
// entry's header (spec §3) is unaffected by this setting.
type Compression uint8

const (
	// NoCompression stores value bytes verbatim. The default.
	NoCompression Compression = iota
	// ZstdCompression compresses each value with DataDog/zstd before append.
	ZstdCompression
)

// Log is the append-only value store. One writer appends and advances head;
// the garbage collector advances tail independently. Both cursors are
// guarded by the same mutex (spec §5: ValueLog head/tail is single-writer,
// exclusive during GC and during append).
type Log struct {
	mu sync.Mutex

	f    *os.File
	path string

	headOffset uint64
	tailOffset uint64
	size       uint64

	compression Compression

	// punchMarker is the last offset known to be physically reclaimed by a
	// hole-punch. It trails tailOffset on platforms without hole-punch
	// support.
	punchMarker uint64
}

// Open opens or creates the value log file at path.
func Open(path string, compression Compression) (*Log, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "vlog: open %s", path)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "vlog: stat %s", path)
	}
	return &Log{
		f:           f,
		path:        path,
		size:        uint64(fi.Size()),
		headOffset:  uint64(fi.Size()),
		compression: compression,
	}, nil
}

// Close releases the log's file descriptor.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// HeadOffset returns the current head offset.
func (l *Log) HeadOffset() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.headOffset
}

// TailOffset returns the current tail offset.
func (l *Log) TailOffset() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tailOffset
}

// Size returns the current logical size (file length).
func (l *Log) Size() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

func (l *Log) encodeValue(value []byte) []byte {
	if l.compression == ZstdCompression && len(value) > 0 {
		out, err := zstd.Compress(nil, value)
		if err == nil {
			return out
		}
	}
	return value
}

func (l *Log) decodeValue(value []byte) []byte {
	if l.compression == ZstdCompression && len(value) > 0 {
		out, err := zstd.Decompress(nil, value)
		if err == nil {
			return out
		}
	}
	return value
}

// Append serializes (key, value, createdAt, isTombstone) as described in
// spec §3 and writes it at the current end of the file, returning the
// pre-write offset as the value's handle.
func (l *Log) Append(key, value []byte, createdAt int64, isTombstone bool) (offset uint64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(key, value, createdAt, isTombstone)
}

func (l *Log) appendLocked(key, value []byte, createdAt int64, isTombstone bool) (uint64, error) {
	return l.writeEntryLocked(record.ValueLogEntry{
		Key:         key,
		Value:       l.encodeValue(value),
		CreatedAt:   createdAt,
		IsTombstone: isTombstone,
	})
}

// writeEntryLocked serializes and appends e verbatim -- the caller decides
// whether the value payload still needs encodeValue applied. Must be called
// with l.mu held.
func (l *Log) writeEntryLocked(e record.ValueLogEntry) (uint64, error) {
	buf := e.Encode(nil)
	offset := l.size
	if _, err := l.f.WriteAt(buf, int64(offset)); err != nil {
		return 0, errors.Wrapf(err, "vlog: append at offset %d in %s", offset, l.path)
	}
	l.size += uint64(len(buf))
	l.headOffset = l.size
	return offset, nil
}

// GetResult is the outcome of a value lookup.
type GetResult struct {
	Value       []byte
	IsTombstone bool
}

// Get reads the entry at startOffset and returns its value and tombstone
// flag. Tombstones may still carry a (possibly empty) value payload; the
// caller consults IsTombstone before trusting it.
func (l *Log) Get(startOffset uint64) (GetResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, err := l.readEntryAt(startOffset)
	if err != nil {
		return GetResult{}, err
	}
	return GetResult{Value: l.decodeValue(e.Value), IsTombstone: e.IsTombstone}, nil
}

// readEntryAt decodes one entry starting at offset. It reads the fixed
// header first to learn the record's full length, then reads exactly that
// many remaining bytes -- never more than one record is ever read per call.
func (l *Log) readEntryAt(offset uint64) (record.ValueLogEntry, error) {
	if offset >= l.size {
		return record.ValueLogEntry{}, errors.Wrap(storageerr.UnexpectedEOF, "vlog: read past end of log")
	}
	const headerLen = 4 + 4 + 8 + 1
	hdr := make([]byte, headerLen)
	if _, err := l.f.ReadAt(hdr, int64(offset)); err != nil {
		return record.ValueLogEntry{}, errors.Wrap(pkgerrors.Wrapf(err, "short read of %d-byte header", headerLen), "vlog: read header")
	}
	keyLen := int(binary.LittleEndian.Uint32(hdr[0:4]))
	valueLen := int(binary.LittleEndian.Uint32(hdr[4:8]))
	total := headerLen + keyLen + valueLen
	buf := make([]byte, total)
	if _, err := l.f.ReadAt(buf, int64(offset)); err != nil {
		return record.ValueLogEntry{}, errors.Wrap(pkgerrors.Wrapf(err, "short read of %d-byte entry", total), "vlog: read entry")
	}
	e, n, err := record.DecodeValueLogEntry(buf)
	if err != nil {
		return record.ValueLogEntry{}, errors.Wrapf(err, "vlog: decode entry at %d", offset)
	}
	if n == 0 {
		return record.ValueLogEntry{}, errors.Wrap(pkgerrors.Wrap(storageerr.UnexpectedEOF, "vlog: empty entry"), "vlog: short read")
	}
	return e, nil
}

// GCEntry is one entry read back by ReadChunkToGarbageCollect, tagged with
// its offset in the log.
type GCEntry struct {
	Offset uint64
	Entry  record.ValueLogEntry
}

// ReadChunkToGarbageCollect decodes consecutive entries starting at
// tailOffset until at least bytesToCollect bytes have been read, returning
// the entries and the exact number of bytes consumed. The final entry is
// always read in full even if it pushes past the budget -- records are
// never split (spec §4.4).
func (l *Log) ReadChunkToGarbageCollect(bytesToCollect uint64) ([]GCEntry, uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readChunkLocked(l.tailOffset, bytesToCollect)
}

// ReadChunkFrom is ReadChunkToGarbageCollect starting at an explicit offset
// rather than the log's committed tailOffset. The garbage collector uses
// this to scan ahead of the committed tail across several cycles before a
// write synchronizes the committed tail forward (see gc.Collector's
// shadow-tail staging).
func (l *Log) ReadChunkFrom(start, bytesToCollect uint64) ([]GCEntry, uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readChunkLocked(start, bytesToCollect)
}

func (l *Log) readChunkLocked(start, bytesToCollect uint64) ([]GCEntry, uint64, error) {
	var entries []GCEntry
	var consumed uint64
	offset := start
	for consumed < bytesToCollect && offset < l.size {
		e, err := l.readEntryAt(offset)
		if err != nil {
			return nil, 0, err
		}
		n := uint64(e.EncodedLen())
		entries = append(entries, GCEntry{Offset: offset, Entry: e})
		offset += n
		consumed += n
	}
	return entries, consumed, nil
}

// AdvanceTail moves the committed tailOffset forward by consumed bytes. The
// garbage collector calls this only once a write synchronizes its staged
// progress (spec §4.5's two-phase sync contract), not after every cycle.
func (l *Log) AdvanceTail(consumed uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tailOffset += consumed
}

// AppendDuringGC re-appends a live entry during a GC cycle, returning its new
// offset. storedValue must be the entry's value exactly as read back by
// readEntryAt/ReadChunkFrom -- already in its on-disk (possibly compressed)
// form. Unlike Append, this skips encodeValue: the bytes are re-homed
// verbatim, since running them through encodeValue again would compress an
// already-compressed value a second time.
func (l *Log) AppendDuringGC(key, storedValue []byte, createdAt int64, isTombstone bool) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeEntryLocked(record.ValueLogEntry{
		Key:         key,
		Value:       storedValue,
		CreatedAt:   createdAt,
		IsTombstone: isTombstone,
	})
}

// PunchMarker returns the last offset known to be physically reclaimed.
func (l *Log) PunchMarker() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.punchMarker
}

// SetPunchMarker records that [0, to) has been physically reclaimed.
func (l *Log) SetPunchMarker(to uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.punchMarker = to
}

// File exposes the underlying *os.File for the GC package's platform-gated
// hole-punch implementation.
func (l *Log) File() *os.File { return l.f }

// Recover streams the log from startOffset to EOF, producing the full entry
// list -- used after a crash to rebuild head/tail.
func (l *Log) Recover(startOffset uint64) ([]GCEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var entries []GCEntry
	offset := startOffset
	for offset < l.size {
		e, err := l.readEntryAt(offset)
		if err != nil {
			return nil, err
		}
		entries = append(entries, GCEntry{Offset: offset, Entry: e})
		offset += uint64(e.EncodedLen())
	}
	return entries, nil
}
