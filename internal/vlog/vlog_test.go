// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package vlog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestLog(t *testing.T, compression Compression) *Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "VLOG")
	l, err := Open(path, compression)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestAppendGetRoundTrip(t *testing.T) {
	l := openTestLog(t, NoCompression)
	offset, err := l.Append([]byte("k"), []byte("value"), 100, false)
	require.NoError(t, err)

	res, err := l.Get(offset)
	require.NoError(t, err)
	require.Equal(t, []byte("value"), res.Value)
	require.False(t, res.IsTombstone)
}

func TestAppendGetWithCompression(t *testing.T) {
	l := openTestLog(t, ZstdCompression)
	offset, err := l.Append([]byte("k"), []byte("compressible-compressible-compressible"), 1, false)
	require.NoError(t, err)

	res, err := l.Get(offset)
	require.NoError(t, err)
	require.Equal(t, []byte("compressible-compressible-compressible"), res.Value)
}

func TestAppendTombstone(t *testing.T) {
	l := openTestLog(t, NoCompression)
	offset, err := l.Append([]byte("k"), nil, 1, true)
	require.NoError(t, err)

	res, err := l.Get(offset)
	require.NoError(t, err)
	require.True(t, res.IsTombstone)
}

func TestHeadOffsetAdvances(t *testing.T) {
	l := openTestLog(t, NoCompression)
	require.Equal(t, uint64(0), l.HeadOffset())
	_, err := l.Append([]byte("k"), []byte("v"), 1, false)
	require.NoError(t, err)
	require.Greater(t, l.HeadOffset(), uint64(0))
}

func TestReadChunkToGarbageCollect(t *testing.T) {
	l := openTestLog(t, NoCompression)
	for i := 0; i < 5; i++ {
		_, err := l.Append([]byte("k"), []byte("value"), int64(i), false)
		require.NoError(t, err)
	}
	entries, consumed, err := l.ReadChunkToGarbageCollect(l.Size())
	require.NoError(t, err)
	require.Len(t, entries, 5)
	require.Equal(t, l.Size(), consumed)
}

func TestReadChunkNeverSplitsARecord(t *testing.T) {
	l := openTestLog(t, NoCompression)
	off1, err := l.Append([]byte("k"), []byte("value"), 1, false)
	require.NoError(t, err)
	_, err = l.Append([]byte("k2"), []byte("value2"), 2, false)
	require.NoError(t, err)

	// Ask for fewer bytes than the first record's length; the chunk read
	// always returns the full first record anyway.
	entries, consumed, err := l.ReadChunkFrom(off1, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Greater(t, consumed, uint64(1))
}

func TestAdvanceTailMovesTailOnly(t *testing.T) {
	l := openTestLog(t, NoCompression)
	_, err := l.Append([]byte("k"), []byte("v"), 1, false)
	require.NoError(t, err)
	headBefore := l.HeadOffset()

	l.AdvanceTail(4)
	require.Equal(t, uint64(4), l.TailOffset())
	require.Equal(t, headBefore, l.HeadOffset())
}

func TestRecoverStreamsFromOffset(t *testing.T) {
	l := openTestLog(t, NoCompression)
	for i := 0; i < 3; i++ {
		_, err := l.Append([]byte("k"), []byte("v"), int64(i), false)
		require.NoError(t, err)
	}
	entries, err := l.Recover(0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
}

func TestGetPastEndOfLogErrors(t *testing.T) {
	l := openTestLog(t, NoCompression)
	_, err := l.Get(9999)
	require.Error(t, err)
}

// TestAppendDuringGCDoesNotReencode pins AppendDuringGC's contract: its
// storedValue argument is written through verbatim, never passed back
// through encodeValue. A GC cycle always calls it with bytes already read
// off disk (ge.Entry.Value), so running them through the compressor again
// would produce a value that decodes one pass short.
func TestAppendDuringGCDoesNotReencode(t *testing.T) {
	l := openTestLog(t, ZstdCompression)
	original, err := l.Append([]byte("k"), []byte("compressible-compressible-compressible"), 1, false)
	require.NoError(t, err)

	entries, _, err := l.ReadChunkFrom(original, l.Size())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	stored := entries[0].Entry.Value // on-disk bytes: already zstd-compressed

	relocated, err := l.AppendDuringGC([]byte("k"), stored, 1, false)
	require.NoError(t, err)

	res, err := l.Get(relocated)
	require.NoError(t, err)
	require.Equal(t, []byte("compressible-compressible-compressible"), res.Value)
}
