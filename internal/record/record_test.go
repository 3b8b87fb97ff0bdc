// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package record

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEntryEncodeDecodeRoundTrip(t *testing.T) {
	e := Entry{Key: []byte("hello"), ValueOffset: 42, CreatedAt: 123456789, IsTombstone: false}
	buf := e.Encode(nil)
	require.Equal(t, e.EncodedLen(), len(buf))

	got, n, err := DecodeEntry(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, e.Key, got.Key)
	require.Equal(t, e.ValueOffset, got.ValueOffset)
	require.Equal(t, e.CreatedAt, got.CreatedAt)
	require.Equal(t, e.IsTombstone, got.IsTombstone)
}

func TestEntryDecodeTombstone(t *testing.T) {
	e := Entry{Key: []byte("k"), IsTombstone: true}
	buf := e.Encode(nil)
	got, _, err := DecodeEntry(buf)
	require.NoError(t, err)
	require.True(t, got.IsTombstone)
}

func TestDecodeEntryEmptyBuffer(t *testing.T) {
	got, n, err := DecodeEntry(nil)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Equal(t, Entry{}, got)
}

func TestDecodeEntryTruncated(t *testing.T) {
	e := Entry{Key: []byte("longkey"), ValueOffset: 1, CreatedAt: 2}
	buf := e.Encode(nil)
	_, _, err := DecodeEntry(buf[:len(buf)-2])
	require.Error(t, err)
}

func TestValueLogEntryEncodeDecodeRoundTrip(t *testing.T) {
	e := ValueLogEntry{Key: []byte("k"), Value: []byte("value-bytes"), CreatedAt: 99, IsTombstone: false}
	buf := e.Encode(nil)
	require.Equal(t, e.EncodedLen(), len(buf))

	got, n, err := DecodeValueLogEntry(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, e.Key, got.Key)
	require.Equal(t, e.Value, got.Value)
	require.Equal(t, e.CreatedAt, got.CreatedAt)
}

func TestValueLogEntryEmptyValue(t *testing.T) {
	e := ValueLogEntry{Key: []byte("k"), CreatedAt: 1, IsTombstone: true}
	buf := e.Encode(nil)
	got, n, err := DecodeValueLogEntry(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Empty(t, got.Value)
	require.True(t, got.IsTombstone)
}

func TestDecodeValueLogEntryTruncatedHeader(t *testing.T) {
	_, _, err := DecodeValueLogEntry([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestMultipleEntriesBackToBack(t *testing.T) {
	a := Entry{Key: []byte("a"), ValueOffset: 1, CreatedAt: 1}
	b := Entry{Key: []byte("bb"), ValueOffset: 2, CreatedAt: 2}
	buf := a.Encode(nil)
	buf = b.Encode(buf)

	gotA, n, err := DecodeEntry(buf)
	require.NoError(t, err)
	require.Equal(t, a.Key, gotA.Key)

	gotB, _, err := DecodeEntry(buf[n:])
	require.NoError(t, err)
	require.Equal(t, b.Key, gotB.Key)
}
