// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package block

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/coldbrewdb/coldbrew/internal/record"
)

func TestBlockAccumulatesAndReports(t *testing.T) {
	b := New(4096)
	require.True(t, b.Empty())

	e := record.Entry{Key: []byte("k1"), ValueOffset: 1, CreatedAt: 1}
	b.Append(e)
	require.False(t, b.Empty())
	require.Equal(t, []byte("k1"), b.FirstKey())
	require.Equal(t, e.EncodedLen(), len(b.Bytes()))
}

func TestBlockNeverFullWhenEmpty(t *testing.T) {
	b := New(8)
	require.False(t, b.IsFull(1000))
}

func TestBlockIsFullAfterThreshold(t *testing.T) {
	b := New(16)
	e := record.Entry{Key: []byte("k"), ValueOffset: 1, CreatedAt: 1}
	b.Append(e)
	require.True(t, b.IsFull(1000))
}

func TestBlockReset(t *testing.T) {
	b := New(4096)
	b.Append(record.Entry{Key: []byte("k"), ValueOffset: 1, CreatedAt: 1})
	b.Reset()
	require.True(t, b.Empty())
	require.Nil(t, b.FirstKey())
	require.Empty(t, b.Bytes())
}
