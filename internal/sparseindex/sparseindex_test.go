// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sparseindex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildIndex() *Index {
	idx := &Index{}
	idx.Append([]byte("apple"), 0)
	idx.Append([]byte("grape"), 100)
	idx.Append([]byte("melon"), 220)
	return idx
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	idx := buildIndex()
	data := idx.Serialize()
	got, err := Deserialize(data)
	require.NoError(t, err)
	require.Equal(t, idx.Records, got.Records)
}

func TestLookupIndex(t *testing.T) {
	idx := buildIndex()

	i, ok := idx.LookupIndex([]byte("banana"))
	require.True(t, ok)
	require.Equal(t, 0, i)

	i, ok = idx.LookupIndex([]byte("grape"))
	require.True(t, ok)
	require.Equal(t, 1, i)

	_, ok = idx.LookupIndex([]byte("aardvark"))
	require.False(t, ok)
}

func TestRangeIndices(t *testing.T) {
	idx := buildIndex()
	start, end, ok := idx.RangeIndices([]byte("banana"), []byte("lemon"))
	require.True(t, ok)
	require.Equal(t, 0, start)
	require.Equal(t, 1, end)
}

func TestRangeIndicesEmptyIndex(t *testing.T) {
	idx := &Index{}
	_, _, ok := idx.RangeIndices([]byte("a"), []byte("z"))
	require.False(t, ok)
}

func TestBlockSpan(t *testing.T) {
	idx := buildIndex()
	start, end := idx.BlockSpan(0, 500)
	require.Equal(t, uint32(0), start)
	require.Equal(t, uint32(100), end)

	start, end = idx.BlockSpan(2, 500)
	require.Equal(t, uint32(220), start)
	require.Equal(t, uint32(500), end)
}

func TestDeserializeTruncated(t *testing.T) {
	idx := buildIndex()
	data := idx.Serialize()
	_, err := Deserialize(data[:len(data)-1])
	require.Error(t, err)
}
