// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package bucket

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/coldbrewdb/coldbrew/memtable"
	"github.com/coldbrewdb/coldbrew/sstable"
)

func sourceWithEntries(n int, padding int) memtable.Source {
	m := memtable.New("src")
	pad := make([]byte, padding)
	for i := 0; i < n; i++ {
		m.Put([]byte(fmt.Sprintf("key-%06d-%s", i, pad)), 0, uint64(i))
	}
	return m
}

func TestInsertIntoCreatesNewBucket(t *testing.T) {
	dir := t.TempDir()
	bm := New(dir, sstable.BuildOptions{BlockSize: 256}, nil)

	handle, err := bm.InsertInto(sourceWithEntries(20, 0), 1000, 1)
	require.NoError(t, err)
	require.NotNil(t, handle)
	require.Len(t, bm.Buckets(), 1)
	require.Len(t, bm.Buckets()[0].SSTables, 1)

	_, ok := bm.TableByDataPath(handle.DataPath)
	require.True(t, ok)
}

func TestInsertIntoGroupsSimilarSizedTables(t *testing.T) {
	dir := t.TempDir()
	bm := New(dir, sstable.BuildOptions{BlockSize: 256}, nil)

	for i := 0; i < 3; i++ {
		_, err := bm.InsertInto(sourceWithEntries(20, 0), int64(1000+i), 1)
		require.NoError(t, err)
	}
	require.Len(t, bm.Buckets(), 1)
	require.Len(t, bm.Buckets()[0].SSTables, 3)
}

func TestExtractCompactionCandidatesHonorsThresholds(t *testing.T) {
	dir := t.TempDir()
	bm := New(dir, sstable.BuildOptions{BlockSize: 256}, nil)

	for i := 0; i < MinThreshold-1; i++ {
		_, err := bm.InsertInto(sourceWithEntries(20, 0), int64(1000+i), 1)
		require.NoError(t, err)
	}
	require.Empty(t, bm.ExtractCompactionCandidates())

	_, err := bm.InsertInto(sourceWithEntries(20, 0), int64(2000), 1)
	require.NoError(t, err)
	sets := bm.ExtractCompactionCandidates()
	require.Len(t, sets, 1)
	require.Len(t, sets[0].Input, MinThreshold)
}

func TestDeleteSSTablesKeepsCorrectSurvivors(t *testing.T) {
	dir := t.TempDir()
	bm := New(dir, sstable.BuildOptions{BlockSize: 256}, nil)

	var handles []*sstable.Handle
	for i := 0; i < 6; i++ {
		h, err := bm.InsertInto(sourceWithEntries(20, 0), int64(1000+i), 1)
		require.NoError(t, err)
		handles = append(handles, h)
	}

	bucketID := bm.Buckets()[0].ID
	// Compact the first 4 (oldest) tables; the last 2 must survive, not the
	// first 2 -- this is the documented delete_sstables bug fix.
	err := bm.DeleteSSTables(bucketID, 4, nil)
	require.NoError(t, err)

	survivors := bm.Buckets()[0].SSTables
	require.Len(t, survivors, 2)
	require.Equal(t, handles[4].DataPath, survivors[0].Table.Handle().DataPath)
	require.Equal(t, handles[5].DataPath, survivors[1].Table.Handle().DataPath)

	// Deleted tables' paths must no longer resolve via byPath.
	_, ok := bm.TableByDataPath(handles[0].DataPath)
	require.False(t, ok)
}

func TestDeleteSSTablesRemovesEmptyBucket(t *testing.T) {
	dir := t.TempDir()
	bm := New(dir, sstable.BuildOptions{BlockSize: 256}, nil)

	_, err := bm.InsertInto(sourceWithEntries(20, 0), 1000, 1)
	require.NoError(t, err)
	bucketID := bm.Buckets()[0].ID

	err = bm.DeleteSSTables(bucketID, 1, nil)
	require.NoError(t, err)
	require.Empty(t, bm.Buckets())
}

func TestRecoverRebuildsBucketMap(t *testing.T) {
	dir := t.TempDir()
	bm := New(dir, sstable.BuildOptions{BlockSize: 256}, nil)

	for i := 0; i < 3; i++ {
		_, err := bm.InsertInto(sourceWithEntries(20, 0), int64(1000+i), 1)
		require.NoError(t, err)
	}

	recovered, err := Recover(dir, sstable.BuildOptions{BlockSize: 256}, 0.01, nil, nil)
	require.NoError(t, err)
	require.Len(t, recovered.Buckets(), 1)
	require.Len(t, recovered.Buckets()[0].SSTables, 3)
}

func TestRecoverMissingDirectoryReturnsEmptyMap(t *testing.T) {
	bm, err := Recover("/nonexistent/path/does-not-exist", sstable.BuildOptions{}, 0.01, nil, nil)
	require.NoError(t, err)
	require.Empty(t, bm.Buckets())
}

func TestAllTablesByHotnessDescending(t *testing.T) {
	dir := t.TempDir()
	bm := New(dir, sstable.BuildOptions{BlockSize: 256}, nil)

	for i := 0; i < 3; i++ {
		_, err := bm.InsertInto(sourceWithEntries(20, 0), int64(1000+i), 1)
		require.NoError(t, err)
	}
	tables := bm.AllTablesByHotness()
	require.Len(t, tables, 3)
	for i := 1; i < len(tables); i++ {
		require.GreaterOrEqual(t, tables[i-1].Handle().Hotness(), tables[i].Handle().Hotness())
	}
}
