// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package compactor

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/coldbrewdb/coldbrew/internal/bucket"
	"github.com/coldbrewdb/coldbrew/internal/flusher"
	"github.com/coldbrewdb/coldbrew/internal/keyrange"
	"github.com/coldbrewdb/coldbrew/internal/logger"
	"github.com/coldbrewdb/coldbrew/memtable"
	"github.com/coldbrewdb/coldbrew/sstable"
)

func fillBucketToThreshold(t *testing.T, buckets *bucket.BucketMap, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		m := memtable.New(fmt.Sprintf("mt-%d", i))
		for j := 0; j < 20; j++ {
			m.Put([]byte(fmt.Sprintf("key-%03d-%03d", i, j)), uint32(j), uint64(j))
		}
		_, err := buckets.InsertInto(m, int64(1000+i), 1)
		require.NoError(t, err)
	}
}

func TestRunOnceCompactsEligibleBucket(t *testing.T) {
	dir := t.TempDir()
	buckets := bucket.New(dir, sstable.BuildOptions{BlockSize: 256}, nil)
	kr := keyrange.New()
	filters := flusher.NewFilterList()
	c := New(buckets, kr, filters, logger.Nop{})

	fillBucketToThreshold(t, buckets, bucket.MinThreshold)

	n, err := c.RunOnce(5000)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// The merged replacement table should itself be the only bucket member
	// now (inputs were deleted, their merge result was inserted).
	tables := buckets.AllTablesByHotness()
	require.Len(t, tables, 1)
}

func TestRunOnceNoEligibleBucketsIsNoop(t *testing.T) {
	dir := t.TempDir()
	buckets := bucket.New(dir, sstable.BuildOptions{BlockSize: 256}, nil)
	kr := keyrange.New()
	filters := flusher.NewFilterList()
	c := New(buckets, kr, filters, logger.Nop{})

	fillBucketToThreshold(t, buckets, bucket.MinThreshold-1)

	n, err := c.RunOnce(5000)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestCompactionUpdatesKeyRangeAndFilters(t *testing.T) {
	dir := t.TempDir()
	buckets := bucket.New(dir, sstable.BuildOptions{BlockSize: 256}, nil)
	kr := keyrange.New()
	filters := flusher.NewFilterList()
	c := New(buckets, kr, filters, logger.Nop{})

	fillBucketToThreshold(t, buckets, bucket.MinThreshold)

	_, err := c.RunOnce(5000)
	require.NoError(t, err)

	// Old input tables' key ranges must be gone; exactly one merged range
	// remains.
	require.Len(t, filters.Snapshot(), 1)

	found := kr.Filter([]byte("key-000-000"))
	require.Len(t, found, 1)
}
