// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package flusher

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/coldbrewdb/coldbrew/internal/bucket"
	"github.com/coldbrewdb/coldbrew/internal/keyrange"
	"github.com/coldbrewdb/coldbrew/internal/logger"
	"github.com/coldbrewdb/coldbrew/internal/storageerr"
	"github.com/coldbrewdb/coldbrew/memtable"
	"github.com/coldbrewdb/coldbrew/sstable"
)

func newTestFlusher(t *testing.T) (*Flusher, *bucket.BucketMap, *keyrange.KeyRange, *FilterList, *ReadOnlyRegistry, chan string) {
	t.Helper()
	dir := t.TempDir()
	buckets := bucket.New(dir, sstable.BuildOptions{BlockSize: 256}, nil)
	kr := keyrange.New()
	filters := NewFilterList()
	registry := NewReadOnlyRegistry()
	signal := make(chan string, 4)
	f := New(buckets, kr, filters, registry, signal, logger.Nop{}, nil)
	return f, buckets, kr, filters, registry, signal
}

func TestFlushRegistersEverywhere(t *testing.T) {
	f, buckets, kr, filters, registry, signal := newTestFlusher(t)

	m := memtable.New("sealed-1")
	m.Put([]byte("a"), 1, 1)
	m.Put([]byte("b"), 2, 2)
	registry.Insert(m.ID(), m)

	require.NoError(t, f.Flush(m.ID(), m, 1000))

	require.Len(t, buckets.Buckets(), 1)
	require.Len(t, filters.Snapshot(), 1)

	candidates := kr.Filter([]byte("a"))
	require.Len(t, candidates, 1)

	_, ok := registry.Get(m.ID())
	require.False(t, ok)

	select {
	case path := <-signal:
		require.NotEmpty(t, path)
	default:
		t.Fatal("expected a flush signal")
	}
}

func TestFlushEmptyMemtableFails(t *testing.T) {
	f, _, _, _, _, _ := newTestFlusher(t)
	m := memtable.New("empty")
	err := f.Flush(m.ID(), m, 1000)
	require.ErrorIs(t, err, storageerr.EmptyMemtable)
}

func TestFlushSignalOverflowDoesNotFailFlush(t *testing.T) {
	dir := t.TempDir()
	buckets := bucket.New(dir, sstable.BuildOptions{BlockSize: 256}, nil)
	kr := keyrange.New()
	filters := NewFilterList()
	registry := NewReadOnlyRegistry()
	signal := make(chan string) // unbuffered, no reader: every send overflows
	f := New(buckets, kr, filters, registry, signal, logger.Nop{}, nil)

	m := memtable.New("sealed")
	m.Put([]byte("a"), 1, 1)
	registry.Insert(m.ID(), m)

	require.NoError(t, f.Flush(m.ID(), m, 1000))
}

func TestReadOnlyRegistrySnapshot(t *testing.T) {
	r := NewReadOnlyRegistry()
	m1 := memtable.New("one")
	m2 := memtable.New("two")
	r.Insert(m1.ID(), m1)
	r.Insert(m2.ID(), m2)

	require.Len(t, r.Snapshot(), 2)
	r.Remove(m1.ID())
	require.Len(t, r.Snapshot(), 1)
}

func TestFilterListPushAndResort(t *testing.T) {
	fl := NewFilterList()
	h1 := sstable.NewHandle("a", "a.idx", 1)
	h2 := sstable.NewHandle("b", "b.idx", 5)
	fl.PushAndResort(FilterEntry{DataPath: "a", Handle: h1})
	fl.PushAndResort(FilterEntry{DataPath: "b", Handle: h2})

	snap := fl.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, "b", snap[0].DataPath) // higher hotness sorts first
}

func TestFilterListRemove(t *testing.T) {
	fl := NewFilterList()
	h1 := sstable.NewHandle("a", "a.idx", 1)
	fl.PushAndResort(FilterEntry{DataPath: "a", Handle: h1})
	fl.Remove("a")
	require.Empty(t, fl.Snapshot())
}
