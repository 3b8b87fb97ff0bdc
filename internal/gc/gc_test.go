// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package gc

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/coldbrewdb/coldbrew/internal/logger"
	"github.com/coldbrewdb/coldbrew/internal/vlog"
)

// fakeLiveness treats every key in live as pointing at the given offset;
// everything else is absent.
type fakeLiveness struct {
	live map[string]uint32
}

func (f *fakeLiveness) CurrentOffset(key []byte) (uint32, bool, bool) {
	off, ok := f.live[string(key)]
	if !ok {
		return 0, false, false
	}
	return off, false, true
}

func openTestLog(t *testing.T) *vlog.Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "VLOG")
	l, err := vlog.Open(path, vlog.NoCompression)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

// TestRunCycleDoesNotAdvanceTailWithoutSync mirrors
// datastore_gc_test_free_before_synchronization: a GC cycle run alone, with
// no subsequent write, must leave the log's committed tail untouched.
func TestRunCycleDoesNotAdvanceTailWithoutSync(t *testing.T) {
	l := openTestLog(t)
	offset, err := l.Append([]byte("a"), []byte("value-a"), 1, false)
	require.NoError(t, err)

	live := &fakeLiveness{live: map[string]uint32{"a": uint32(offset)}}
	c := New(l, live, Options{BytesToCollect: 1 << 20}, logger.Nop{}, nil)

	initialTail := l.TailOffset()
	require.NoError(t, c.RunCycle(context.Background(), 1<<20))
	require.Equal(t, initialTail, l.TailOffset())
}

// TestSyncAdvancesTailAfterCycle mirrors
// datastore_gc_test_tail_shifted: the tail only moves once Sync is called,
// which is what an engine write does before applying its own mutation.
func TestSyncAdvancesTailAfterCycle(t *testing.T) {
	l := openTestLog(t)
	offset, err := l.Append([]byte("a"), []byte("value-a"), 1, false)
	require.NoError(t, err)

	live := &fakeLiveness{live: map[string]uint32{"a": uint32(offset)}}
	c := New(l, live, Options{BytesToCollect: 1 << 20}, logger.Nop{}, nil)

	require.NoError(t, c.RunCycle(context.Background(), 1<<20))
	initialTail := l.TailOffset()

	updates := c.Sync()
	require.Greater(t, l.TailOffset(), initialTail)
	require.NotEmpty(t, updates)
	require.Equal(t, []byte("a"), updates[0].Key)
}

func TestSyncWithNothingStagedIsNoop(t *testing.T) {
	l := openTestLog(t)
	live := &fakeLiveness{live: map[string]uint32{}}
	c := New(l, live, Options{}, logger.Nop{}, nil)

	updates := c.Sync()
	require.Nil(t, updates)
	require.Equal(t, uint64(0), l.TailOffset())
}

func TestDeadEntriesAreNotReAppended(t *testing.T) {
	l := openTestLog(t)
	_, err := l.Append([]byte("dead-key"), []byte("stale-value"), 1, false)
	require.NoError(t, err)
	headAfterAppend := l.HeadOffset()

	// Nothing in the live set: "dead-key" has since been overwritten or
	// deleted, so the GC cycle shouldn't re-append it.
	live := &fakeLiveness{live: map[string]uint32{}}
	c := New(l, live, Options{}, logger.Nop{}, nil)

	require.NoError(t, c.RunCycle(context.Background(), 1<<20))
	require.Equal(t, headAfterAppend, l.HeadOffset())
}

func TestStaleVersionIsNotReAppended(t *testing.T) {
	l := openTestLog(t)
	staleOffset, err := l.Append([]byte("k"), []byte("old-value"), 1, false)
	require.NoError(t, err)
	newOffset, err := l.Append([]byte("k"), []byte("new-value"), 2, false)
	require.NoError(t, err)
	require.NotEqual(t, staleOffset, newOffset)

	// Liveness now points at the newer offset; the GC cycle scans the older
	// entry first and must skip it since it's superseded.
	live := &fakeLiveness{live: map[string]uint32{"k": uint32(newOffset)}}
	c := New(l, live, Options{}, logger.Nop{}, nil)

	require.NoError(t, c.RunCycle(context.Background(), uint64(staleOffset)+1))
	updates := c.Sync()
	require.Empty(t, updates)
}

func TestTombstonesAreSkipped(t *testing.T) {
	l := openTestLog(t)
	_, err := l.Append([]byte("k"), nil, 1, true)
	require.NoError(t, err)
	headAfter := l.HeadOffset()

	live := &fakeLiveness{live: map[string]uint32{}}
	c := New(l, live, Options{}, logger.Nop{}, nil)
	require.NoError(t, c.RunCycle(context.Background(), 1<<20))
	require.Equal(t, headAfter, l.HeadOffset())
}
