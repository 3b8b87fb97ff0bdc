// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHotnessIsSumOfReadAndWrite(t *testing.T) {
	h := NewHandle("a.db", "a.idx", 3)
	require.Equal(t, uint64(3), h.Hotness())

	h.BumpWriteHotness()
	h.BumpReadHotness()
	h.BumpReadHotness()
	require.Equal(t, uint64(6), h.Hotness())
}

func TestHotnessBumpsAreConcurrencySafe(t *testing.T) {
	h := NewHandle("a.db", "a.idx", 0)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.BumpReadHotness()
		}()
	}
	wg.Wait()
	require.Equal(t, uint64(100), h.Hotness())
}
