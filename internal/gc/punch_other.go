// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

//go:build !linux

package gc

import (
	"os"

	"github.com/coldbrewdb/coldbrew/internal/storageerr"
)

// punchHoles leaves the file untouched on platforms without fallocate
// punch-hole support and returns storageerr.GCPlatformUnsupported for any
// non-empty range (spec §7). The logical tail still advances; the caller
// reports this as a degraded, non-fatal condition.
func punchHoles(f *os.File, offset, length int64) error {
	if length <= 0 {
		return nil
	}
	return storageerr.GCPlatformUnsupported
}
