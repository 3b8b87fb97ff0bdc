// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

//go:build linux

package gc

import (
	"os"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// punchHoles reclaims [offset, offset+length) in f on Linux via fallocate's
// punch-hole mode, leaving the file's logical length unchanged (spec §4.5
// step 5, §6 "hole-punched ranges appear as zero-filled extents").
func punchHoles(f *os.File, offset, length int64) error {
	if length <= 0 {
		return nil
	}
	err := unix.Fallocate(int(f.Fd()), unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, offset, length)
	if err != nil {
		return errors.Wrapf(err, "gc: fallocate punch-hole [%d,%d)", offset, offset+length)
	}
	return nil
}
