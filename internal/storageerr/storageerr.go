// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package storageerr defines the error kinds shared across the storage
// engine's components. Each kind is a sentinel that callers can test for
// with errors.Is; wrapping with path/component context happens at the call
// site via github.com/cockroachdb/errors.
package storageerr

import "github.com/cockroachdb/errors"

// UnexpectedEOF is returned when a short read is observed in the middle of a
// fixed-layout record (block entry, vlog entry). It is fatal for the current
// operation: the underlying file is corrupt at that point.
var UnexpectedEOF = errors.New("storageerr: unexpected EOF mid-record")

// EmptyIndex is returned by find-smallest/find-biggest queries over an empty
// key set.
var EmptyIndex = errors.New("storageerr: index is empty")

// BucketInsertionFailed is returned when no existing bucket matched a
// candidate SSTable and creating a new bucket also failed.
var BucketInsertionFailed = errors.New("storageerr: bucket insertion failed")

// FlushSignalOverflow names the degraded (never fatal) condition where the
// flush-completion broadcast channel was full and a listener missed a
// notification. The flusher logs it and counts it; Flush still returns nil.
var FlushSignalOverflow = errors.New("storageerr: flush signal channel overflowed")

// GCPlatformUnsupported is returned (never fatal) when hole-punching isn't
// available on the current platform; the GC tail still advances logically.
var GCPlatformUnsupported = errors.New("storageerr: hole punching unsupported on this platform")

// EmptyMemtable is returned by the flusher when asked to flush a memtable
// with no entries.
var EmptyMemtable = errors.New("storageerr: cannot flush an empty memtable")
