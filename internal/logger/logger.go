// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package logger gives the engine a small, replaceable logging seam, mirroring
// the LoggerAndTracer seam the teacher's sstable reader accepts. The CLI-level
// log sink (files, rotation, structured output) stays out of scope; this is
// just the interface the core calls into.
package logger

import "log"

// Logger receives operationally significant, non-fatal events from the
// engine: degraded conditions (FlushSignalOverflow, GCPlatformUnsupported),
// best-effort cleanup failures (orphaned sstable files), and informational
// notes such as a GC tail advance made without physical reclamation.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Default logs through the standard library's log package.
type Default struct{}

// Infof implements Logger.
func (Default) Infof(format string, args ...interface{}) { log.Printf("INFO: "+format, args...) }

// Errorf implements Logger.
func (Default) Errorf(format string, args ...interface{}) { log.Printf("ERROR: "+format, args...) }

// Nop discards everything. Useful in tests that assert on return values, not
// log output.
type Nop struct{}

// Infof implements Logger.
func (Nop) Infof(string, ...interface{}) {}

// Errorf implements Logger.
func (Nop) Errorf(string, ...interface{}) {}
