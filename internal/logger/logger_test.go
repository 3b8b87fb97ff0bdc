// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package logger

import "testing"

func TestNopDiscardsWithoutPanicking(t *testing.T) {
	var l Logger = Nop{}
	l.Infof("info %d", 1)
	l.Errorf("error %s", "x")
}

func TestDefaultLogsWithoutPanicking(t *testing.T) {
	var l Logger = Default{}
	l.Infof("info %d", 1)
	l.Errorf("error %s", "x")
}
