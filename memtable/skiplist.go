// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package memtable

import (
	"bytes"
	"math/rand"

	"github.com/coldbrewdb/coldbrew/internal/record"
)

const maxHeight = 16
const branching = 4

// skipList is a byte-keyed probabilistic skip list mapping a key to the most
// recent record.Entry written for it. It is the ordered index a live
// Memtable uses both for point lookups and for producing a sorted entries
// stream at seal time.
type skipList struct {
	head   *skipNode
	height int
	length int
	rnd    *rand.Rand
}

type skipNode struct {
	entry record.Entry
	next  []*skipNode
}

func newSkipList() *skipList {
	return &skipList{
		head:   &skipNode{next: make([]*skipNode, maxHeight)},
		height: 1,
		rnd:    rand.New(rand.NewSource(1)),
	}
}

func (s *skipList) randomHeight() int {
	h := 1
	for h < maxHeight && s.rnd.Intn(branching) == 0 {
		h++
	}
	return h
}

// insert sets key's entry, returning true if a record for key already
// existed (and was overwritten in place).
func (s *skipList) insert(key []byte, e record.Entry) (replaced bool) {
	update := make([]*skipNode, maxHeight)
	node := s.head
	for level := s.height - 1; level >= 0; level-- {
		for node.next[level] != nil && bytes.Compare(node.next[level].entry.Key, key) < 0 {
			node = node.next[level]
		}
		update[level] = node
	}
	if next := node.next[0]; next != nil && bytes.Equal(next.entry.Key, key) {
		next.entry = e
		return true
	}

	h := s.randomHeight()
	if h > s.height {
		for level := s.height; level < h; level++ {
			update[level] = s.head
		}
		s.height = h
	}
	n := &skipNode{entry: e, next: make([]*skipNode, h)}
	for level := 0; level < h; level++ {
		n.next[level] = update[level].next[level]
		update[level].next[level] = n
	}
	s.length++
	return false
}

func (s *skipList) get(key []byte) (record.Entry, bool) {
	node := s.head
	for level := s.height - 1; level >= 0; level-- {
		for node.next[level] != nil && bytes.Compare(node.next[level].entry.Key, key) < 0 {
			node = node.next[level]
		}
	}
	if next := node.next[0]; next != nil && bytes.Equal(next.entry.Key, key) {
		return next.entry, true
	}
	return record.Entry{}, false
}

func (s *skipList) first() record.Entry {
	return s.head.next[0].entry
}

func (s *skipList) last() record.Entry {
	node := s.head
	for level := s.height - 1; level >= 0; level-- {
		for node.next[level] != nil {
			node = node.next[level]
		}
	}
	return node.entry
}

// ascend calls fn for every entry in ascending key order, stopping early if
// fn returns false.
func (s *skipList) ascend(fn func(record.Entry) bool) {
	for node := s.head.next[0]; node != nil; node = node.next[0] {
		if !fn(node.entry) {
			return
		}
	}
}
