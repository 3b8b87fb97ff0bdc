// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package compactor merges a bucket's oldest SSTables into one replacement
// table, reusing the same build path the Flusher uses by presenting the
// merge as a memtable.Source (spec §9: "dynamic dispatch over the
// insertable abstraction").
package compactor

import (
	"os"

	"github.com/cockroachdb/errors"

	"github.com/coldbrewdb/coldbrew/internal/bloom"
	"github.com/coldbrewdb/coldbrew/internal/bucket"
	"github.com/coldbrewdb/coldbrew/internal/flusher"
	"github.com/coldbrewdb/coldbrew/internal/keyrange"
	"github.com/coldbrewdb/coldbrew/internal/logger"
	"github.com/coldbrewdb/coldbrew/internal/record"
	"github.com/coldbrewdb/coldbrew/memtable"
	"github.com/coldbrewdb/coldbrew/sstable"
)

// Compactor runs compaction rounds over a BucketMap, keeping the shared
// KeyRange and bloom filter list in sync with each round's result.
type Compactor struct {
	buckets  *bucket.BucketMap
	keyRange *keyrange.KeyRange
	filters  *flusher.FilterList
	log      logger.Logger
}

// New returns a Compactor wired to the engine's shared collaborators.
func New(buckets *bucket.BucketMap, kr *keyrange.KeyRange, filters *flusher.FilterList, log logger.Logger) *Compactor {
	if log == nil {
		log = logger.Nop{}
	}
	return &Compactor{buckets: buckets, keyRange: kr, filters: filters, log: log}
}

// RunOnce executes one compaction round: every bucket with at least
// MinThreshold members has its oldest MaxThreshold tables merged into a
// single replacement, which BucketMap.InsertInto then places by size like
// any other flush (spec §4.2). Returns the number of buckets compacted.
func (c *Compactor) RunOnce(unixMSBase int64) (int, error) {
	sets := c.buckets.ExtractCompactionCandidates()
	for i, set := range sets {
		if err := c.compactSet(set, unixMSBase+int64(i)); err != nil {
			return i, errors.Wrapf(err, "compactor: bucket %s", set.BucketID)
		}
	}
	return len(sets), nil
}

func (c *Compactor) compactSet(set bucket.CompactionSet, unixMS int64) error {
	if len(set.Input) == 0 {
		return nil
	}

	sources := make([]memtable.Source, len(set.Input))
	var maxHotness uint64
	for i, p := range set.Input {
		sources[i] = newTableSource(p.Table)
		if h := p.Table.Handle().Hotness(); h > maxHotness {
			maxHotness = h
		}
	}
	merged := memtable.NewMergedSource(sources...)

	handle, err := c.buckets.InsertInto(merged, unixMS, maxHotness)
	if err != nil {
		return errors.Wrap(err, "insert merged sstable")
	}

	smallest, err := merged.SmallestKey()
	if err != nil {
		return errors.Wrap(err, "merged smallest key")
	}
	largest, err := merged.LargestKey()
	if err != nil {
		return errors.Wrap(err, "merged largest key")
	}
	c.keyRange.Set(handle.DataPath, smallest, largest, handle)
	c.filters.PushAndResort(flusher.FilterEntry{
		Filter:   merged.BloomFilter(),
		DataPath: handle.DataPath,
		Handle:   handle,
	})

	for _, p := range set.Input {
		c.keyRange.Remove(p.Table.Handle().DataPath)
		c.filters.Remove(p.Table.Handle().DataPath)
	}

	return c.buckets.DeleteSSTables(set.BucketID, len(set.Input), c.logf)
}

func (c *Compactor) logf(format string, args ...interface{}) {
	c.log.Errorf(format, args...)
}

// tableSource adapts an opened *sstable.Table to memtable.Source, letting
// the compactor feed sealed tables through the same merge path a live
// memtable would use.
type tableSource struct {
	t *sstable.Table
}

func newTableSource(t *sstable.Table) *tableSource {
	return &tableSource{t: t}
}

func (s *tableSource) Entries() []record.Entry {
	res, err := s.t.Range(s.t.Smallest(), s.t.Largest())
	if err != nil {
		return nil
	}
	out := make([]record.Entry, len(res))
	for i, re := range res {
		out[i] = record.Entry{Key: re.Key, ValueOffset: re.ValueOffset, CreatedAt: re.CreatedAt, IsTombstone: re.IsTombstone}
	}
	return out
}

func (s *tableSource) Size() int {
	fi, err := os.Stat(s.t.Handle().DataPath)
	if err != nil {
		return 0
	}
	return int(fi.Size())
}

func (s *tableSource) SmallestKey() ([]byte, error) { return s.t.Smallest(), nil }
func (s *tableSource) LargestKey() ([]byte, error)  { return s.t.Largest(), nil }
func (s *tableSource) BloomFilter() *bloom.Filter   { return s.t.Bloom() }
