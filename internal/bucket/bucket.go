// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package bucket implements size-tiered bucketed placement and compaction
// candidate selection for SSTables.
package bucket

import (
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/coldbrewdb/coldbrew/internal/metrics"
	"github.com/coldbrewdb/coldbrew/internal/storageerr"
	"github.com/coldbrewdb/coldbrew/memtable"
	"github.com/coldbrewdb/coldbrew/sstable"
)

// Size-tiered placement tuning constants, matching the source algorithm this
// package reimplements.
const (
	BucketLow      = 0.5
	BucketHigh     = 1.5
	MinSSTableSize = 32 // bytes
	MinThreshold   = 4
	MaxThreshold   = 32
)

// SSTablePath is one bucket member: the opened table plus the hotness it was
// inserted with.
type SSTablePath struct {
	Table   *sstable.Table
	Hotness uint64
}

// Bucket groups SSTables whose on-disk data-file sizes are close to each
// other (within [avg*BucketLow, avg*BucketHigh], or both below
// MinSSTableSize -- the small-file escape hatch). SSTables is kept in
// insertion order, oldest first, which extractCompactionSet and
// DeleteSSTables both rely on.
type Bucket struct {
	ID          uuid.UUID
	Dir         string
	AverageSize uint64
	SSTables    []SSTablePath
}

func newBucket(rootDir string) (*Bucket, error) {
	id := uuid.New()
	dir := filepath.Join(rootDir, "bucket"+id.String())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "bucket: create directory %s", dir)
	}
	return &Bucket{ID: id, Dir: dir}, nil
}

// matches reports whether an SSTable of the given size belongs in this
// bucket under the current average.
func (b *Bucket) matches(size uint64) bool {
	avg := float64(b.AverageSize)
	if size < MinSSTableSize && avg < MinSSTableSize {
		return true
	}
	return float64(size) > avg*BucketLow && float64(size) < avg*BucketHigh
}

func (b *Bucket) recomputeAverage() error {
	if len(b.SSTables) == 0 {
		b.AverageSize = 0
		return nil
	}
	var total uint64
	for _, p := range b.SSTables {
		fi, err := os.Stat(p.Table.Handle().DataPath)
		if err != nil {
			return errors.Wrapf(err, "bucket: stat %s", p.Table.Handle().DataPath)
		}
		total += uint64(fi.Size())
	}
	b.AverageSize = total / uint64(len(b.SSTables))
	return nil
}

// BucketMap is the uuid -> Bucket registry, plus the shared collaborators a
// placement decision touches: building the SSTable itself and recomputing
// the bucket's rolling average.
type BucketMap struct {
	rootDir string

	mu      sync.RWMutex
	buckets map[uuid.UUID]*Bucket
	// order is the deterministic iteration order insertInto walks when
	// looking for a matching bucket (spec §4.2: "iterate buckets in some
	// deterministic order, e.g. by id"). Insertion order of new buckets is
	// as good a deterministic tie-break as id order and avoids a sort on
	// every insert; we keep it explicit rather than relying on Go's
	// randomized map iteration.
	order []uuid.UUID

	// byPath indexes every open table by its data file path, so a KeyRange
	// hit (which only carries a shared *sstable.Handle) can be resolved
	// back to the table object a read actually calls Get/Range on.
	byPath map[string]*sstable.Table

	buildOpts sstable.BuildOptions
	met       *metrics.Metrics
}

// New returns an empty bucket map rooted at rootDir (the engine directory).
// met may be nil, in which case bucket/SSTable-count gauges and the
// insertion-failure counter are discarded.
func New(rootDir string, buildOpts sstable.BuildOptions, met *metrics.Metrics) *BucketMap {
	if met == nil {
		met = metrics.Nop()
	}
	return &BucketMap{
		rootDir:   rootDir,
		buckets:   make(map[uuid.UUID]*Bucket),
		byPath:    make(map[string]*sstable.Table),
		buildOpts: buildOpts,
		met:       met,
	}
}

// refreshGaugesLocked snapshots the current bucket/SSTable counts into the
// metrics gauges. Must be called with bm.mu held.
func (bm *BucketMap) refreshGaugesLocked() {
	var tables int
	for _, b := range bm.buckets {
		tables += len(b.SSTables)
	}
	bm.met.SetBucketGauges(len(bm.buckets), tables)
}

// TableByDataPath returns the open table at dataPath, if any.
func (bm *BucketMap) TableByDataPath(dataPath string) (*sstable.Table, bool) {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	t, ok := bm.byPath[dataPath]
	return t, ok
}

// Buckets returns a snapshot of the current bucket list, in deterministic
// order.
func (bm *BucketMap) Buckets() []*Bucket {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	out := make([]*Bucket, 0, len(bm.order))
	for _, id := range bm.order {
		out = append(out, bm.buckets[id])
	}
	return out
}

// InsertInto materializes source into a new SSTable and places it in the
// matching bucket whose average size is closest to the table's size
// (smallest |size-avg|/avg, ties going to the earlier bucket in order), or a
// freshly created one if none match (spec §4.2). Returns the table's shared
// handle.
func (bm *BucketMap) InsertInto(source memtable.Source, unixMS int64, hotness uint64) (*sstable.Handle, error) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	entries := source.Entries()

	// A bucket's matches() needs a candidate size to test against; we
	// approximate the incoming table's size as the sum of its source
	// entries' on-disk cost before the file exists, then re-derive the
	// true size from the written file once Build returns.
	approxSize := uint64(source.Size())
	var b *Bucket
	bestDist := 0.0
	for _, id := range bm.order {
		cand := bm.buckets[id]
		if !cand.matches(approxSize) {
			continue
		}
		avg := float64(cand.AverageSize)
		dist := math.Abs(float64(approxSize)-avg) / math.Max(avg, 1)
		if b == nil || dist < bestDist {
			b, bestDist = cand, dist
		}
	}
	if b != nil {
		table, err := sstable.Build(b.Dir, unixMS, entries, bm.buildOpts)
		if err != nil {
			return nil, errors.Wrap(err, "bucket: build sstable")
		}
		b.SSTables = append(b.SSTables, SSTablePath{Table: table, Hotness: hotness})
		for i := range b.SSTables {
			b.SSTables[i].Table.Handle().BumpWriteHotness()
		}
		if err := b.recomputeAverage(); err != nil {
			return nil, err
		}
		bm.byPath[table.Handle().DataPath] = table
		bm.refreshGaugesLocked()
		return table.Handle(), nil
	}

	b, err := newBucket(bm.rootDir)
	if err != nil {
		bm.met.RecordBucketInsertionFailure()
		return nil, errors.Wrap(storageerr.BucketInsertionFailed, err.Error())
	}
	table, err := sstable.Build(b.Dir, unixMS, entries, bm.buildOpts)
	if err != nil {
		bm.met.RecordBucketInsertionFailure()
		return nil, errors.Wrap(storageerr.BucketInsertionFailed, err.Error())
	}
	b.SSTables = append(b.SSTables, SSTablePath{Table: table, Hotness: 1})
	if err := b.recomputeAverage(); err != nil {
		return nil, err
	}
	bm.buckets[b.ID] = b
	bm.order = append(bm.order, b.ID)
	bm.byPath[table.Handle().DataPath] = table
	bm.refreshGaugesLocked()
	return table.Handle(), nil
}

// CompactionSet is one bucket's extracted compaction input: the tables to
// merge and the bucket they came from.
type CompactionSet struct {
	BucketID uuid.UUID
	Input    []SSTablePath
}

// ExtractCompactionCandidates selects every bucket with at least
// MinThreshold members, taking the oldest MaxThreshold from each as that
// round's compaction input (spec §4.2).
func (bm *BucketMap) ExtractCompactionCandidates() []CompactionSet {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	var sets []CompactionSet
	for _, id := range bm.order {
		b := bm.buckets[id]
		if len(b.SSTables) < MinThreshold {
			continue
		}
		n := len(b.SSTables)
		if n > MaxThreshold {
			n = MaxThreshold
		}
		input := make([]SSTablePath, n)
		copy(input, b.SSTables[:n])
		sets = append(sets, CompactionSet{BucketID: id, Input: input})
	}
	return sets
}

// DeleteSSTables removes the first n compacted members of bucketID from the
// in-memory bucket state and physically unlinks their files. n is the size
// of the compaction batch ExtractCompactionCandidates handed out for this
// bucket (at most MaxThreshold).
//
// The source this reimplements keeps sstables[0:n] as the "remaining" slice
// and deletes the rest -- backwards, since [0:n] is exactly the batch that
// was just compacted. The fix: survivors are sstables[n:], the tail that
// wasn't part of this round's compaction input.
func (bm *BucketMap) DeleteSSTables(bucketID uuid.UUID, n int, logf func(format string, args ...interface{})) error {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	b, ok := bm.buckets[bucketID]
	if !ok {
		return nil
	}
	if n > len(b.SSTables) {
		n = len(b.SSTables)
	}
	deleted := b.SSTables[:n]
	survivors := append([]SSTablePath(nil), b.SSTables[n:]...)

	for _, p := range deleted {
		dataPath := p.Table.Handle().DataPath
		indexPath := p.Table.Handle().IndexPath
		delete(bm.byPath, dataPath)
		if err := p.Table.Close(); err != nil && logf != nil {
			logf("bucket: close %s before delete: %v", dataPath, err)
		}
		if err := os.Remove(dataPath); err != nil && logf != nil {
			logf("bucket: unlink %s: %v", dataPath, err)
		}
		if err := os.Remove(indexPath); err != nil && logf != nil {
			logf("bucket: unlink %s: %v", indexPath, err)
		}
	}

	b.SSTables = survivors
	if err := b.recomputeAverage(); err != nil {
		return err
	}
	if len(b.SSTables) == 0 {
		delete(bm.buckets, bucketID)
		for i, id := range bm.order {
			if id == bucketID {
				bm.order = append(bm.order[:i], bm.order[i+1:]...)
				break
			}
		}
		if err := os.Remove(b.Dir); err != nil && logf != nil {
			logf("bucket: remove empty bucket dir %s: %v", b.Dir, err)
		}
	}
	bm.refreshGaugesLocked()
	return nil
}

// AllTablesByHotness returns every table across every bucket, sorted by
// combined hotness descending. The engine's read path does not use it: reads
// visit the KeyRange candidates for a key, in no particular order.
func (bm *BucketMap) AllTablesByHotness() []*sstable.Table {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	var tables []*sstable.Table
	for _, id := range bm.order {
		for _, p := range bm.buckets[id].SSTables {
			tables = append(tables, p.Table)
		}
	}
	sort.Slice(tables, func(i, j int) bool {
		return tables[i].Handle().Hotness() > tables[j].Handle().Hotness()
	})
	return tables
}

// Recover rebuilds a BucketMap from an existing engine directory by
// streaming back every SSTable data/index pair found under each
// "bucket<uuid>" subdirectory (spec §4.1 "SSTable recover from files...
// used at engine open"). Buckets recover concurrently via errgroup, since
// each one's files are independent and recovery is I/O bound (spec §5:
// long I/O operations are suspension points that shouldn't serialize
// unnecessarily).
func Recover(rootDir string, buildOpts sstable.BuildOptions, bloomFPR float64, logf func(format string, args ...interface{}), met *metrics.Metrics) (*BucketMap, error) {
	bm := New(rootDir, buildOpts, met)

	dirEntries, err := os.ReadDir(rootDir)
	if err != nil {
		if os.IsNotExist(err) {
			return bm, nil
		}
		return nil, errors.Wrapf(err, "bucket: read root dir %s", rootDir)
	}

	type bucketDir struct {
		id  uuid.UUID
		dir string
	}
	var dirs []bucketDir
	for _, de := range dirEntries {
		if !de.IsDir() || !strings.HasPrefix(de.Name(), "bucket") {
			continue
		}
		id, err := uuid.Parse(strings.TrimPrefix(de.Name(), "bucket"))
		if err != nil {
			if logf != nil {
				logf("bucket: skip unrecognized directory %s: %v", de.Name(), err)
			}
			continue
		}
		dirs = append(dirs, bucketDir{id: id, dir: filepath.Join(rootDir, de.Name())})
	}

	recovered := make([]*Bucket, len(dirs))
	g := new(errgroup.Group)
	for i, bd := range dirs {
		i, bd := i, bd
		g.Go(func() error {
			b, err := recoverOneBucket(bd.id, bd.dir, buildOpts.Compression, bloomFPR)
			if err != nil {
				return errors.Wrapf(err, "bucket: recover %s", bd.dir)
			}
			recovered[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, b := range recovered {
		if b == nil || len(b.SSTables) == 0 {
			continue
		}
		bm.buckets[b.ID] = b
		bm.order = append(bm.order, b.ID)
		for _, p := range b.SSTables {
			bm.byPath[p.Table.Handle().DataPath] = p.Table
		}
	}
	bm.mu.Lock()
	bm.refreshGaugesLocked()
	bm.mu.Unlock()
	return bm, nil
}

// recoverOneBucket reopens every sstable_<ts>_/index_<ts>_ pair inside dir
// and reconstructs the Bucket's member list, sorted by timestamp (oldest
// first, matching the order a fresh bucket accumulates members in).
func recoverOneBucket(id uuid.UUID, dir string, compression sstable.Compression, bloomFPR float64) (*Bucket, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read bucket dir %s", dir)
	}

	type tsFile struct {
		ts        int64
		dataPath  string
		indexPath string
	}
	byTS := make(map[int64]*tsFile)
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasPrefix(name, "sstable_") && strings.HasSuffix(name, "_.db"):
			ts, err := parseTimestamp(name, "sstable_")
			if err != nil {
				continue
			}
			f := byTS[ts]
			if f == nil {
				f = &tsFile{ts: ts}
				byTS[ts] = f
			}
			f.dataPath = filepath.Join(dir, name)
		case strings.HasPrefix(name, "index_") && strings.HasSuffix(name, "_.db"):
			ts, err := parseTimestamp(name, "index_")
			if err != nil {
				continue
			}
			f := byTS[ts]
			if f == nil {
				f = &tsFile{ts: ts}
				byTS[ts] = f
			}
			f.indexPath = filepath.Join(dir, name)
		}
	}

	var files []*tsFile
	for _, f := range byTS {
		if f.dataPath != "" && f.indexPath != "" {
			files = append(files, f)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ts < files[j].ts })

	b := &Bucket{ID: id, Dir: dir}
	for _, f := range files {
		table, err := sstable.Recover(f.dataPath, f.indexPath, compression, bloomFPR)
		if err != nil {
			return nil, err
		}
		b.SSTables = append(b.SSTables, SSTablePath{Table: table, Hotness: 1})
	}
	if err := b.recomputeAverage(); err != nil {
		return nil, err
	}
	return b, nil
}

func parseTimestamp(name, prefix string) (int64, error) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, prefix), "_.db")
	return strconv.ParseInt(trimmed, 10, 64)
}
