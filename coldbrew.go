// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package coldbrew is an embedded, WiscKey-style key-value storage engine:
// sorted SSTable indexes hold only a pointer into a separate append-only
// value log, so compaction moves small keys around without rewriting large
// values.
//
// Open a directory with Open, then Put/Get/Delete/Range against the
// returned *Engine. Flush, Compact, and GCOnce are exposed so a caller can
// drive the background pipeline explicitly (a production deployment would
// typically run them on timers instead).
package coldbrew

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/coldbrewdb/coldbrew/internal/bucket"
	"github.com/coldbrewdb/coldbrew/internal/compactor"
	"github.com/coldbrewdb/coldbrew/internal/flusher"
	"github.com/coldbrewdb/coldbrew/internal/gc"
	"github.com/coldbrewdb/coldbrew/internal/keyrange"
	"github.com/coldbrewdb/coldbrew/internal/logger"
	"github.com/coldbrewdb/coldbrew/internal/metrics"
	"github.com/coldbrewdb/coldbrew/internal/record"
	"github.com/coldbrewdb/coldbrew/internal/vlog"
	"github.com/coldbrewdb/coldbrew/memtable"
	"github.com/coldbrewdb/coldbrew/sstable"
)

// Options configures an Engine. The zero value is valid; EnsureDefaults
// fills in anything left unset.
type Options struct {
	// BlockSize is the target size in bytes of one SSTable block.
	BlockSize int
	// Compression selects the SSTable block codec. Defaults to
	// sstable.NoCompression so the fixed entry layout invariant tests
	// exercise directly holds.
	Compression sstable.Compression
	// BloomFPR is the bloom filter's target false-positive rate.
	BloomFPR float64
	// VlogCompression selects the value log's value codec.
	VlogCompression vlog.Compression
	// MemtableMaxBytes is the size at which a write seals the live
	// memtable and triggers a flush.
	MemtableMaxBytes int
	// FlushSignalBuffer sizes the broadcast channel flush completions are
	// announced on.
	FlushSignalBuffer int
	// GCBytesToCollect is the chunk size one GC cycle reads ahead.
	GCBytesToCollect uint64
	// GCBytesPerSecond paces GC scanning; zero disables rate limiting.
	GCBytesPerSecond float64
	// EntryTTL, if positive, makes reads treat an entry as absent once it's
	// older than this (a supplemental feature beyond the distilled source).
	EntryTTL time.Duration
	// Logger receives structured diagnostics. Defaults to logger.Default.
	Logger logger.Logger
	// MetricsRegisterer, if set, receives the engine's prometheus metrics.
	// Leave nil to disable metrics collection entirely.
	MetricsRegisterer prometheus.Registerer
	// MetricsNamespace prefixes every registered metric name.
	MetricsNamespace string
}

// EnsureDefaults returns a copy of o with every unset field given a sane
// default.
func (o Options) EnsureDefaults() Options {
	if o.BlockSize <= 0 {
		o.BlockSize = 4096
	}
	if o.BloomFPR <= 0 {
		o.BloomFPR = 0.01
	}
	if o.MemtableMaxBytes <= 0 {
		o.MemtableMaxBytes = 4 << 20 // 4 MiB
	}
	if o.FlushSignalBuffer <= 0 {
		o.FlushSignalBuffer = 16
	}
	if o.GCBytesToCollect <= 0 {
		o.GCBytesToCollect = 1 << 20 // 1 MiB
	}
	if o.Logger == nil {
		o.Logger = logger.Default{}
	}
	return o
}

// KV is one key/value pair returned by Range.
type KV struct {
	Key   []byte
	Value []byte
}

// Engine is an opened coldbrew store.
type Engine struct {
	dir  string
	opts Options
	log  logger.Logger
	met  *metrics.Metrics

	mu   sync.RWMutex // guards the `live` pointer swap only
	live *memtable.Memtable

	registry *flusher.ReadOnlyRegistry
	buckets  *bucket.BucketMap
	keyRange *keyrange.KeyRange
	filters  *flusher.FilterList
	flush    *flusher.Flusher
	compact  *compactor.Compactor
	vlog     *vlog.Log
	gc       *gc.Collector

	flushSignal chan string

	idSeq  atomic.Uint64
	closed atomic.Bool
}

// Open opens or creates a coldbrew store rooted at dir.
func Open(dir string, opts Options) (*Engine, error) {
	opts = opts.EnsureDefaults()

	buildOpts := sstable.BuildOptions{BlockSize: opts.BlockSize, Compression: opts.Compression, BloomFPR: opts.BloomFPR}
	met := metricsFor(opts)

	buckets, err := bucket.Recover(dir, buildOpts, opts.BloomFPR, opts.Logger.Errorf, met)
	if err != nil {
		return nil, errors.Wrap(err, "coldbrew: recover buckets")
	}

	keyRange := keyrange.New()
	filters := flusher.NewFilterList()
	for _, b := range buckets.Buckets() {
		for _, p := range b.SSTables {
			keyRange.Set(p.Table.Handle().DataPath, p.Table.Smallest(), p.Table.Largest(), p.Table.Handle())
			filters.PushAndResort(flusher.FilterEntry{Filter: p.Table.Bloom(), DataPath: p.Table.Handle().DataPath, Handle: p.Table.Handle()})
		}
	}

	vlogPath := filepath.Join(dir, "VLOG")
	vl, err := vlog.Open(vlogPath, opts.VlogCompression)
	if err != nil {
		return nil, errors.Wrap(err, "coldbrew: open value log")
	}

	registry := flusher.NewReadOnlyRegistry()

	e := &Engine{
		dir:         dir,
		opts:        opts,
		log:         opts.Logger,
		met:         met,
		registry:    registry,
		buckets:     buckets,
		keyRange:    keyRange,
		filters:     filters,
		vlog:        vl,
		flushSignal: make(chan string, opts.FlushSignalBuffer),
	}
	e.live = memtable.New(e.nextMemtableID())
	e.flush = flusher.New(buckets, keyRange, filters, registry, e.flushSignal, opts.Logger, met)
	e.compact = compactor.New(buckets, keyRange, filters, opts.Logger)
	e.gc = gc.New(vl, e, gc.Options{BytesToCollect: opts.GCBytesToCollect, BytesPerSecond: opts.GCBytesPerSecond}, opts.Logger, met)
	e.refreshVlogGauges()

	return e, nil
}

func metricsFor(opts Options) *metrics.Metrics {
	if opts.MetricsRegisterer == nil {
		return metrics.Nop()
	}
	return metrics.New(opts.MetricsRegisterer, opts.MetricsNamespace)
}

// refreshVlogGauges snapshots the value log's current size and head/tail
// offsets into the metrics gauges.
func (e *Engine) refreshVlogGauges() {
	e.met.SetVlogGauges(e.vlog.Size(), e.vlog.HeadOffset(), e.vlog.TailOffset())
}

func (e *Engine) nextMemtableID() string {
	return fmt.Sprintf("mt-%d", e.idSeq.Add(1))
}

// nextTimestamp returns a monotonically increasing value suitable for
// naming a new SSTable's files, combining wall-clock time with a sequence
// number so concurrent flushes/compactions never collide within the same
// millisecond.
func (e *Engine) nextTimestamp() int64 {
	seq := e.idSeq.Add(1)
	return time.Now().UnixMilli()*1000 + int64(seq%1000)
}

// Close releases every open file handle. It does not flush the live
// memtable; callers that want a durable shutdown should Flush it first.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	var firstErr error
	for _, b := range e.buckets.Buckets() {
		for _, p := range b.SSTables {
			if err := p.Table.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	if err := e.vlog.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// CurrentOffset implements gc.LivenessChecker by resolving key through the
// same lookup path Get uses.
func (e *Engine) CurrentOffset(key []byte) (offset uint32, isTombstone bool, present bool) {
	en, found, err := e.lookup(key)
	if err != nil || !found {
		return 0, false, false
	}
	return en.ValueOffset, en.IsTombstone, true
}

// lookup resolves key across the live memtable, sealed memtables, and
// SSTables, returning the entry with the greatest created_at timestamp
// found (spec §2: memtable(s) first, then bloom+key-range-filtered
// SSTables).
func (e *Engine) lookup(key []byte) (record.Entry, bool, error) {
	var best record.Entry
	found := false
	consider := func(en record.Entry) {
		if !found || en.CreatedAt > best.CreatedAt {
			best = en
			found = true
		}
	}

	e.mu.RLock()
	live := e.live
	e.mu.RUnlock()
	if en, ok := live.Get(key); ok {
		consider(en)
	}

	for _, src := range e.registry.Snapshot() {
		if g, ok := src.(memtable.Getter); ok {
			if en, ok := g.Get(key); ok {
				consider(en)
			}
			continue
		}
		for _, en := range src.Entries() {
			if bytes.Equal(en.Key, key) {
				consider(en)
			}
		}
	}

	for _, h := range e.keyRange.Filter(key) {
		if !e.mayContain(h.DataPath, key) {
			continue
		}
		table, ok := e.buckets.TableByDataPath(h.DataPath)
		if !ok {
			continue
		}
		pr, ok, err := table.Get(key)
		if err != nil {
			return record.Entry{}, false, errors.Wrap(err, "coldbrew: lookup")
		}
		if ok {
			h.BumpReadHotness()
			consider(record.Entry{Key: key, ValueOffset: pr.ValueOffset, CreatedAt: pr.CreatedAt, IsTombstone: pr.IsTombstone})
		}
	}

	return best, found, nil
}

// mayContain reports whether the bloom filter bound to dataPath might
// contain key. Tables with no registered filter (shouldn't happen outside
// tests) are conservatively treated as a possible match.
func (e *Engine) mayContain(dataPath string, key []byte) bool {
	for _, fe := range e.filters.Snapshot() {
		if fe.DataPath == dataPath {
			return fe.Filter.MayContain(key)
		}
	}
	return true
}

// syncGC merges any updates staged by prior GC cycles into the live
// memtable before a write proceeds, and commits the GC's tail/head advance.
// This is the write-side half of the two-phase contract described in spec
// §4.5: without an intervening write, GC progress never becomes visible.
func (e *Engine) syncGC() {
	updates := e.gc.Sync()
	if len(updates) == 0 {
		return
	}
	now := uint64(time.Now().UnixMilli())
	e.mu.RLock()
	live := e.live
	e.mu.RUnlock()
	for _, u := range updates {
		live.Put(u.Key, u.NewOffset, now)
	}
}

func (e *Engine) expired(createdAt uint64) bool {
	if e.opts.EntryTTL <= 0 {
		return false
	}
	return time.Since(time.UnixMilli(int64(createdAt))) > e.opts.EntryTTL
}

// Get returns the current value for key. ok is false if the key is absent,
// tombstoned, or has outlived Options.EntryTTL.
func (e *Engine) Get(key []byte) (value []byte, ok bool, err error) {
	start := time.Now()
	defer func() { e.met.RecordGet(time.Since(start)) }()

	en, found, err := e.lookup(key)
	if err != nil {
		return nil, false, err
	}
	if !found || en.IsTombstone || e.expired(en.CreatedAt) {
		return nil, false, nil
	}
	res, err := e.vlog.Get(uint64(en.ValueOffset))
	if err != nil {
		return nil, false, errors.Wrap(err, "coldbrew: get")
	}
	if res.IsTombstone {
		return nil, false, nil
	}
	return res.Value, true, nil
}

// Put writes key/value. It first merges any pending GC updates into the
// live memtable (spec §4.5), then appends the value to the log and records
// its offset in the memtable.
func (e *Engine) Put(key, value []byte) error {
	start := time.Now()
	defer func() { e.met.RecordPut(time.Since(start)) }()

	e.syncGC()
	now := time.Now().UnixMilli()
	offset, err := e.vlog.Append(key, value, now, false)
	if err != nil {
		return errors.Wrap(err, "coldbrew: put")
	}

	e.mu.RLock()
	live := e.live
	e.mu.RUnlock()
	live.Put(key, uint32(offset), uint64(now))
	e.refreshVlogGauges()

	e.maybeSealAndFlush()
	return nil
}

// Delete tombstones key.
func (e *Engine) Delete(key []byte) error {
	e.met.RecordDelete()
	e.syncGC()
	now := time.Now().UnixMilli()
	if _, err := e.vlog.Append(key, nil, now, true); err != nil {
		return errors.Wrap(err, "coldbrew: delete")
	}

	e.mu.RLock()
	live := e.live
	e.mu.RUnlock()
	live.Delete(key, uint64(now))
	e.refreshVlogGauges()

	e.maybeSealAndFlush()
	return nil
}

// maybeSealAndFlush seals the live memtable and flushes it once it crosses
// Options.MemtableMaxBytes.
func (e *Engine) maybeSealAndFlush() {
	e.mu.Lock()
	if e.live.Size() < e.opts.MemtableMaxBytes {
		e.mu.Unlock()
		return
	}
	sealed := e.live
	e.registry.Insert(sealed.ID(), sealed)
	e.live = memtable.New(e.nextMemtableID())
	e.mu.Unlock()

	if err := e.Flush(sealed.ID()); err != nil {
		e.log.Errorf("coldbrew: background flush of %s failed: %v", sealed.ID(), err)
	}
}

// Flush runs the Flusher pipeline against the sealed memtable registered
// under id (spec §4.3's published flush(handle) operation).
func (e *Engine) Flush(id string) error {
	src, ok := e.registry.Get(id)
	if !ok {
		return errors.Newf("coldbrew: no sealed memtable registered under %q", id)
	}
	start := time.Now()
	defer func() { e.met.RecordFlush(time.Since(start)) }()
	return e.flush.Flush(id, src, e.nextTimestamp())
}

// Compact runs one compaction round over every bucket eligible for it.
func (e *Engine) Compact() (int, error) {
	n, err := e.compact.RunOnce(e.nextTimestamp())
	if err != nil {
		return n, err
	}
	e.met.RecordCompactions(n)
	return n, nil
}

// GCOnce runs a single garbage collection cycle. Its effect on the log's
// committed tail is only observable after a subsequent Put or Delete (spec
// §4.5).
func (e *Engine) GCOnce(ctx context.Context) error {
	start := time.Now()
	defer func() { e.met.RecordGCCycle(time.Since(start)) }()
	return e.gc.RunCycle(ctx, e.opts.GCBytesToCollect)
}

func inRange(key, lo, hi []byte) bool {
	return bytes.Compare(key, lo) >= 0 && bytes.Compare(key, hi) <= 0
}

// Range returns every live, non-expired key in [lo, hi], sorted ascending.
func (e *Engine) Range(lo, hi []byte) ([]KV, error) {
	best := make(map[string]record.Entry)
	consider := func(en record.Entry) {
		k := string(en.Key)
		if cur, ok := best[k]; !ok || en.CreatedAt > cur.CreatedAt {
			best[k] = en
		}
	}

	e.mu.RLock()
	live := e.live
	e.mu.RUnlock()
	for _, en := range live.Entries() {
		if inRange(en.Key, lo, hi) {
			consider(en)
		}
	}

	for _, src := range e.registry.Snapshot() {
		for _, en := range src.Entries() {
			if inRange(en.Key, lo, hi) {
				consider(en)
			}
		}
	}

	for _, h := range e.keyRange.FilterRange(lo, hi) {
		table, ok := e.buckets.TableByDataPath(h.DataPath)
		if !ok {
			continue
		}
		res, err := table.Range(lo, hi)
		if err != nil {
			return nil, errors.Wrap(err, "coldbrew: range")
		}
		for _, re := range res {
			if !inRange(re.Key, lo, hi) {
				continue
			}
			consider(record.Entry{Key: re.Key, ValueOffset: re.ValueOffset, CreatedAt: re.CreatedAt, IsTombstone: re.IsTombstone})
		}
	}

	keys := make([]string, 0, len(best))
	for k := range best {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]KV, 0, len(keys))
	for _, k := range keys {
		en := best[k]
		if en.IsTombstone || e.expired(en.CreatedAt) {
			continue
		}
		res, err := e.vlog.Get(uint64(en.ValueOffset))
		if err != nil {
			return nil, errors.Wrap(err, "coldbrew: range resolve value")
		}
		if res.IsTombstone {
			continue
		}
		out = append(out, KV{Key: []byte(k), Value: res.Value})
	}
	return out, nil
}
