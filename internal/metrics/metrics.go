// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package metrics exposes the engine's operational counters and latency
// histograms: prometheus gauges/counters for the shared-resource and
// pipeline events spec §5 and §8 describe, plus HdrHistogram latency
// recorders for operations whose tail latency matters (flush, GC, get, put).
package metrics

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every counter, gauge, and latency histogram the engine
// updates. A nil *Metrics is not valid; use New or Nop.
type Metrics struct {
	Puts        prometheus.Counter
	Gets        prometheus.Counter
	Deletes     prometheus.Counter
	Flushes     prometheus.Counter
	Compactions prometheus.Counter
	GCCycles    prometheus.Counter

	FlushSignalOverflows    prometheus.Counter
	GCPlatformUnsupported   prometheus.Counter
	BucketInsertionFailures prometheus.Counter

	OpenSSTables  prometheus.Gauge
	OpenBuckets   prometheus.Gauge
	VlogSize      prometheus.Gauge
	VlogHead      prometheus.Gauge
	VlogTail      prometheus.Gauge
	VlogReclaimed prometheus.Gauge

	getLatency   *hdrhistogram.Histogram
	putLatency   *hdrhistogram.Histogram
	flushLatency *hdrhistogram.Histogram
	gcLatency    *hdrhistogram.Histogram
}

// latencyHistogram returns an HdrHistogram tracking 1 microsecond to 1
// minute with 3 significant figures, enough resolution for storage-engine
// operation latencies without the memory cost of a linear histogram.
func latencyHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(1, (60 * time.Second).Microseconds(), 3)
}

// New registers a fresh set of metrics on reg. namespace prefixes every
// metric name, letting multiple engine instances share a registry.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
		reg.MustRegister(c)
		return c
	}
	gauge := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
		reg.MustRegister(g)
		return g
	}

	return &Metrics{
		Puts:        counter("puts_total", "Total Put operations."),
		Gets:        counter("gets_total", "Total Get operations."),
		Deletes:     counter("deletes_total", "Total Delete operations."),
		Flushes:     counter("flushes_total", "Total memtable flushes."),
		Compactions: counter("compactions_total", "Total compaction rounds."),
		GCCycles:    counter("gc_cycles_total", "Total garbage collection cycles."),

		FlushSignalOverflows:    counter("flush_signal_overflows_total", "Flush-signal broadcasts dropped due to a full channel."),
		GCPlatformUnsupported:   counter("gc_platform_unsupported_total", "GC cycles whose hole-punch was a platform no-op."),
		BucketInsertionFailures: counter("bucket_insertion_failures_total", "Flushes that failed to find or create a bucket."),

		OpenSSTables:  gauge("open_sstables", "Currently open SSTable file handles."),
		OpenBuckets:   gauge("open_buckets", "Currently live buckets."),
		VlogSize:      gauge("vlog_size_bytes", "Value log logical size."),
		VlogHead:      gauge("vlog_head_offset", "Value log head offset."),
		VlogTail:      gauge("vlog_tail_offset", "Value log tail offset."),
		VlogReclaimed: gauge("vlog_reclaimed_bytes", "Bytes physically reclaimed by hole-punching."),

		getLatency:   latencyHistogram(),
		putLatency:   latencyHistogram(),
		flushLatency: latencyHistogram(),
		gcLatency:    latencyHistogram(),
	}
}

// Nop returns metrics that record nothing and aren't registered anywhere,
// for use by engines opened without a registry (e.g. in tests).
func Nop() *Metrics {
	return &Metrics{
		Puts:                    prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_puts"}),
		Gets:                    prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_gets"}),
		Deletes:                 prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_deletes"}),
		Flushes:                 prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_flushes"}),
		Compactions:             prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_compactions"}),
		GCCycles:                prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_gc_cycles"}),
		FlushSignalOverflows:    prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_flush_overflows"}),
		GCPlatformUnsupported:   prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_gc_unsupported"}),
		BucketInsertionFailures: prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_bucket_failures"}),
		OpenSSTables:            prometheus.NewGauge(prometheus.GaugeOpts{Name: "nop_open_sstables"}),
		OpenBuckets:             prometheus.NewGauge(prometheus.GaugeOpts{Name: "nop_open_buckets"}),
		VlogSize:                prometheus.NewGauge(prometheus.GaugeOpts{Name: "nop_vlog_size"}),
		VlogHead:                prometheus.NewGauge(prometheus.GaugeOpts{Name: "nop_vlog_head"}),
		VlogTail:                prometheus.NewGauge(prometheus.GaugeOpts{Name: "nop_vlog_tail"}),
		VlogReclaimed:           prometheus.NewGauge(prometheus.GaugeOpts{Name: "nop_vlog_reclaimed"}),
		getLatency:              latencyHistogram(),
		putLatency:              latencyHistogram(),
		flushLatency:            latencyHistogram(),
		gcLatency:               latencyHistogram(),
	}
}

// RecordGet records a Get operation's latency.
func (m *Metrics) RecordGet(d time.Duration) {
	m.Gets.Inc()
	_ = m.getLatency.RecordValue(d.Microseconds())
}

// RecordPut records a Put operation's latency.
func (m *Metrics) RecordPut(d time.Duration) {
	m.Puts.Inc()
	_ = m.putLatency.RecordValue(d.Microseconds())
}

// RecordFlush records a flush's latency.
func (m *Metrics) RecordFlush(d time.Duration) {
	m.Flushes.Inc()
	_ = m.flushLatency.RecordValue(d.Microseconds())
}

// RecordGCCycle records a GC cycle's latency.
func (m *Metrics) RecordGCCycle(d time.Duration) {
	m.GCCycles.Inc()
	_ = m.gcLatency.RecordValue(d.Microseconds())
}

// GetLatencyP99 returns the 99th percentile Get latency in microseconds.
func (m *Metrics) GetLatencyP99() int64 { return m.getLatency.ValueAtQuantile(99.0) }

// PutLatencyP99 returns the 99th percentile Put latency in microseconds.
func (m *Metrics) PutLatencyP99() int64 { return m.putLatency.ValueAtQuantile(99.0) }

// RecordDelete records a Delete operation.
func (m *Metrics) RecordDelete() { m.Deletes.Inc() }

// RecordCompactions adds n completed compaction rounds to the running total.
func (m *Metrics) RecordCompactions(n int) { m.Compactions.Add(float64(n)) }

// RecordFlushSignalOverflow records a dropped flush-completion broadcast.
func (m *Metrics) RecordFlushSignalOverflow() { m.FlushSignalOverflows.Inc() }

// RecordGCPlatformUnsupported records a GC cycle whose hole-punch was a
// platform no-op.
func (m *Metrics) RecordGCPlatformUnsupported() { m.GCPlatformUnsupported.Inc() }

// RecordBucketInsertionFailure records a flush or compaction that failed to
// find or create a bucket for its SSTable.
func (m *Metrics) RecordBucketInsertionFailure() { m.BucketInsertionFailures.Inc() }

// RecordReclaimed adds n physically reclaimed bytes to the running total.
func (m *Metrics) RecordReclaimed(n uint64) { m.VlogReclaimed.Add(float64(n)) }

// SetVlogGauges snapshots the value log's current size and head/tail
// offsets.
func (m *Metrics) SetVlogGauges(size, head, tail uint64) {
	m.VlogSize.Set(float64(size))
	m.VlogHead.Set(float64(head))
	m.VlogTail.Set(float64(tail))
}

// SetBucketGauges snapshots the current bucket and SSTable counts.
func (m *Metrics) SetBucketGauges(buckets, sstables int) {
	m.OpenBuckets.Set(float64(buckets))
	m.OpenSSTables.Set(float64(sstables))
}
