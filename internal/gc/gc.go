// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package gc implements the value log's garbage collector: a cycle reads a
// chunk from the log's tail, determines which entries are still live,
// re-appends the live ones at the head, and reclaims the now-dead byte range
// (spec §4.5).
package gc

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/tokenbucket"

	"github.com/coldbrewdb/coldbrew/internal/logger"
	"github.com/coldbrewdb/coldbrew/internal/metrics"
	"github.com/coldbrewdb/coldbrew/internal/storageerr"
	"github.com/coldbrewdb/coldbrew/internal/vlog"
)

// LivenessChecker answers whether a key's current value offset matches the
// one being considered for collection. The engine implements this by
// consulting the live memtable, the read-only memtable registry, and
// SSTables filtered through the bloom filter list and KeyRange (spec §4.5
// step 2).
type LivenessChecker interface {
	// CurrentOffset returns the value offset a fresh lookup of key resolves
	// to, and whether key is present at all (a tombstone counts as present
	// but is never live).
	CurrentOffset(key []byte) (offset uint32, isTombstone bool, present bool)
}

// Update is one (key, new_offset) pair a GC cycle wants merged into the live
// memtable. The GC never mutates the memtable itself -- a subsequent write
// operation is responsible for folding these in (spec §4.5's two-phase sync
// contract).
type Update struct {
	Key       []byte
	NewOffset uint32
}

// Collector runs GC cycles against a vlog.Log.
//
// A cycle stages its work rather than committing it: it reads ahead of the
// log's committed tail into a private shadowTail, re-appending live values
// immediately (that part is an ordinary append, visible right away), but
// leaves the consumed byte count and the resulting (key, new_offset)
// updates queued until Sync is called. Sync is what a write operation calls
// before applying its own mutation, which is why repeated RunCycle calls
// with no intervening write never move the log's committed tail -- the
// expected contract spec §4.5 documents and the original's gc_test.rs
// exercises directly (datastore_gc_test_free_before_synchronization).
type Collector struct {
	log      *vlog.Log
	liveness LivenessChecker
	lg       logger.Logger
	met      *metrics.Metrics

	// limiter paces the bytes a single GC cycle is allowed to scan per
	// second, so GC competes fairly with foreground I/O instead of reading
	// ahead in one uninterrupted burst.
	limiter *tokenbucket.TokenBucket

	mu              sync.Mutex
	shadowTail      uint64
	pendingConsumed uint64
	pendingUpdates  []Update
	punchMarker     uint64
}

// Options configures a Collector.
type Options struct {
	// BytesToCollect is the chunk size read ahead per cycle.
	BytesToCollect uint64
	// BytesPerSecond paces GC scanning; zero disables rate limiting.
	BytesPerSecond float64
	// Burst is the token bucket's burst allowance.
	Burst float64
}

// New returns a Collector over log, consulting liveness for membership
// checks. met may be nil, in which case reclaimed-byte and
// platform-unsupported counters are discarded.
func New(log *vlog.Log, liveness LivenessChecker, opts Options, lg logger.Logger, met *metrics.Metrics) *Collector {
	if lg == nil {
		lg = logger.Nop{}
	}
	if met == nil {
		met = metrics.Nop()
	}
	var limiter *tokenbucket.TokenBucket
	if opts.BytesPerSecond > 0 {
		limiter = &tokenbucket.TokenBucket{}
		burst := opts.Burst
		if burst <= 0 {
			burst = opts.BytesPerSecond
		}
		limiter.Init(tokenbucket.RateLimit(opts.BytesPerSecond), tokenbucket.Tokens(burst))
	}
	return &Collector{log: log, liveness: liveness, lg: lg, met: met, limiter: limiter, shadowTail: log.TailOffset()}
}

// RunCycle executes one GC cycle (spec §4.5, steps 1-3): it reads the next
// chunk ahead of the shadow tail, re-appends live entries, and stages the
// resulting updates and consumed byte count for the next Sync. It does not
// touch the log's committed tail/head cursors or punch any holes itself.
func (c *Collector) RunCycle(ctx context.Context, bytesToCollect uint64) error {
	if c.limiter != nil {
		if _, err := c.limiter.Wait(ctx, tokenbucket.Tokens(bytesToCollect)); err != nil {
			return errors.Wrap(err, "gc: rate limit wait")
		}
	}

	c.mu.Lock()
	shadowTail := c.shadowTail
	c.mu.Unlock()

	entries, consumed, err := c.log.ReadChunkFrom(shadowTail, bytesToCollect)
	if err != nil {
		return errors.Wrap(err, "gc: read chunk")
	}
	if len(entries) == 0 {
		return nil
	}

	var updates []Update
	for _, ge := range entries {
		e := ge.Entry
		if e.IsTombstone {
			continue
		}
		offset, isTombstone, present := c.liveness.CurrentOffset(e.Key)
		if !present || isTombstone {
			continue
		}
		if uint64(offset) != ge.Offset {
			continue // stale version, superseded by a newer write
		}
		newOffset, err := c.log.AppendDuringGC(e.Key, e.Value, e.CreatedAt, false)
		if err != nil {
			return errors.Wrap(err, "gc: re-append live entry")
		}
		updates = append(updates, Update{Key: e.Key, NewOffset: uint32(newOffset)})
	}

	c.mu.Lock()
	c.shadowTail += consumed
	c.pendingConsumed += consumed
	c.pendingUpdates = append(c.pendingUpdates, updates...)
	c.mu.Unlock()
	return nil
}

// Sync commits every cycle staged since the last Sync: it advances the
// log's tail by the accumulated consumed bytes, hole-punches the newly
// freed range, and returns the (key, new_offset) updates for the caller (an
// engine write operation) to merge into the live memtable before applying
// its own mutation. Returns a nil slice and does nothing if nothing is
// staged.
func (c *Collector) Sync() []Update {
	c.mu.Lock()
	consumed := c.pendingConsumed
	updates := c.pendingUpdates
	c.pendingConsumed = 0
	c.pendingUpdates = nil
	c.mu.Unlock()

	if consumed == 0 {
		return nil
	}

	oldTail := c.log.TailOffset()
	c.log.AdvanceTail(consumed)
	newTail := oldTail + consumed
	c.met.SetVlogGauges(c.log.Size(), c.log.HeadOffset(), newTail)

	if err := punchHoles(c.log.File(), int64(oldTail), int64(consumed)); err != nil {
		if errors.Is(err, storageerr.GCPlatformUnsupported) {
			c.met.RecordGCPlatformUnsupported()
			c.lg.Infof("gc: %v, tail advanced logically to %d without physical reclamation", err, newTail)
		} else {
			c.lg.Errorf("gc: hole-punch [%d,%d) failed: %v", oldTail, newTail, err)
		}
	} else {
		c.met.RecordReclaimed(consumed)
		c.log.SetPunchMarker(newTail)
		c.mu.Lock()
		c.punchMarker = newTail
		c.mu.Unlock()
	}

	return updates
}

// PunchMarker returns the last offset known to be physically reclaimed.
func (c *Collector) PunchMarker() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.punchMarker
}

// defaultWaitBackoff is how long RunLoop sleeps between cycles when the
// shadow tail has caught up to the head and there's nothing left to scan.
const defaultWaitBackoff = 50 * time.Millisecond

// RunLoop runs GC cycles back to back until ctx is cancelled, sleeping
// briefly whenever a cycle finds nothing to collect. It never calls Sync:
// that stays the exclusive responsibility of the engine's write path, per
// the two-phase contract.
func (c *Collector) RunLoop(ctx context.Context, bytesToCollect uint64) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		c.mu.Lock()
		before := c.shadowTail
		c.mu.Unlock()
		if err := c.RunCycle(ctx, bytesToCollect); err != nil {
			return err
		}
		c.mu.Lock()
		after := c.shadowTail
		c.mu.Unlock()
		if after == before {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(defaultWaitBackoff):
			}
		}
	}
}
