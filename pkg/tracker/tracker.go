// Copyright 2025 The Planwatch Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// Package tracker aggregates per-execution error vectors into bounded,
// concurrently updated running statistics keyed by query fingerprint.
//
// Capacity is enforced with an atomic live-entry counter: the fast path
// reads it without any lock, so the check is eventually consistent and a
// concurrent burst can briefly overshoot by at most the number of racing
// inserters, but the increment-check-rollback performed under the
// structural lock keeps the steady state at or below the configured
// maximum. Inserts past capacity are silently rejected rather than
// evicting existing entries: long-lived aggregates are deliberately
// favored over the newest samples.
package tracker

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"

	"github.com/planwatch/planwatch/pkg/planquality"
	"github.com/planwatch/planwatch/pkg/planstats"
	"github.com/planwatch/planwatch/pkg/util/log"
	"github.com/planwatch/planwatch/pkg/util/optional"
	"github.com/planwatch/planwatch/pkg/util/stringarena"
)

func recordOptional(s *planstats.NumericStat, v optional.Float) {
	if v.HasValue() {
		s.Record(v.Value())
	}
}

// DefaultMaxEntries bounds the tracker when the host does not configure
// a limit.
const DefaultMaxEntries = 5000

// Config carries tracker construction parameters.
type Config struct {
	// MaxEntries is the maximum number of live fingerprints. Zero means
	// DefaultMaxEntries.
	MaxEntries int64
}

// ResourceUsage carries the always-defined per-execution resource
// counters accumulated alongside the error vector.
type ResourceUsage struct {
	ElapsedSeconds float64
	BlockIO        int64
}

// Tracker is the bounded concurrent store. Construct with New; the zero
// value is not usable.
type Tracker struct {
	capacity int64
	arena    *stringarena.Arena
	metrics  *Metrics

	// entryCount tracks live entries. Mutated together with the map
	// under mu; read lock-free on the admission fast path.
	entryCount atomic.Int64

	mu struct {
		sync.RWMutex
		entries map[planstats.QueryKey]*entry
	}
}

// New returns an empty tracker. metrics may be nil.
func New(cfg Config, metrics *Metrics) *Tracker {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	t := &Tracker{
		capacity: cfg.MaxEntries,
		arena:    stringarena.Make(),
		metrics:  metrics,
	}
	t.mu.entries = make(map[planstats.QueryKey]*entry)
	return t
}

// Len returns the live-entry count. It reads the admission counter and
// is therefore eventually consistent with true occupancy.
func (t *Tracker) Len() int64 {
	return t.entryCount.Load()
}

// Capacity returns the configured maximum entry count.
func (t *Tracker) Capacity() int64 {
	return t.capacity
}

// RecordExecution folds one execution's error vector and resource usage
// into the entry for key, creating it if capacity admits. Metrics unset
// in the vector are skipped for this round. Returns whether the
// contribution was dropped at capacity.
func (t *Tracker) RecordExecution(
	ctx context.Context,
	key planstats.QueryKey,
	queryText string,
	vec planquality.Vector,
	res ResourceUsage,
) (throttled bool) {
	t.metrics.execution()

	e := t.lookup(key)
	if e == nil {
		// Fast admission check, no lock: at capacity there is no point
		// taking the write lock just to be rejected under it.
		if t.entryCount.Load() >= t.capacity {
			t.metrics.throttled()
			return true
		}
		var ok bool
		e, ok = t.getOrCreate(key, queryText)
		if !ok {
			t.metrics.throttled()
			return true
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	s := &e.mu.stats
	s.ExecutionCount++
	s.NodesEvaluated = vec.NodesEvaluated
	s.NodesTotal = vec.NodesTotal
	recordOptional(&s.AvgError, vec.AvgError)
	recordOptional(&s.RMSError, vec.RMSError)
	recordOptional(&s.TimeWeightedError, vec.TimeWeightedError)
	recordOptional(&s.CostWeightedError, vec.CostWeightedError)
	recordOptional(&s.JoinFilterFactor, vec.JoinFilterFactor)
	recordOptional(&s.ScanFilterFactor, vec.ScanFilterFactor)
	recordOptional(&s.WorstSubplanFactor, vec.WorstSubplanFactor)
	s.ElapsedSeconds.Record(res.ElapsedSeconds)
	s.BlockIO.Record(float64(res.BlockIO))
	return false
}

func (t *Tracker) lookup(key planstats.QueryKey) *entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mu.entries[key]
}

// getOrCreate inserts an entry for key under the structural lock. The
// admission counter is incremented first and rolled back if the limit
// was exceeded, mirroring the lock-free fast path exactly.
func (t *Tracker) getOrCreate(
	key planstats.QueryKey, queryText string,
) (*entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.mu.entries[key]; ok {
		return e, true
	}
	if t.entryCount.Inc() > t.capacity {
		t.entryCount.Dec()
		return nil, false
	}
	e := &entry{text: t.arena.Alloc(queryText)}
	t.mu.entries[key] = e
	t.metrics.admitted()
	return e, true
}

// Install inserts a fully formed entry, bypassing statistic recording.
// It is used when reloading persisted state before concurrent access
// starts. Installing a key that already exists is an error; installing
// past capacity is reported so the caller can decide whether to warn.
func (t *Tracker) Install(
	key planstats.QueryKey, queryText string, stats EntryStats,
) (installed bool, _ error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.mu.entries[key]; ok {
		return false, errors.Newf("tracker: duplicate entry for key %s", key)
	}
	if t.entryCount.Inc() > t.capacity {
		t.entryCount.Dec()
		return false, nil
	}
	e := &entry{text: t.arena.Alloc(queryText)}
	e.mu.stats = stats
	t.mu.entries[key] = e
	t.metrics.admitted()
	return true, nil
}

// Export visits every entry under a shared lock, passing a consistent
// copy of its statistics. A concurrent insert may or may not be
// observed, but no entry is ever observed half-written. Iteration stops
// at the first error from visit.
func (t *Tracker) Export(
	visit func(key planstats.QueryKey, queryText string, stats EntryStats) error,
) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for key, e := range t.mu.entries {
		e.mu.Lock()
		stats := e.mu.stats
		e.mu.Unlock()
		text := t.arena.MustGet(e.text)
		if err := visit(key, text, stats); err != nil {
			return err
		}
	}
	return nil
}

// Reset removes every entry, freeing its text allocation and
// decrementing the live-entry counter per removal. Resetting an empty
// tracker is a no-op. If the counter would go negative the counter and
// true occupancy have diverged; that invariant breach cannot be repaired
// locally and terminates the process.
func (t *Tracker) Reset(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var removed int64
	for key, e := range t.mu.entries {
		if err := t.arena.Free(e.text); err != nil {
			log.Fatalf(ctx, "tracker: freeing text for %s: %v", key, err)
		}
		delete(t.mu.entries, key)
		if t.entryCount.Dec() < 0 {
			log.Fatalf(ctx,
				"tracker: live-entry counter underflow removing %s", key)
		}
		removed++
	}
	t.metrics.reset(removed)
}
