// Copyright 2025 The Planwatch Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// Package tracking wires the estimator, tracker and persistence into one
// explicitly constructed service with a documented lifecycle: construct
// once per host process group, Start before first use, attach from any
// number of workers, Stop (with a final flush) at teardown. There is no
// implicit global instance.
package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/planwatch/planwatch/pkg/exectrace"
	"github.com/planwatch/planwatch/pkg/persist"
	"github.com/planwatch/planwatch/pkg/planquality"
	"github.com/planwatch/planwatch/pkg/planstats"
	"github.com/planwatch/planwatch/pkg/tracker"
	"github.com/planwatch/planwatch/pkg/util/log"
)

// Config carries service construction parameters.
type Config struct {
	// MaxEntries bounds the tracker; zero means tracker.DefaultMaxEntries.
	MaxEntries int64
	// SnapshotPath locates the persisted table. Empty disables
	// persistence entirely.
	SnapshotPath string
	// FlushInterval enables periodic snapshots when positive and a
	// SnapshotPath is set.
	FlushInterval time.Duration
	// SubplanCost overrides the estimator's subplan cost policy.
	SubplanCost planquality.SubplanCostPolicy
}

// Service is the host-facing entry point.
type Service struct {
	estimator planquality.Estimator
	tracker   *tracker.Tracker
	manager   *persist.Manager

	flushInterval time.Duration
	stopFlush     context.CancelFunc
	flushDone     sync.WaitGroup
}

// New constructs a stopped service. reg may be nil to disable metrics.
func New(cfg Config, reg prometheus.Registerer) *Service {
	var trackerMetrics *tracker.Metrics
	var persistMetrics *persist.Metrics
	if reg != nil {
		trackerMetrics = tracker.NewMetrics(reg)
		persistMetrics = persist.NewMetrics(reg)
	}
	s := &Service{
		estimator:     planquality.Estimator{SubplanCost: cfg.SubplanCost},
		tracker:       tracker.New(tracker.Config{MaxEntries: cfg.MaxEntries}, trackerMetrics),
		flushInterval: cfg.FlushInterval,
	}
	if cfg.SnapshotPath != "" {
		s.manager = persist.NewManager(cfg.SnapshotPath, persistMetrics)
	}
	return s
}

// Start restores the persisted table, then launches the periodic flush
// loop if configured. An unreadable or incompatible snapshot is logged
// and the service starts with an empty table; host startup is never
// blocked on history.
func (s *Service) Start(ctx context.Context) {
	if s.manager != nil {
		n, err := s.manager.Load(ctx, s.tracker)
		if err != nil {
			log.Errorf(ctx, "tracking: snapshot refused, starting empty: %v", err)
		} else if n > 0 {
			log.Infof(ctx, "tracking: restored %d tracked queries from %s",
				n, s.manager.Path())
		}
	}
	if s.manager != nil && s.flushInterval > 0 {
		flushCtx, cancel := context.WithCancel(context.Background())
		s.stopFlush = cancel
		s.flushDone.Add(1)
		go s.flushLoop(flushCtx)
	}
}

func (s *Service) flushLoop(ctx context.Context) {
	defer s.flushDone.Done()
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				log.Errorf(ctx, "tracking: periodic flush: %v", err)
			}
		}
	}
}

// RecordExecution runs the estimator over one completed execution's
// trace and folds the result into the tracked entry for the query.
// queryText must already be normalized (literals removed); it doubles as
// the fingerprint source. Returns whether the contribution was dropped
// because the tracker is at capacity.
func (s *Service) RecordExecution(
	ctx context.Context, namespaceID uint32, queryText string, trace *exectrace.Trace,
) (throttled bool, _ error) {
	vec, err := s.estimator.Estimate(trace)
	if err != nil {
		return false, err
	}
	key := planstats.QueryKey{
		NamespaceID: namespaceID,
		Fingerprint: planstats.ConstructFingerprint(queryText, namespaceID),
	}
	res := tracker.ResourceUsage{
		ElapsedSeconds: trace.Totals.ElapsedSeconds,
		BlockIO:        trace.Totals.BlockIO,
	}
	return s.tracker.RecordExecution(ctx, key, queryText, vec, res), nil
}

// Export enumerates the tracked entries. See tracker.Tracker.Export for
// the consistency contract.
func (s *Service) Export(
	visit func(key planstats.QueryKey, queryText string, stats tracker.EntryStats) error,
) error {
	return s.tracker.Export(visit)
}

// Len returns the live-entry count.
func (s *Service) Len() int64 {
	return s.tracker.Len()
}

// Flush saves the current table without clearing it. With persistence
// disabled it is a successful no-op.
func (s *Service) Flush(ctx context.Context) error {
	if s.manager == nil {
		return nil
	}
	return s.manager.Save(ctx, s.tracker)
}

// Reset clears every tracked entry, then flushes the now-empty state so
// a crash cannot resurrect the cleared data.
func (s *Service) Reset(ctx context.Context) error {
	s.tracker.Reset(ctx)
	return s.Flush(ctx)
}

// Stop halts the flush loop and writes a final snapshot.
func (s *Service) Stop(ctx context.Context) error {
	if s.stopFlush != nil {
		s.stopFlush()
		s.flushDone.Wait()
		s.stopFlush = nil
	}
	return s.Flush(ctx)
}
