// Copyright 2025 The Planwatch Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package tracker

import (
	"sync"

	"github.com/planwatch/planwatch/pkg/planstats"
	"github.com/planwatch/planwatch/pkg/util/stringarena"
)

// EntryStats is the aggregated state tracked per query fingerprint. All
// fields are fixed-size, which keeps entries copyable and directly
// serializable; the query text lives in the arena, referenced by handle
// from the owning entry.
type EntryStats struct {
	// ExecutionCount is the number of executions folded into this entry.
	ExecutionCount int64

	// NodesEvaluated and NodesTotal are last-observed snapshots,
	// overwritten on every execution rather than aggregated.
	NodesEvaluated int32
	NodesTotal     int32

	// Per-metric running statistics over the estimator's error vector.
	// A metric left unset in a given execution is skipped for that round
	// without penalizing the others.
	AvgError           planstats.NumericStat
	RMSError           planstats.NumericStat
	TimeWeightedError  planstats.NumericStat
	CostWeightedError  planstats.NumericStat
	JoinFilterFactor   planstats.NumericStat
	ScanFilterFactor   planstats.NumericStat
	WorstSubplanFactor planstats.NumericStat

	// Resource counters, always defined, accumulated unconditionally.
	ElapsedSeconds planstats.NumericStat
	BlockIO        planstats.NumericStat
}

// CheckWellFormed validates every contained statistic. Used when stats
// are reconstructed from persisted bytes.
func (s *EntryStats) CheckWellFormed() error {
	if err := s.AvgError.CheckWellFormed(); err != nil {
		return err
	}
	if err := s.RMSError.CheckWellFormed(); err != nil {
		return err
	}
	if err := s.TimeWeightedError.CheckWellFormed(); err != nil {
		return err
	}
	if err := s.CostWeightedError.CheckWellFormed(); err != nil {
		return err
	}
	if err := s.JoinFilterFactor.CheckWellFormed(); err != nil {
		return err
	}
	if err := s.ScanFilterFactor.CheckWellFormed(); err != nil {
		return err
	}
	if err := s.WorstSubplanFactor.CheckWellFormed(); err != nil {
		return err
	}
	if err := s.ElapsedSeconds.CheckWellFormed(); err != nil {
		return err
	}
	return s.BlockIO.CheckWellFormed()
}

// entry is one live tracked query. The text handle is immutable after
// creation and owned exclusively by this entry; it is freed exactly once
// when the entry is removed.
type entry struct {
	text stringarena.Handle

	// mu protects the mutable statistics. Once a caller has located an
	// entry it mutates stats under this lock, so concurrent updates to
	// the same key are linearized while distinct keys proceed
	// independently.
	mu struct {
		sync.Mutex
		stats EntryStats
	}
}
