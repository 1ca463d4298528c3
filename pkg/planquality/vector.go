// Copyright 2025 The Planwatch Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package planquality

import "github.com/planwatch/planwatch/pkg/util/optional"

// Vector is the per-execution output of the estimator: how far the
// planner's row predictions landed from what the execution produced,
// summarized several ways, plus overhead indicators. Each metric is
// optional; an unset field means no node contributed to it this
// execution and must not be folded into aggregates.
type Vector struct {
	// AvgError is the mean of per-node errors |ln(actual/predicted)|.
	AvgError optional.Float
	// RMSError is the root mean square of per-node errors. It is never
	// below AvgError and emphasizes outlier nodes.
	RMSError optional.Float
	// TimeWeightedError weights each node's error by its share of total
	// execution time.
	TimeWeightedError optional.Float
	// CostWeightedError weights each node's error by its share of total
	// planned cost.
	CostWeightedError optional.Float

	// JoinFilterFactor estimates time lost to tuples discarded by join
	// filters, relative to node output and node time share.
	JoinFilterFactor optional.Float
	// ScanFilterFactor is the same indicator scoped to leaf scans, where
	// discarded tuples represent I/O the planner's row counts hide.
	ScanFilterFactor optional.Float
	// WorstSubplanFactor is the maximum cost factor over all correlated
	// sub-computations in the trace, per the estimator's policy.
	WorstSubplanFactor optional.Float

	// NodesEvaluated counts nodes that contributed to the error
	// aggregates; NodesTotal counts all nodes in the plan.
	NodesEvaluated int32
	NodesTotal     int32
}
