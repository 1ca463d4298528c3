// Copyright 2025 The Planwatch Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// Package planquality turns one execution's instrumentation trace into a
// vector of prediction-error and overhead metrics. Estimate is a pure
// function of the trace; it holds no state across executions.
package planquality

import (
	"math"

	"github.com/cockroachdb/errors"
	"github.com/planwatch/planwatch/pkg/exectrace"
)

// minRowCount is the floor applied to both predicted and actual row
// counts before taking the log ratio. It matches the engine-side clamp
// on row estimates and removes division and log singularities for empty
// results.
const minRowCount = 1.0

// SubplanCostPolicy computes the cost factor of one correlated
// sub-computation. The formula is deliberately replaceable: the useful
// weighting of repeat count against time share is still being tuned, and
// only the Vector field contract is stable.
type SubplanCostPolicy func(loops int64, subElapsed, totalElapsed float64) float64

// RelativeTimeSubplanCost is the default policy:
// loops x (subElapsed/totalElapsed).
func RelativeTimeSubplanCost(loops int64, subElapsed, totalElapsed float64) float64 {
	if totalElapsed <= 0 {
		return 0
	}
	return float64(loops) * subElapsed / totalElapsed
}

// LogDampedSubplanCost dampens the repeat count logarithmically, for
// hosts where raw loop counts of nested subplans dominate everything
// else: (loops/ln(loops+e)) x (subElapsed/totalElapsed).
func LogDampedSubplanCost(loops int64, subElapsed, totalElapsed float64) float64 {
	if totalElapsed <= 0 {
		return 0
	}
	damped := float64(loops) / math.Log(float64(loops)+math.E)
	return damped * subElapsed / totalElapsed
}

// Estimator computes error vectors from execution traces. The zero value
// is ready to use with the default subplan policy.
type Estimator struct {
	// SubplanCost overrides the subplan cost policy when non-nil.
	SubplanCost SubplanCostPolicy
}

// Estimate walks the trace's plan tree in post order and returns the
// resulting error vector. If no node qualifies for evaluation, every
// metric in the result is unset and only the node counts are populated.
func (e *Estimator) Estimate(trace *exectrace.Trace) (Vector, error) {
	if trace == nil {
		return Vector{}, errors.New("planquality: nil trace")
	}
	var acc accum
	e.walkNode(&trace.Root, trace.Totals, &acc)

	v := Vector{
		NodesEvaluated: int32(acc.evaluated),
		NodesTotal:     int32(acc.total),
	}
	if acc.evaluated == 0 {
		return v, nil
	}
	n := float64(acc.evaluated)
	v.AvgError.Set(acc.sumErr / n)
	v.RMSError.Set(math.Sqrt(acc.sumSqErr / n))
	if acc.timeSeen {
		v.TimeWeightedError.Set(acc.sumTimeWeighted)
	}
	if acc.costSeen {
		v.CostWeightedError.Set(acc.sumCostWeighted)
	}
	if acc.joinSeen {
		v.JoinFilterFactor.Set(acc.joinFilter)
	}
	if acc.scanSeen {
		v.ScanFilterFactor.Set(acc.scanFilter)
	}
	if acc.subplanSeen {
		v.WorstSubplanFactor.Set(acc.worstSubplan)
	}
	return v, nil
}

type accum struct {
	total     int
	evaluated int

	sumErr          float64
	sumSqErr        float64
	sumTimeWeighted float64
	timeSeen        bool
	sumCostWeighted float64
	costSeen        bool

	joinFilter   float64
	joinSeen     bool
	scanFilter   float64
	scanSeen     bool
	worstSubplan float64
	subplanSeen  bool
}

// walkNode visits children before the parent and returns the number of
// executed nodes in the subtree rooted at node, itself included. The
// explicit return replaces leaf detection via a counter mutated during
// the walk: a node is a leaf when none of its subtrees executed.
func (e *Estimator) walkNode(
	node *exectrace.NodeRecord, totals exectrace.Totals, acc *accum,
) (subtreeExecuted int) {
	acc.total++
	executedBelow := 0
	for i := range node.Children {
		executedBelow += e.walkNode(&node.Children[i], totals, acc)
	}
	subtreeExecuted = executedBelow
	if node.LoopCount > 0 {
		subtreeExecuted++
	}

	for _, sp := range node.SubPlans {
		if sp.Loops <= 0 || totals.ElapsedSeconds <= 0 {
			continue
		}
		f := e.subplanCost()(sp.Loops, sp.ElapsedSeconds, totals.ElapsedSeconds)
		if !acc.subplanSeen || f > acc.worstSubplan {
			acc.worstSubplan = f
			acc.subplanSeen = true
		}
	}

	if !nodeEvaluable(node) {
		return subtreeExecuted
	}
	isLeaf := executedBelow == 0
	predicted, actual := nodeRowCounts(node, isLeaf)
	nodeErr := math.Abs(math.Log(actual / predicted))

	acc.evaluated++
	acc.sumErr += nodeErr
	acc.sumSqErr += nodeErr * nodeErr

	var relTime float64
	if totals.ElapsedSeconds > 0 {
		relTime = node.ElapsedSeconds / totals.ElapsedSeconds
		acc.sumTimeWeighted += nodeErr * relTime
		acc.timeSeen = true
	}
	if totals.PlannedCost > 0 {
		acc.sumCostWeighted += nodeErr * node.TotalCost / totals.PlannedCost
		acc.costSeen = true
	}

	output := node.OutputTuples
	if output < 1 {
		output = 1
	}
	switch node.Kind {
	case exectrace.KindJoin:
		acc.joinFilter += node.QualFiltered / output * relTime
		acc.joinSeen = true
	case exectrace.KindScan:
		if isLeaf {
			filtered := node.QualFiltered + node.VisibilityFiltered + node.SecondaryFetches
			acc.scanFilter += filtered / output * relTime
			acc.scanSeen = true
		}
	}
	return subtreeExecuted
}

// nodeEvaluable gates inclusion in the error aggregates. A node that
// never ran, or ran in zero measured time, has no comparison point.
// Early-terminated nodes are excluded as well: their actual row counts
// reflect the parent giving up, not the data distribution.
func nodeEvaluable(node *exectrace.NodeRecord) bool {
	return node.LoopCount > 0 && node.ElapsedSeconds > 0 && !node.EarlyTerminated
}

// nodeRowCounts derives the predicted/actual row counts compared at one
// node, both clamped to minRowCount.
func nodeRowCounts(node *exectrace.NodeRecord, isLeaf bool) (predicted, actual float64) {
	// The planner's estimate is a per-process share for parallel nodes.
	// Scale it by the worker count plus the leader's diminishing
	// contribution.
	numWorkers := float64(len(node.Workers))
	divisor := numWorkers + math.Max(0, 1-0.3*numWorkers)
	predicted = node.PlanRows * divisor

	if len(node.Workers) > 0 {
		// Sum per-worker tuples-per-loop ratios rather than dividing
		// pooled totals, so a worker that processed a lopsided share
		// does not skew the mean.
		var workerTuples, workerLoops float64
		for _, w := range node.Workers {
			if w.Loops <= 0 {
				continue
			}
			actual += w.OutputTuples / w.Loops
			workerTuples += w.OutputTuples
			workerLoops += w.Loops
		}
		// Loops not covered by any worker ran in the coordinating
		// process.
		if leaderLoops := node.LoopCount - workerLoops; leaderLoops > 0 {
			actual += (node.OutputTuples - workerTuples) / leaderLoops
		}
	} else {
		actual = node.OutputTuples / node.LoopCount
	}

	if isLeaf {
		// Tuples fetched and discarded before output never show up in
		// parent/child row deltas, so for leaves they are added back as
		// work the estimate should have predicted.
		actual += (node.QualFiltered + node.VisibilityFiltered + node.SecondaryFetches) / node.LoopCount
	}

	if predicted < minRowCount {
		predicted = minRowCount
	}
	if actual < minRowCount {
		actual = minRowCount
	}
	return predicted, actual
}

func (e *Estimator) subplanCost() SubplanCostPolicy {
	if e.SubplanCost != nil {
		return e.SubplanCost
	}
	return RelativeTimeSubplanCost
}
