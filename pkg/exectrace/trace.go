// Copyright 2025 The Planwatch Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// Package exectrace defines the instrumentation snapshot the host engine
// hands over after each completed execution: a rooted tree of per-node
// runtime measurements plus execution-wide totals. Traces are consumed
// once by the estimator and discarded; nothing in this package retains
// them.
package exectrace

// NodeKind classifies a plan node for the overhead indicators. Only the
// scan/join distinction matters to the estimator; everything else is
// KindOther.
type NodeKind int8

const (
	// KindOther is any node that is neither a base-relation scan nor a
	// join.
	KindOther NodeKind = iota
	// KindScan is a base-relation scan (sequential, index, bitmap, ...).
	KindScan
	// KindJoin is a join node of any strategy.
	KindJoin
)

// WorkerStats is the per-worker slice of a parallel node's totals.
// Tuple and loop counts mirror the engine's instrumentation, which
// reports them as doubles.
type WorkerStats struct {
	OutputTuples float64
	Loops        float64
}

// SubPlanStats describes one correlated sub-computation (e.g. a subplan
// re-evaluated per outer row) attached to a node.
type SubPlanStats struct {
	Name           string
	Loops          int64
	ElapsedSeconds float64
}

// NodeRecord is one operation of the executed plan.
type NodeRecord struct {
	Kind NodeKind

	// PlanRows is the optimizer's per-loop output estimate. For parallel
	// nodes it is the per-process share, scaled back up by the estimator.
	PlanRows float64
	// TotalCost is the optimizer's cost for the node.
	TotalCost float64

	// OutputTuples is the total tuple count produced across all loops,
	// workers included.
	OutputTuples float64
	// LoopCount is the number of times the node was (re)started. Zero
	// means the node never ran.
	LoopCount float64
	// ElapsedSeconds is the total wall time attributed to the node.
	ElapsedSeconds float64

	// Pre-output filter counts. These tuples were fetched and then
	// discarded before reaching the node's output, so they represent
	// work invisible in OutputTuples.
	QualFiltered       float64
	VisibilityFiltered float64
	SecondaryFetches   float64

	// EarlyTerminated marks a node whose parent stopped pulling before
	// the subtree ran to completion (e.g. under LIMIT).
	EarlyTerminated bool

	// Workers carries the per-worker breakdown for parallel nodes; empty
	// for serial ones.
	Workers []WorkerStats

	// SubPlans lists correlated sub-computations attached to this node.
	SubPlans []SubPlanStats

	Children []NodeRecord
}

// Totals are the execution-wide measurements used as weighting bases.
type Totals struct {
	ElapsedSeconds float64
	PlannedCost    float64
	BlockIO        int64
}

// Trace is the complete instrumentation output of one execution.
type Trace struct {
	Root   NodeRecord
	Totals Totals
}
