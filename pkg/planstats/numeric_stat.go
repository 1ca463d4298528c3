// Copyright 2025 The Planwatch Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// Package planstats holds the aggregate statistic types tracked per
// query fingerprint.
package planstats

import (
	"math"

	"github.com/cockroachdb/errors"
)

// NumericStat is a fixed-size running statistic over a stream of
// float64 samples: count, mean, sum of squared differences from the
// mean, minimum and maximum. It stores no history; each sample is folded
// in with O(1) work following Welford's algorithm (Technometrics, 1962),
// which keeps the variance basis numerically stable for long streams.
//
// The canonical empty state is Count == 0 with every other field exactly
// 0.0. Any other zero-count state is corrupt; CheckWellFormed rejects it
// when a stat is reconstructed from external bytes.
type NumericStat struct {
	Count        int64
	Mean         float64
	SquaredDiffs float64
	Min          float64
	Max          float64
}

// Record folds one sample into the running statistic.
func (s *NumericStat) Record(val float64) {
	if s.Count == 0 {
		s.Count = 1
		s.Mean = val
		s.SquaredDiffs = 0
		s.Min = val
		s.Max = val
		return
	}
	s.Count++
	delta := val - s.Mean
	s.Mean += delta / float64(s.Count)
	s.SquaredDiffs += delta * (val - s.Mean)
	if val < s.Min {
		s.Min = val
	}
	if val > s.Max {
		s.Max = val
	}
}

// Empty reports whether no samples have been recorded.
func (s *NumericStat) Empty() bool {
	return s.Count == 0
}

// GetVariance returns the sample variance, or 0 with fewer than two
// samples.
func (s *NumericStat) GetVariance() float64 {
	if s.Count < 2 {
		return 0
	}
	return s.SquaredDiffs / float64(s.Count-1)
}

// GetStddev returns the sample standard deviation.
func (s *NumericStat) GetStddev() float64 {
	return math.Sqrt(s.GetVariance())
}

// Equal reports exact field-wise equality: two stats are equal only if
// they are the result of accumulating the same sample sequence, not
// merely numerically close.
func (s *NumericStat) Equal(other NumericStat) bool {
	return s.Count == other.Count &&
		s.Mean == other.Mean &&
		s.SquaredDiffs == other.SquaredDiffs &&
		s.Min == other.Min &&
		s.Max == other.Max
}

// AlmostEqual compares mean and variance basis within eps. Used by tests
// that compare against independently computed statistics.
func (s *NumericStat) AlmostEqual(other NumericStat, eps float64) bool {
	return s.Count == other.Count &&
		math.Abs(s.Mean-other.Mean) <= eps &&
		math.Abs(s.SquaredDiffs-other.SquaredDiffs) <= eps
}

// CheckWellFormed validates invariants that must hold for any stat
// reconstructed from external bytes.
func (s *NumericStat) CheckWellFormed() error {
	if s.Count < 0 {
		return errors.Newf("numeric stat: negative count %d", s.Count)
	}
	if s.Count == 0 {
		if s.Mean != 0 || s.SquaredDiffs != 0 || s.Min != 0 || s.Max != 0 {
			return errors.Newf(
				"numeric stat: zero count with non-zero fields (mean=%v sqdiffs=%v min=%v max=%v)",
				s.Mean, s.SquaredDiffs, s.Min, s.Max)
		}
		return nil
	}
	if s.SquaredDiffs < 0 {
		return errors.Newf("numeric stat: negative squared diffs %v", s.SquaredDiffs)
	}
	if s.Min > s.Max {
		return errors.Newf("numeric stat: min %v exceeds max %v", s.Min, s.Max)
	}
	return nil
}
