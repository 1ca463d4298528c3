// Copyright 2025 The Planwatch Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// Package optional exposes scalar values that distinguish "not computed"
// from any computed value, including zero. It replaces sentinel encodings
// (a negative number meaning "undefined") which invite accidental
// arithmetic on values that do not exist.
package optional

// Float is an optional float64. The zero value is unset.
type Float struct {
	value    float64
	hasValue bool
}

// MakeFloat returns a set Float holding v.
func MakeFloat(v float64) Float {
	return Float{value: v, hasValue: true}
}

// HasValue reports whether the value was computed.
func (f Float) HasValue() bool {
	return f.hasValue
}

// Value returns the held value, or 0 if unset. Callers that care about
// the distinction must consult HasValue first.
func (f Float) Value() float64 {
	return f.value
}

// Clear unsets the value.
func (f *Float) Clear() {
	*f = Float{}
}

// Set replaces the held value.
func (f *Float) Set(v float64) {
	*f = MakeFloat(v)
}
