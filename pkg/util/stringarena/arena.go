// Copyright 2025 The Planwatch Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// Package stringarena holds variable-length strings on behalf of
// fixed-size records. Records store an opaque Handle instead of the
// string itself, which keeps them copyable and directly serializable.
// Each handle has a single owner and must be freed exactly once.
package stringarena

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// Handle references one allocated string. The zero Handle is invalid and
// never returned by Alloc.
type Handle uint64

// Arena is a concurrency-safe allocator of string slots. Freed slots are
// recycled through a free list.
type Arena struct {
	mu    sync.Mutex
	slots []string
	live  []bool
	free  []uint64
	bytes int64
}

// Make returns an empty arena.
func Make() *Arena {
	return &Arena{}
}

// Alloc stores s and returns its handle.
func (a *Arena) Alloc(s string) Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	var idx uint64
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[idx] = s
		a.live[idx] = true
	} else {
		idx = uint64(len(a.slots))
		a.slots = append(a.slots, s)
		a.live = append(a.live, true)
	}
	a.bytes += int64(len(s))
	return Handle(idx + 1)
}

// Get returns the string referenced by h.
func (a *Arena) Get(h Handle) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx, err := a.checkLocked(h)
	if err != nil {
		return "", err
	}
	return a.slots[idx], nil
}

// MustGet is Get for handles the caller knows to be live.
func (a *Arena) MustGet(h Handle) string {
	s, err := a.Get(h)
	if err != nil {
		panic(err)
	}
	return s
}

// Free releases the slot referenced by h. Freeing an invalid or
// already-freed handle is an error: it means two owners believed they
// held the same allocation.
func (a *Arena) Free(h Handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx, err := a.checkLocked(h)
	if err != nil {
		return err
	}
	a.bytes -= int64(len(a.slots[idx]))
	a.slots[idx] = ""
	a.live[idx] = false
	a.free = append(a.free, idx)
	return nil
}

// Len returns the number of live allocations.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.slots) - len(a.free)
}

// Bytes returns the total size of live strings.
func (a *Arena) Bytes() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bytes
}

func (a *Arena) checkLocked(h Handle) (uint64, error) {
	if h == 0 {
		return 0, errors.New("stringarena: zero handle")
	}
	idx := uint64(h) - 1
	if idx >= uint64(len(a.slots)) {
		return 0, errors.Newf("stringarena: handle %d out of range", h)
	}
	if !a.live[idx] {
		return 0, errors.Newf("stringarena: handle %d already freed", h)
	}
	return idx, nil
}
