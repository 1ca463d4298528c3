// Copyright 2025 The Planwatch Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package stringarena

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArenaAllocGetFree(t *testing.T) {
	a := Make()
	h1 := a.Alloc("select 1")
	h2 := a.Alloc("select 2")
	require.NotEqual(t, h1, h2)
	require.Equal(t, 2, a.Len())
	require.Equal(t, int64(16), a.Bytes())

	s, err := a.Get(h1)
	require.NoError(t, err)
	require.Equal(t, "select 1", s)

	require.NoError(t, a.Free(h1))
	require.Equal(t, 1, a.Len())
	require.Equal(t, int64(8), a.Bytes())

	_, err = a.Get(h1)
	require.Error(t, err)

	// h2 is untouched by freeing h1.
	require.Equal(t, "select 2", a.MustGet(h2))
}

func TestArenaFreeOnce(t *testing.T) {
	a := Make()
	h := a.Alloc("x")
	require.NoError(t, a.Free(h))
	require.Error(t, a.Free(h), "double free must be rejected")
	require.Error(t, a.Free(Handle(0)))
	require.Error(t, a.Free(Handle(99)))
}

func TestArenaSlotReuse(t *testing.T) {
	a := Make()
	h1 := a.Alloc("a")
	require.NoError(t, a.Free(h1))
	h2 := a.Alloc("b")
	// The freed slot is recycled; the new handle is valid regardless of
	// whether it numerically equals the old one.
	require.Equal(t, "b", a.MustGet(h2))
	require.Equal(t, 1, a.Len())
}

func BenchmarkArena(b *testing.B) {
	const count = 1024
	vals := make([]string, count)
	for i := range vals {
		vals[i] = fmt.Sprint(i)
	}

	a := Make()
	handles := make([]Handle, count)
	for i := 0; i < b.N; i++ {
		j := i % count
		if handles[j] != 0 {
			if err := a.Free(handles[j]); err != nil {
				b.Fatal(err)
			}
		}
		handles[j] = a.Alloc(vals[j])
	}
}
