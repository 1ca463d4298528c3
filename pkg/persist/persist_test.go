// Copyright 2025 The Planwatch Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package persist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/planwatch/planwatch/pkg/planquality"
	"github.com/planwatch/planwatch/pkg/planstats"
	"github.com/planwatch/planwatch/pkg/tracker"
)

func testKey(i int) planstats.QueryKey {
	return planstats.QueryKey{
		NamespaceID: 1,
		Fingerprint: planstats.ConstructFingerprint(fmt.Sprintf("Q%d", i), 1),
	}
}

// populatedTracker builds a tracker holding keys Q1..Qn with distinct
// execution counts (Qi executed i times).
func populatedTracker(t *testing.T, n int, capacity int64) *tracker.Tracker {
	t.Helper()
	ctx := context.Background()
	tr := tracker.New(tracker.Config{MaxEntries: capacity}, nil)
	for i := 1; i <= n; i++ {
		for j := 0; j < i; j++ {
			var v planquality.Vector
			v.AvgError.Set(float64(i) * 0.25)
			v.RMSError.Set(float64(i) * 0.5)
			v.NodesEvaluated = int32(i)
			v.NodesTotal = int32(i + 1)
			throttled := tr.RecordExecution(ctx, testKey(i), fmt.Sprintf("Q%d", i), v,
				tracker.ResourceUsage{ElapsedSeconds: float64(j), BlockIO: int64(j * 10)})
			require.False(t, throttled)
		}
	}
	return tr
}

func exportAll(t *testing.T, tr *tracker.Tracker) map[planstats.QueryKey]Record {
	t.Helper()
	out := make(map[planstats.QueryKey]Record)
	require.NoError(t, tr.Export(func(k planstats.QueryKey, text string, s tracker.EntryStats) error {
		out[k] = Record{Key: k, QueryText: text, Stats: s}
		return nil
	}))
	return out
}

func requireSameRecords(t *testing.T, want, got map[planstats.QueryKey]Record) {
	t.Helper()
	require.Equal(t, len(want), len(got))
	for k, w := range want {
		g, ok := got[k]
		require.True(t, ok, "missing key %s", k)
		require.Equal(t, w.QueryText, g.QueryText)
		require.Equal(t, w.Stats.ExecutionCount, g.Stats.ExecutionCount)
		require.Equal(t, w.Stats.NodesEvaluated, g.Stats.NodesEvaluated)
		require.Equal(t, w.Stats.NodesTotal, g.Stats.NodesTotal)
		// Exact equality: persistence must not perturb a single bit.
		require.True(t, w.Stats.AvgError.Equal(g.Stats.AvgError), "AvgError for %s", k)
		require.True(t, w.Stats.RMSError.Equal(g.Stats.RMSError), "RMSError for %s", k)
		require.True(t, w.Stats.TimeWeightedError.Equal(g.Stats.TimeWeightedError))
		require.True(t, w.Stats.CostWeightedError.Equal(g.Stats.CostWeightedError))
		require.True(t, w.Stats.JoinFilterFactor.Equal(g.Stats.JoinFilterFactor))
		require.True(t, w.Stats.ScanFilterFactor.Equal(g.Stats.ScanFilterFactor))
		require.True(t, w.Stats.WorstSubplanFactor.Equal(g.Stats.WorstSubplanFactor))
		require.True(t, w.Stats.ElapsedSeconds.Equal(g.Stats.ElapsedSeconds))
		require.True(t, w.Stats.BlockIO.Equal(g.Stats.BlockIO))
	}
}

func TestStatRoundTripExact(t *testing.T) {
	stats := []planstats.NumericStat{
		{}, // canonical empty
		{Count: 1, Mean: 3.14, SquaredDiffs: 0, Min: 3.14, Max: 3.14},
		{Count: 1000, Mean: 1e-7, SquaredDiffs: 123.456, Min: -5, Max: 42},
	}
	for i, want := range stats {
		var e encoder
		e.putStat(&want)
		d := &decoder{data: e.buf.Bytes()}
		var got planstats.NumericStat
		require.NoError(t, d.getStat(&got))
		require.True(t, want.Equal(got), "stat %d changed across round trip", i)
	}
}

func TestEncodeDecodeTableRoundTrip(t *testing.T) {
	tr := populatedTracker(t, 5, 10)
	want := exportAll(t, tr)

	data := EncodeTable(tr)
	info, records, err := DecodeTable(data)
	require.NoError(t, err)
	require.Equal(t, FormatVersion, info.Version)
	require.Equal(t, PlatformTag(), info.PlatformTag)
	require.Equal(t, 5, info.RecordCount)

	got := make(map[planstats.QueryKey]Record, len(records))
	for _, r := range records {
		got[r.Key] = r
	}
	requireSameRecords(t, want, got)
}

func TestEncodeEmptyTable(t *testing.T) {
	tr := tracker.New(tracker.Config{MaxEntries: 10}, nil)
	info, records, err := DecodeTable(EncodeTable(tr))
	require.NoError(t, err)
	require.Equal(t, 0, info.RecordCount)
	require.Empty(t, records)
}

// headerTagOffset is where the platform tag bytes start.
const headerTagOffset = 4 + 4 + 2

func TestDecodeCorruption(t *testing.T) {
	tr := populatedTracker(t, 3, 10)
	valid := EncodeTable(tr)
	tagLen := len(PlatformTag())
	recordOffset := headerTagOffset + tagLen + 4

	flip := func(off int) []byte {
		data := append([]byte(nil), valid...)
		data[off] ^= 0xff
		return data
	}

	t.Run("record byte", func(t *testing.T) {
		_, _, err := DecodeTable(flip(recordOffset + 8))
		require.ErrorIs(t, err, ErrChecksumMismatch)
	})
	t.Run("magic", func(t *testing.T) {
		_, _, err := DecodeTable(flip(0))
		require.ErrorIs(t, err, ErrBadMagic)
	})
	t.Run("version", func(t *testing.T) {
		_, _, err := DecodeTable(flip(4))
		require.ErrorIs(t, err, ErrBadVersion)
	})
	t.Run("platform tag", func(t *testing.T) {
		// The tag is outside the checksum: corruption confined to it
		// must not discard the data.
		info, records, err := DecodeTable(flip(headerTagOffset + 1))
		require.NoError(t, err)
		require.NotEqual(t, PlatformTag(), info.PlatformTag)
		require.Len(t, records, 3)
	})
	t.Run("truncated", func(t *testing.T) {
		_, _, err := DecodeTable(valid[:len(valid)-6])
		require.Error(t, err)
	})
	t.Run("empty file", func(t *testing.T) {
		_, _, err := DecodeTable(nil)
		require.ErrorIs(t, err, ErrTruncated)
	})
}

func TestDecodeDuplicateKey(t *testing.T) {
	key := testKey(1)
	stats := tracker.EntryStats{ExecutionCount: 1}

	var records encoder
	records.putRecord(key, "Q1", &stats)
	records.putRecord(key, "Q1", &stats)

	data := assembleFile(t, 2, records.buf.Bytes())
	_, _, err := DecodeTable(data)
	require.Error(t, err)
	require.Contains(t, err.Error(), key.String())
}

func TestDecodeRejectsCorruptEmptyStat(t *testing.T) {
	// A zero-count stat with a non-zero mean can only come from a buggy
	// writer; the checksum is valid, so the field check must catch it.
	stats := tracker.EntryStats{ExecutionCount: 1}
	stats.AvgError.Mean = 1.0 // Count stays 0.

	var records encoder
	records.putRecord(testKey(1), "Q1", &stats)
	data := assembleFile(t, 1, records.buf.Bytes())
	_, _, err := DecodeTable(data)
	require.Error(t, err)
	require.Contains(t, err.Error(), "zero count")
}

// assembleFile wraps raw record bytes in a valid header and checksum,
// mirroring EncodeTable's layout.
func assembleFile(t *testing.T, count uint32, recordBytes []byte) []byte {
	t.Helper()
	var payload encoder
	payload.putUint32(count)
	payload.buf.Write(recordBytes)

	var out encoder
	out.putUint32(fileMagic)
	out.putUint32(FormatVersion)
	tag := PlatformTag()
	out.putUint16(uint16(len(tag)))
	out.buf.WriteString(tag)
	out.buf.Write(payload.buf.Bytes())
	out.putUint32(checksumOf(payload.buf.Bytes()))
	return out.buf.Bytes()
}

func TestManagerSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "planstats.bin")
	m := NewManager(path, nil)

	tr := populatedTracker(t, 5, 10)
	want := exportAll(t, tr)
	require.NoError(t, m.Save(ctx, tr))

	// Reset in memory, then reload from disk.
	tr.Reset(ctx)
	require.Equal(t, int64(0), tr.Len())
	n, err := m.Load(ctx, tr)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	requireSameRecords(t, want, exportAll(t, tr))
}

func TestManagerLoadMissingFile(t *testing.T) {
	ctx := context.Background()
	m := NewManager(filepath.Join(t.TempDir(), "absent.bin"), nil)
	tr := tracker.New(tracker.Config{MaxEntries: 10}, nil)
	n, err := m.Load(ctx, tr)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestManagerLoadPolicies(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "planstats.bin")
	m := NewManager(path, nil)

	src := populatedTracker(t, 3, 10)
	require.NoError(t, m.Save(ctx, src))
	valid, err := os.ReadFile(path)
	require.NoError(t, err)

	corrupt := func(off int) {
		data := append([]byte(nil), valid...)
		data[off] ^= 0xff
		require.NoError(t, os.WriteFile(path, data, 0o644))
	}

	t.Run("checksum mismatch degrades to empty table", func(t *testing.T) {
		corrupt(len(valid) - 10) // inside the last record
		tr := tracker.New(tracker.Config{MaxEntries: 10}, nil)
		n, err := m.Load(ctx, tr)
		require.NoError(t, err, "checksum corruption must not fail the load")
		require.Zero(t, n)
		require.Equal(t, int64(0), tr.Len())
	})

	t.Run("bad magic is fatal to the load", func(t *testing.T) {
		corrupt(0)
		tr := tracker.New(tracker.Config{MaxEntries: 10}, nil)
		_, err := m.Load(ctx, tr)
		require.Error(t, err)
		require.True(t, errors.Is(err, ErrBadMagic))
		require.Equal(t, int64(0), tr.Len())
	})

	t.Run("bad version is fatal to the load", func(t *testing.T) {
		corrupt(4)
		tr := tracker.New(tracker.Config{MaxEntries: 10}, nil)
		_, err := m.Load(ctx, tr)
		require.Error(t, err)
		require.True(t, errors.Is(err, ErrBadVersion))
	})

	t.Run("platform tag mismatch loads with warning", func(t *testing.T) {
		corrupt(headerTagOffset)
		tr := tracker.New(tracker.Config{MaxEntries: 10}, nil)
		n, err := m.Load(ctx, tr)
		require.NoError(t, err)
		require.Equal(t, 3, n)
	})

	t.Run("capacity overflow drops the excess", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, valid, 0o644))
		tr := tracker.New(tracker.Config{MaxEntries: 2}, nil)
		n, err := m.Load(ctx, tr)
		require.NoError(t, err)
		require.Equal(t, 2, n)
	})
}

func TestManagerSaveReplacesAtomically(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "planstats.bin")
	m := NewManager(path, nil)

	require.NoError(t, m.Save(ctx, populatedTracker(t, 2, 10)))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, m.Save(ctx, populatedTracker(t, 4, 10)))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	_, records, err := DecodeTable(second)
	require.NoError(t, err)
	require.Len(t, records, 4)
}
