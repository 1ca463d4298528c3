// Copyright 2025 The Planwatch Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// Package persist reads and writes the tracker's on-disk snapshot.
//
// The format is an explicit, versioned, field-by-field schema, decoupled
// from the in-memory struct layout so that schema evolution never
// depends on Go struct geometry:
//
//	magic        uint32
//	version      uint32
//	platform tag uint16 length + bytes
//	record count uint32
//	records      fixed-size fields + uint32 length-prefixed query text
//	checksum     uint32 CRC-32C over record count + records
//
// All integers are little-endian; floats are IEEE-754 bit patterns.
// Magic and version are guarded by their own equality checks; the
// platform tag is informational and deliberately outside the checksum,
// so a tag difference (or corruption confined to it) degrades to a
// warning instead of discarding the data.
package persist

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"math"
	"runtime"

	"github.com/cockroachdb/errors"

	"github.com/planwatch/planwatch/pkg/planstats"
	"github.com/planwatch/planwatch/pkg/tracker"
)

const (
	// fileMagic spells "PLWS" when written little-endian.
	fileMagic uint32 = 0x53574c50

	// FormatVersion is the current schema version. There is no
	// cross-version migration: files written by another version are
	// refused, not repaired.
	FormatVersion uint32 = 1

	checksumLen = 4
)

// Load/decode failure taxonomy. Callers distinguish refusals that are
// fatal to the load (magic, version, duplicate key) from degradable ones
// (checksum) with errors.Is.
var (
	ErrBadMagic         = errors.New("persist: incompatible header magic")
	ErrBadVersion       = errors.New("persist: incompatible format version")
	ErrChecksumMismatch = errors.New("persist: file checksum mismatch")
	ErrTruncated        = errors.New("persist: file truncated")
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func checksumOf(payload []byte) uint32 {
	return crc32.Checksum(payload, castagnoli)
}

// PlatformTag identifies the platform a file was written on. Fixed-width
// little-endian fields are layout-compatible across same-width
// platforms, so a mismatch downgrades to a warning on load.
func PlatformTag() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}

// Record is one decoded table entry.
type Record struct {
	Key       planstats.QueryKey
	QueryText string
	Stats     tracker.EntryStats
}

// FileInfo is the decoded header.
type FileInfo struct {
	Version     uint32
	PlatformTag string
	RecordCount int
}

type encoder struct {
	buf bytes.Buffer
}

func (e *encoder) putUint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) putUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) putUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) putInt32(v int32) { e.putUint32(uint32(v)) }
func (e *encoder) putInt64(v int64) { e.putUint64(uint64(v)) }

func (e *encoder) putFloat64(v float64) {
	e.putUint64(math.Float64bits(v))
}

func (e *encoder) putStat(s *planstats.NumericStat) {
	e.putInt64(s.Count)
	e.putFloat64(s.Mean)
	e.putFloat64(s.SquaredDiffs)
	e.putFloat64(s.Min)
	e.putFloat64(s.Max)
}

func (e *encoder) putRecord(key planstats.QueryKey, text string, stats *tracker.EntryStats) {
	e.putUint32(key.NamespaceID)
	e.putUint64(uint64(key.Fingerprint))
	e.putInt64(stats.ExecutionCount)
	e.putInt32(stats.NodesEvaluated)
	e.putInt32(stats.NodesTotal)
	e.putStat(&stats.AvgError)
	e.putStat(&stats.RMSError)
	e.putStat(&stats.TimeWeightedError)
	e.putStat(&stats.CostWeightedError)
	e.putStat(&stats.JoinFilterFactor)
	e.putStat(&stats.ScanFilterFactor)
	e.putStat(&stats.WorstSubplanFactor)
	e.putStat(&stats.ElapsedSeconds)
	e.putStat(&stats.BlockIO)
	e.putUint32(uint32(len(text)))
	e.buf.WriteString(text)
}

type decoder struct {
	data []byte
	off  int
}

func (d *decoder) remaining() int { return len(d.data) - d.off }

func (d *decoder) getUint16() (uint16, error) {
	if d.remaining() < 2 {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint16(d.data[d.off:])
	d.off += 2
	return v, nil
}

func (d *decoder) getUint32() (uint32, error) {
	if d.remaining() < 4 {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint32(d.data[d.off:])
	d.off += 4
	return v, nil
}

func (d *decoder) getUint64() (uint64, error) {
	if d.remaining() < 8 {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint64(d.data[d.off:])
	d.off += 8
	return v, nil
}

func (d *decoder) getInt32() (int32, error) {
	v, err := d.getUint32()
	return int32(v), err
}

func (d *decoder) getInt64() (int64, error) {
	v, err := d.getUint64()
	return int64(v), err
}

func (d *decoder) getFloat64() (float64, error) {
	v, err := d.getUint64()
	return math.Float64frombits(v), err
}

func (d *decoder) getBytes(n int) ([]byte, error) {
	if n < 0 || d.remaining() < n {
		return nil, ErrTruncated
	}
	b := d.data[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *decoder) getStat(s *planstats.NumericStat) error {
	var err error
	if s.Count, err = d.getInt64(); err != nil {
		return err
	}
	if s.Mean, err = d.getFloat64(); err != nil {
		return err
	}
	if s.SquaredDiffs, err = d.getFloat64(); err != nil {
		return err
	}
	if s.Min, err = d.getFloat64(); err != nil {
		return err
	}
	if s.Max, err = d.getFloat64(); err != nil {
		return err
	}
	return s.CheckWellFormed()
}

func (d *decoder) getRecord(r *Record) error {
	var err error
	if r.Key.NamespaceID, err = d.getUint32(); err != nil {
		return err
	}
	fp, err := d.getUint64()
	if err != nil {
		return err
	}
	r.Key.Fingerprint = planstats.QueryFingerprint(fp)
	if r.Stats.ExecutionCount, err = d.getInt64(); err != nil {
		return err
	}
	if r.Stats.NodesEvaluated, err = d.getInt32(); err != nil {
		return err
	}
	if r.Stats.NodesTotal, err = d.getInt32(); err != nil {
		return err
	}
	for _, s := range []*planstats.NumericStat{
		&r.Stats.AvgError,
		&r.Stats.RMSError,
		&r.Stats.TimeWeightedError,
		&r.Stats.CostWeightedError,
		&r.Stats.JoinFilterFactor,
		&r.Stats.ScanFilterFactor,
		&r.Stats.WorstSubplanFactor,
		&r.Stats.ElapsedSeconds,
		&r.Stats.BlockIO,
	} {
		if err := d.getStat(s); err != nil {
			return err
		}
	}
	textLen, err := d.getUint32()
	if err != nil {
		return err
	}
	text, err := d.getBytes(int(textLen))
	if err != nil {
		return err
	}
	r.QueryText = string(text)
	return nil
}

// EncodeTable serializes a best-effort snapshot of the tracker. The
// record count written is the number of records actually enumerated,
// not a count committed before the scan.
func EncodeTable(t *tracker.Tracker) []byte {
	var records encoder
	count := uint32(0)
	// Export never returns an error here because the visitor does not.
	_ = t.Export(func(key planstats.QueryKey, text string, stats tracker.EntryStats) error {
		records.putRecord(key, text, &stats)
		count++
		return nil
	})

	var payload encoder
	payload.putUint32(count)
	payload.buf.Write(records.buf.Bytes())

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

// DecodeTable parses a snapshot file. Verification order matters:
// magic, then version, then the checksum over the entire payload, and
// only then the records — a corrupt file is rejected whole before any
// record is interpreted. A duplicate key across two records is reported
// with the offending key.
func DecodeTable(data []byte) (FileInfo, []Record, error) {
	var info FileInfo
	d := &decoder{data: data}

	magic, err := d.getUint32()
	if err != nil {
		return info, nil, err
	}
	if magic != fileMagic {
		return info, nil, errors.Wrapf(ErrBadMagic, "got %#08x", magic)
	}
	if info.Version, err = d.getUint32(); err != nil {
		return info, nil, err
	}
	if info.Version != FormatVersion {
		return info, nil, errors.Wrapf(ErrBadVersion,
			"file version %d, supported version %d", info.Version, FormatVersion)
	}

	tagLen, err := d.getUint16()
	if err != nil {
		return info, nil, err
	}
	tag, err := d.getBytes(int(tagLen))
	if err != nil {
		return info, nil, err
	}
	info.PlatformTag = string(tag)

	// The checksum over the record payload is verified before a single
	// record is interpreted; a corrupt file is rejected whole.
	if d.remaining() < checksumLen {
		return info, nil, ErrTruncated
	}
	payload := data[d.off : len(data)-checksumLen]
	want := binary.LittleEndian.Uint32(data[len(data)-checksumLen:])
	if got := checksumOf(payload); got != want {
		return info, nil, errors.Wrapf(ErrChecksumMismatch,
			"computed %#08x, stored %#08x", got, want)
	}
	d.data = data[:len(data)-checksumLen]

	count, err := d.getUint32()
	if err != nil {
		return info, nil, err
	}
	info.RecordCount = int(count)

	records := make([]Record, 0, count)
	seen := make(map[planstats.QueryKey]struct{}, count)
	for i := 0; i < int(count); i++ {
		var r Record
		if err := d.getRecord(&r); err != nil {
			return info, nil, errors.Wrapf(err, "record %d", i)
		}
		if _, dup := seen[r.Key]; dup {
			return info, nil, errors.Newf(
				"persist: duplicate key %s at record %d", r.Key, i)
		}
		seen[r.Key] = struct{}{}
		records = append(records, r)
	}
	return info, records, nil
}
