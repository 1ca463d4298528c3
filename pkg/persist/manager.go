// Copyright 2025 The Planwatch Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package persist

import (
	"context"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/google/renameio/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/planwatch/planwatch/pkg/tracker"
	"github.com/planwatch/planwatch/pkg/util/log"
)

// Metrics exposes persistence observability counters. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Saves          prometheus.Counter
	SaveFailures   prometheus.Counter
	Loads          prometheus.Counter
	LoadRejections prometheus.Counter
}

// NewMetrics registers the persistence metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Saves: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "planwatch",
			Subsystem: "persist",
			Name:      "saves_total",
			Help:      "Successful snapshot saves.",
		}),
		SaveFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "planwatch",
			Subsystem: "persist",
			Name:      "save_failures_total",
			Help:      "Snapshot saves that failed.",
		}),
		Loads: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "planwatch",
			Subsystem: "persist",
			Name:      "loads_total",
			Help:      "Successful snapshot loads.",
		}),
		LoadRejections: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "planwatch",
			Subsystem: "persist",
			Name:      "load_rejections_total",
			Help:      "Snapshot files refused on load.",
		}),
	}
}

func (m *Metrics) saved() {
	if m != nil {
		m.Saves.Inc()
	}
}

func (m *Metrics) saveFailed() {
	if m != nil {
		m.SaveFailures.Inc()
	}
}

func (m *Metrics) loaded() {
	if m != nil {
		m.Loads.Inc()
	}
}

func (m *Metrics) rejected() {
	if m != nil {
		m.LoadRejections.Inc()
	}
}

// Manager saves and restores one tracker's content at a fixed path.
type Manager struct {
	path    string
	metrics *Metrics
}

// NewManager returns a manager for path. metrics may be nil.
func NewManager(path string, metrics *Metrics) *Manager {
	return &Manager{path: path, metrics: metrics}
}

// Path returns the snapshot location.
func (m *Manager) Path() string {
	return m.path
}

// Save writes a snapshot of the tracker to a temporary file and renames
// it into place atomically. On failure the temporary file is removed and
// the previous snapshot, if any, is left untouched.
func (m *Manager) Save(ctx context.Context, t *tracker.Tracker) error {
	data := EncodeTable(t)
	if err := renameio.WriteFile(m.path, data, 0o644); err != nil {
		m.metrics.saveFailed()
		return errors.Wrapf(err, "persist: saving %s", m.path)
	}
	m.metrics.saved()
	return nil
}

// Load restores a snapshot into the tracker. It must run once, before
// any other access to the table.
//
// Failure policy, per error class:
//   - missing file: clean first start, no-op;
//   - bad magic or version: the file is refused and the error returned,
//     the table stays empty — the caller proceeds without history;
//   - checksum mismatch: the whole file is discarded with a warning and
//     Load reports success with zero records, never a partial table;
//   - platform tag mismatch: warning only, the load proceeds;
//   - duplicate key: data corruption, returned with the offending key.
//
// Records are fully decoded and validated before the first one is
// installed, so the table is never left half-loaded.
func (m *Manager) Load(ctx context.Context, t *tracker.Tracker) (int, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		m.metrics.rejected()
		return 0, errors.Wrapf(err, "persist: reading %s", m.path)
	}

	info, records, err := DecodeTable(data)
	if err != nil {
		m.metrics.rejected()
		if errors.Is(err, ErrChecksumMismatch) {
			log.Warningf(ctx,
				"persist: discarding %s: %v; continuing with an empty table",
				m.path, err)
			return 0, nil
		}
		return 0, errors.Wrapf(err, "persist: loading %s", m.path)
	}
	if info.PlatformTag != PlatformTag() {
		log.Warningf(ctx,
			"persist: %s was written on %q, this is %q; field widths are "+
				"compatible, loading anyway", m.path, info.PlatformTag, PlatformTag())
	}

	installed := 0
	skipped := 0
	for i := range records {
		r := &records[i]
		ok, err := t.Install(r.Key, r.QueryText, r.Stats)
		if err != nil {
			// Duplicate keys are caught during decoding; hitting one here
			// means the table was not empty, which Load's contract forbids.
			return installed, errors.Wrapf(err, "persist: loading %s", m.path)
		}
		if !ok {
			skipped++
			continue
		}
		installed++
	}
	if skipped > 0 {
		log.Warningf(ctx,
			"persist: %s holds %d records but only %d fit the configured "+
				"capacity %d; %d dropped", m.path, len(records), installed,
			t.Capacity(), skipped)
	}
	m.metrics.loaded()
	return installed, nil
}
