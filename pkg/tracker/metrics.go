// Copyright 2025 The Planwatch Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes tracker observability counters. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	LiveEntries    prometheus.Gauge
	Admissions     prometheus.Counter
	Throttled      prometheus.Counter
	Resets         prometheus.Counter
	ExecutionsSeen prometheus.Counter
}

// NewMetrics registers the tracker metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		LiveEntries: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "planwatch",
			Subsystem: "tracker",
			Name:      "live_entries",
			Help:      "Number of query fingerprints currently tracked.",
		}),
		Admissions: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "planwatch",
			Subsystem: "tracker",
			Name:      "admissions_total",
			Help:      "Entries admitted into the tracker.",
		}),
		Throttled: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "planwatch",
			Subsystem: "tracker",
			Name:      "throttled_total",
			Help:      "Executions dropped because the tracker was at capacity.",
		}),
		Resets: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "planwatch",
			Subsystem: "tracker",
			Name:      "resets_total",
			Help:      "Full tracker resets.",
		}),
		ExecutionsSeen: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "planwatch",
			Subsystem: "tracker",
			Name:      "executions_total",
			Help:      "Executions recorded, including throttled ones.",
		}),
	}
}

func (m *Metrics) admitted() {
	if m != nil {
		m.LiveEntries.Inc()
		m.Admissions.Inc()
	}
}

func (m *Metrics) throttled() {
	if m != nil {
		m.Throttled.Inc()
	}
}

func (m *Metrics) execution() {
	if m != nil {
		m.ExecutionsSeen.Inc()
	}
}

func (m *Metrics) reset(removed int64) {
	if m != nil {
		m.LiveEntries.Sub(float64(removed))
		m.Resets.Inc()
	}
}
