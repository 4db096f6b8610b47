// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package stat

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports campaign counters in the Prometheus text format.
// Each campaign has its own registry, the default one is never touched.
type Metrics struct {
	reg      *prometheus.Registry
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	model    string
}

func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llfi_runs_total",
			Help: "Number of fault injection runs by run block and outcome.",
		}, []string{"block", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llfi_run_duration_seconds",
			Help:    "Wall time of fault injection runs.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"model"}),
	}
	m.reg.MustRegister(m.runs, m.duration)
	return m
}

// Model returns metrics that share m's registry but label all samples with the failure model.
func (m *Metrics) Model(name string) *Metrics {
	model := *m
	model.model = name
	return &model
}

func (m *Metrics) Record(block int, outcome string, elapsed time.Duration) {
	m.runs.WithLabelValues(strconv.Itoa(block), m.model, outcome).Inc()
	m.duration.WithLabelValues(m.model).Observe(elapsed.Seconds())
}

// WriteTextfile atomically writes all metrics to file, suitable for the node exporter textfile collector.
func (m *Metrics) WriteTextfile(file string) error {
	if err := prometheus.WriteToTextfile(file, m.reg); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
