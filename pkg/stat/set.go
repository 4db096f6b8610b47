// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package stat accumulates per-block run statistics: outcome counts and
// the distribution of run durations.
package stat

import (
	"fmt"
	"io"
	"time"

	"github.com/VividCortex/gohistogram"
)

// Histogram counts runs per outcome key, keeping keys in the order they first appeared.
type Histogram struct {
	keys   []string
	counts map[string]int
	total  int
}

type Entry struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

func NewHistogram() *Histogram {
	return &Histogram{counts: make(map[string]int)}
}

func (h *Histogram) Add(key string) {
	if _, ok := h.counts[key]; !ok {
		h.keys = append(h.keys, key)
	}
	h.counts[key]++
	h.total++
}

func (h *Histogram) Count(key string) int {
	return h.counts[key]
}

func (h *Histogram) Total() int {
	return h.total
}

func (h *Histogram) Entries() []Entry {
	res := make([]Entry, 0, len(h.keys))
	for _, key := range h.keys {
		res = append(res, Entry{key, h.counts[key]})
	}
	return res
}

// WriteSummary prints one aligned line per outcome key.
func (h *Histogram) WriteSummary(w io.Writer) {
	for _, key := range h.keys {
		fmt.Fprintf(w, "  %3s: %5d\n", key, h.counts[key])
	}
}

const histogramBuckets = 255

// Quantiles reported for run durations.
var Quantiles = []int{10, 50, 90}

// Distribution is an approximate streaming histogram of run durations.
type Distribution struct {
	hist *gohistogram.NumericHistogram
	max  time.Duration
}

func NewDistribution() *Distribution {
	return &Distribution{hist: gohistogram.NewHistogram(histogramBuckets)}
}

func (d *Distribution) Add(v time.Duration) {
	d.hist.Add(v.Seconds())
	d.max = max(d.max, v)
}

func (d *Distribution) Count() int {
	return int(d.hist.Count())
}

func (d *Distribution) Mean() time.Duration {
	if d.Count() == 0 {
		return 0
	}
	return seconds(d.hist.Mean())
}

func (d *Distribution) Max() time.Duration {
	return d.max
}

// Quantile returns the approximate duration below which the given percent of runs finished.
func (d *Distribution) Quantile(percent int) time.Duration {
	if d.Count() == 0 {
		return 0
	}
	return min(seconds(d.hist.Quantile(float64(percent)/100)), d.max)
}

type Percentile struct {
	Percent  int           `json:"percent"`
	Duration time.Duration `json:"duration"`
}

func (d *Distribution) Percentiles() []Percentile {
	var res []Percentile
	for _, percent := range Quantiles {
		res = append(res, Percentile{percent, d.Quantile(percent)})
	}
	return res
}

func (d *Distribution) WriteSummary(w io.Writer) {
	if d.Count() == 0 {
		return
	}
	fmt.Fprintf(w, "  run time:")
	for _, p := range d.Percentiles() {
		fmt.Fprintf(w, " %v%%=%v", p.Percent, p.Duration.Round(time.Millisecond))
	}
	fmt.Fprintf(w, " max=%v\n", d.max.Round(time.Millisecond))
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
