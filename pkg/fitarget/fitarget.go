// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package fitarget derives concrete fault targets for individual runs
// and serializes them into the runtime config consumed by the injector.
package fitarget

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"math/rand"
	"path/filepath"
	"strconv"

	"github.com/google/faultcampaign/pkg/fispec"
	"github.com/google/faultcampaign/pkg/osutil"
)

// RuntimeConfigFile is read by the fault injection executable on startup.
const RuntimeConfigFile = "llfi.config.runtime.txt"

// Target is the fault target of a single run. Nil fields are not emitted.
type Target struct {
	Cycle       *int
	Index       *int
	Type        *string
	RegIndex    *int
	Bit         *int
	NumBits     *int
	SecondCycle *int
	MaxMultiple *int
	NextCycles  []int
}

type KV struct {
	Key string
	Val string
}

// Entries returns the runtime config lines in the order the injector expects them.
func (t *Target) Entries() []KV {
	var res []KV
	addInt := func(key string, v *int) {
		if v != nil {
			res = append(res, KV{key, strconv.Itoa(*v)})
		}
	}
	if t.Cycle != nil {
		addInt("fi_cycle", t.Cycle)
	} else {
		addInt("fi_index", t.Index)
	}
	if t.Type != nil {
		res = append(res, KV{"fi_type", *t.Type})
	}
	addInt("fi_reg_index", t.RegIndex)
	addInt("fi_bit", t.Bit)
	addInt("fi_num_bits", t.NumBits)
	addInt("fi_second_cycle", t.SecondCycle)
	addInt("fi_max_multiple", t.MaxMultiple)
	for _, c := range t.NextCycles {
		res = append(res, KV{"fi_next_cycle", strconv.Itoa(c)})
	}
	return res
}

func (t *Target) WriteTo(w io.Writer) (int64, error) {
	buf := new(bytes.Buffer)
	for _, kv := range t.Entries() {
		fmt.Fprintf(buf, "%v=%v\n", kv.Key, kv.Val)
	}
	return buf.WriteTo(w)
}

func (t *Target) String() string {
	buf := new(bytes.Buffer)
	for i, kv := range t.Entries() {
		if i != 0 {
			buf.WriteByte(' ')
		}
		fmt.Fprintf(buf, "%v=%v", kv.Key, kv.Val)
	}
	return buf.String()
}

// WriteRuntimeConfig (re)creates the runtime config for t in dir.
func WriteRuntimeConfig(dir string, t *Target) error {
	buf := new(bytes.Buffer)
	if _, err := t.WriteTo(buf); err != nil {
		return err
	}
	if err := osutil.WriteFile(filepath.Join(dir, RuntimeConfigFile), buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write runtime config: %w", err)
	}
	return nil
}

// Resolver draws fault targets from a single random stream.
// The stream advances across runs unless a FaultSpec fixes the seed.
type Resolver struct {
	rnd *rand.Rand
}

func NewResolver(src rand.Source) *Resolver {
	return &Resolver{rnd: rand.New(src)}
}

// Resolve returns the target of the next run. totalCycles must be positive.
func (r *Resolver) Resolve(spec *fispec.FaultSpec, totalCycles int) *Target {
	t := &Target{
		Cycle:       spec.Cycle,
		Index:       spec.Index,
		Type:        spec.Type,
		RegIndex:    spec.RegIndex,
		Bit:         spec.Bit,
		NumBits:     spec.NumBits,
		MaxMultiple: spec.MaxMultiple,
	}
	if spec.Cycle == nil && spec.Index == nil {
		if spec.RandomSeed != nil {
			r.rnd.Seed(int64(*spec.RandomSeed))
		}
		cycle := r.intn(1, totalCycles)
		t.Cycle = &cycle
	}
	if spec.WindowLen != nil && t.Cycle != nil {
		second := advance(*t.Cycle, r.intn(1, *spec.WindowLen), totalCycles)
		t.SecondCycle = &second
	}
	if spec.MaxMultiple != nil && t.Cycle != nil {
		start, end := spec.MultiWindow()
		next := *t.Cycle
		// The first fault is the primary cycle itself.
		for i := 1; i < *spec.MaxMultiple; i++ {
			next = advance(next, r.intn(start, end), totalCycles)
			t.NextCycles = append(t.NextCycles, next)
			if next == totalCycles {
				break
			}
		}
	}
	return t
}

// advance moves cycle forward by off without leaving [cycle, limit].
func advance(cycle, off, limit int) int {
	if cycle >= limit || off >= limit-cycle {
		return limit
	}
	return cycle + off
}

// intn returns a uniform value in [lo, hi]; an empty range yields 0.
func (r *Resolver) intn(lo, hi int) int {
	if hi < lo {
		return 0
	}
	if hi-lo == math.MaxInt || hi-lo < 0 {
		return lo + r.rnd.Int()
	}
	return lo + r.rnd.Intn(hi-lo+1)
}
