// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fispec

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func strp(s string) *string { return &s }

func TestValidate(t *testing.T) {
	ctx := &Context{TotalCycles: 1000}
	tests := []struct {
		opt string
		val any
		err string
	}{
		{OptNumOfRuns, 1, ""},
		{OptNumOfRuns, 0, "numOfRuns must be greater than 0"},
		{OptNumOfRuns, "5", "numOfRuns must be an integer"},
		{OptNumOfRuns, 2.5, "numOfRuns must be an integer"},
		{OptNumOfRuns, true, "numOfRuns must be an integer"},
		{OptTimeOut, 10, ""},
		{OptTimeOut, -1, "timeOut must be greater than 0"},
		{OptTimeOut, int(MaxTimeoutSecs), ""},
		{OptTimeOut, 10000000000, "timeOut must be smaller than or equal to 9223372036"},
		{OptVerbose, true, ""},
		{OptVerbose, "yes", "verbose must be a boolean"},
		{OptType, "bitflip", ""},
		{OptType, 3, "fi_type must be a string"},
		{OptType, "", ""},
		{OptCycle, 1, ""},
		{OptCycle, 1000, ""},
		{OptCycle, 0, "fi_cycle must be greater than 0"},
		{OptCycle, 1001, "fi_cycle must be less than or equal to 1000"},
		{OptIndex, 0, ""},
		{OptIndex, -1, "fi_index must be greater than or equal to 0"},
		{OptRegIndex, 0, ""},
		{OptRegIndex, -3, "fi_reg_index must be greater than or equal to 0"},
		{OptBit, 0, ""},
		{OptBit, -1, "fi_bit must be greater than or equal to 0"},
		{OptNumBits, 1, ""},
		{OptNumBits, 0, "fi_num_bits must be greater than or equal to 1"},
		{OptRandomSeed, 0, ""},
		{OptRandomSeed, -7, "fi_random_seed must be greater than or equal to 0"},
		{OptWindowLen, 0, ""},
		{OptWindowLen, -1, "window_len must be greater than or equal to 0"},
		{OptMaxMultiple, 1, ""},
		{OptMaxMultiple, 100, ""},
		{OptMaxMultiple, 0, "fi_max_multiple must be greater than 0"},
		{OptMaxMultiple, 101, "fi_max_multiple must be smaller than or equal to 100"},
		{OptWindowMulti, 1, ""},
		{OptWindowMulti, 0, "window_len_multiple must be greater than 0"},
		{OptWindowStart, 0, "window_len_multiple_startindex must be greater than 0"},
		{OptWindowEnd, 0, "window_len_multiple_endindex must be greater than 0"},
		{"fi_something", 1, "fi_something is not a known option"},
	}
	for _, test := range tests {
		err := Validate(test.opt, test.val, ctx)
		if test.err == "" {
			assert.NoError(t, err, "%v=%v", test.opt, test.val)
			continue
		}
		require.Error(t, err, "%v=%v", test.opt, test.val)
		assert.ErrorIs(t, err, ErrInvalidOption)
		assert.Contains(t, err.Error(), test.err)
	}
}

func TestParseRunBlock(t *testing.T) {
	tests := []struct {
		name   string
		opts   map[string]any
		cycles int
		want   *Block
		err    string
	}{
		{
			name:   "minimal",
			opts:   map[string]any{"numOfRuns": 3},
			cycles: 50,
			want:   &Block{NumRuns: 3},
		},
		{
			name: "plain",
			opts: map[string]any{
				"numOfRuns":      5,
				"timeOut":        7,
				"verbose":        true,
				"fi_type":        "bitflip",
				"fi_cycle":       10,
				"fi_reg_index":   1,
				"fi_num_bits":    2,
				"fi_random_seed": 4,
			},
			cycles: 50,
			want: &Block{
				NumRuns: 5,
				Timeout: 7 * time.Second,
				Verbose: true,
				Spec: FaultSpec{
					Type:       strp("bitflip"),
					Cycle:      intp(10),
					RegIndex:   intp(1),
					NumBits:    intp(2),
					RandomSeed: intp(4),
				},
			},
		},
		{
			name:   "automated type",
			opts:   map[string]any{"numOfRuns": 1, "fi_type": "SoftwareFault"},
			cycles: 50,
			want:   &Block{NumRuns: 1, Spec: FaultSpec{Type: strp("CPUHog(Res)")}},
		},
		{
			name:   "max multiple without window",
			opts:   map[string]any{"numOfRuns": 1, "fi_max_multiple": 3},
			cycles: 50,
			want: &Block{NumRuns: 1, Spec: FaultSpec{
				MaxMultiple: intp(3),
				WindowMulti: intp(49),
			}},
		},
		{
			name:   "max multiple on a single cycle program",
			opts:   map[string]any{"numOfRuns": 1, "fi_max_multiple": 3},
			cycles: 1,
			want: &Block{NumRuns: 1, Spec: FaultSpec{
				MaxMultiple: intp(3),
				WindowMulti: intp(1),
			}},
		},
		{
			name:   "window without max multiple",
			opts:   map[string]any{"numOfRuns": 1, "window_len_multiple": 4},
			cycles: 50,
			want: &Block{NumRuns: 1, Spec: FaultSpec{
				MaxMultiple: intp(100),
				WindowMulti: intp(4),
			}},
		},
		{
			name: "start/end window",
			opts: map[string]any{
				"numOfRuns":                      1,
				"fi_max_multiple":                5,
				"window_len_multiple_startindex": 2,
				"window_len_multiple_endindex":   2,
			},
			cycles: 50,
			want: &Block{NumRuns: 1, Spec: FaultSpec{
				MaxMultiple: intp(5),
				WindowStart: intp(2),
				WindowEnd:   intp(2),
			}},
		},
		{
			name:   "missing numOfRuns",
			opts:   map[string]any{"fi_cycle": 1},
			cycles: 50,
			err:    "numOfRuns must be included in every run block",
		},
		{
			name:   "cycle out of range",
			opts:   map[string]any{"numOfRuns": 1, "fi_cycle": 51},
			cycles: 50,
			err:    "fi_cycle must be less than or equal to 50",
		},
		{
			name:   "cycle and index",
			opts:   map[string]any{"numOfRuns": 1, "fi_cycle": 5, "fi_index": 5},
			cycles: 50,
			err:    "fi_cycle and fi_index cannot be specified at the same time",
		},
		{
			name:   "window_len and fi_max_multiple",
			opts:   map[string]any{"numOfRuns": 1, "window_len": 5, "fi_max_multiple": 5},
			cycles: 50,
			err:    "window_len and fi_max_multiple cannot be specified at the same time",
		},
		{
			name:   "window_len and window_len_multiple",
			opts:   map[string]any{"numOfRuns": 1, "window_len": 5, "window_len_multiple": 5},
			cycles: 50,
			err:    "window_len and window_len_multiple cannot be specified at the same time",
		},
		{
			name: "window_len and range",
			opts: map[string]any{
				"numOfRuns":                      1,
				"window_len":                     5,
				"window_len_multiple_startindex": 1,
				"window_len_multiple_endindex":   2,
			},
			cycles: 50,
			err:    "cannot be specified at the same time",
		},
		{
			name: "window_len_multiple and range",
			opts: map[string]any{
				"numOfRuns":                      1,
				"window_len_multiple":            5,
				"window_len_multiple_startindex": 1,
				"window_len_multiple_endindex":   2,
			},
			cycles: 50,
			err:    "cannot be specified at the same time",
		},
		{
			name:   "start without end",
			opts:   map[string]any{"numOfRuns": 1, "window_len_multiple_startindex": 1},
			cycles: 50,
			err:    "should come with window_len_multiple_endindex",
		},
		{
			name:   "end without start",
			opts:   map[string]any{"numOfRuns": 1, "window_len_multiple_endindex": 1},
			cycles: 50,
			err:    "should come with window_len_multiple_startindex",
		},
		{
			name: "start after end",
			opts: map[string]any{
				"numOfRuns":                      1,
				"window_len_multiple_startindex": 5,
				"window_len_multiple_endindex":   2,
			},
			cycles: 50,
			err:    "window_len_multiple_startindex cannot be bigger than window_len_multiple_endindex",
		},
		{
			name:   "index with correlated faults",
			opts:   map[string]any{"numOfRuns": 1, "fi_index": 3, "window_len": 2},
			cycles: 50,
			err:    "fi_index cannot be combined with correlated faults",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ctx := &Context{TotalCycles: test.cycles}
			blk, err := ParseRunBlock(test.opts, ctx, []string{"CPUHog(Res)"})
			if test.err != "" {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidOption)
				assert.Contains(t, err.Error(), test.err)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(test.want, blk); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestWindowExclusivity(t *testing.T) {
	// Any two of the three window options are rejected.
	windows := []map[string]any{
		{"window_len": 3},
		{"window_len_multiple": 3},
		{"window_len_multiple_startindex": 1, "window_len_multiple_endindex": 3},
	}
	for i := range windows {
		for j := i + 1; j < len(windows); j++ {
			opts := map[string]any{"numOfRuns": 1}
			for k, v := range windows[i] {
				opts[k] = v
			}
			for k, v := range windows[j] {
				opts[k] = v
			}
			_, err := ParseRunBlock(opts, &Context{TotalCycles: 100}, nil)
			assert.ErrorIs(t, err, ErrInvalidOption, "windows %v and %v", i, j)
		}
	}
}

func TestMultiWindow(t *testing.T) {
	spec := &FaultSpec{}
	start, end := spec.MultiWindow()
	assert.Equal(t, []int{1, 1}, []int{start, end})
	spec = &FaultSpec{WindowMulti: intp(9)}
	start, end = spec.MultiWindow()
	assert.Equal(t, []int{1, 9}, []int{start, end})
	spec = &FaultSpec{WindowStart: intp(3), WindowEnd: intp(4)}
	start, end = spec.MultiWindow()
	assert.Equal(t, []int{3, 4}, []int{start, end})
}

func TestBitConfirmation(t *testing.T) {
	repeated := map[string]any{
		"numOfRuns":    5,
		"fi_cycle":     10,
		"fi_reg_index": 0,
		"fi_bit":       3,
	}
	tests := []struct {
		name      string
		opts      map[string]any
		force     bool
		answer    bool
		answerErr error
		asked     bool
		err       string
	}{
		{name: "accepted", opts: repeated, answer: true, asked: true},
		{name: "declined", opts: repeated, answer: false, asked: true, err: "repeated injection was declined"},
		{name: "no terminal", opts: repeated, answerErr: errors.New("no tty"), asked: true,
			err: "confirmation failed: no tty"},
		{name: "forced", opts: repeated, force: true},
		{name: "single run", opts: map[string]any{
			"numOfRuns": 1, "fi_cycle": 10, "fi_reg_index": 0, "fi_bit": 3}},
		{name: "random cycle", opts: map[string]any{
			"numOfRuns": 5, "fi_reg_index": 0, "fi_bit": 3}},
		{name: "random register", opts: map[string]any{
			"numOfRuns": 5, "fi_index": 2, "fi_bit": 3}},
		{name: "fixed index", opts: map[string]any{
			"numOfRuns": 5, "fi_index": 0, "fi_reg_index": 1, "fi_bit": 3}, answer: true, asked: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			asked := false
			ctx := &Context{
				TotalCycles: 100,
				ForceRun:    test.force,
				Confirmer: ConfirmFunc(func(prompt string) (bool, error) {
					asked = true
					assert.Contains(t, prompt, "redundant")
					return test.answer, test.answerErr
				}),
			}
			blk, err := ParseRunBlock(test.opts, ctx, nil)
			assert.Equal(t, test.asked, asked)
			if test.err != "" {
				assert.ErrorIs(t, err, ErrInvalidOption)
				assert.ErrorContains(t, err, test.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 3, *blk.Spec.Bit)
		})
	}
}

func TestBitConfirmationNotAskedOnInvalidBlock(t *testing.T) {
	ctx := &Context{
		TotalCycles: 100,
		Confirmer: ConfirmFunc(func(string) (bool, error) {
			t.Fatal("must not ask for an invalid block")
			return false, nil
		}),
	}
	_, err := ParseRunBlock(map[string]any{
		"numOfRuns":       5,
		"fi_cycle":        10,
		"fi_reg_index":    0,
		"fi_bit":          3,
		"window_len":      2,
		"fi_max_multiple": 2,
	}, ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidOption)
}

func TestStdinConfirmer(t *testing.T) {
	tests := []struct {
		input string
		ok    bool
		err   bool
	}{
		{"Y\n", true, false},
		{"y\n", true, false},
		{" y \n", true, false},
		{"n\n", false, false},
		{"yes\n", false, false},
		{"Y", true, false},
		{"", false, true},
	}
	for _, test := range tests {
		out := new(bytes.Buffer)
		c := &StdinConfirmer{In: strings.NewReader(test.input), Out: out}
		ok, err := c.Confirm("WARNING: something")
		assert.Equal(t, test.ok, ok, "input %q", test.input)
		assert.Equal(t, test.err, err != nil, "input %q", test.input)
		assert.Contains(t, out.String(), "WARNING: something")
		assert.Contains(t, out.String(), "(Y/N)")
	}
}
