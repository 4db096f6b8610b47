// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package fispec validates run block options and turns them into a FaultSpec.
package fispec

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/google/faultcampaign/pkg/log"
)

// MaxTimeoutSecs is the largest timeout representable as a time.Duration.
const MaxTimeoutSecs = math.MaxInt64 / int64(time.Second)

// Run block option names as they appear in input.yaml.
const (
	OptNumOfRuns   = "numOfRuns"
	OptTimeOut     = "timeOut"
	OptVerbose     = "verbose"
	OptType        = "fi_type"
	OptCycle       = "fi_cycle"
	OptIndex       = "fi_index"
	OptRegIndex    = "fi_reg_index"
	OptBit         = "fi_bit"
	OptNumBits     = "fi_num_bits"
	OptRandomSeed  = "fi_random_seed"
	OptWindowLen   = "window_len"
	OptMaxMultiple = "fi_max_multiple"
	OptWindowMulti = "window_len_multiple"
	OptWindowStart = "window_len_multiple_startindex"
	OptWindowEnd   = "window_len_multiple_endindex"
)

// MaxMultiple is the upper bound of fi_max_multiple and its default when only a window is given.
const MaxMultiple = 100

// Automated fault types are replaced with the first custom instruction selector.
var automatedTypes = []string{"SoftwareFault", "AutoInjection", "Automated"}

var ErrInvalidOption = errors.New("invalid option")

type OptionError struct {
	Option string
	Reason string
}

func (err *OptionError) Error() string {
	return fmt.Sprintf("%v %v in input.yaml", err.Option, err.Reason)
}

func (err *OptionError) Is(target error) bool {
	return target == ErrInvalidOption
}

func optionErrorf(opt, reason string, args ...any) error {
	return &OptionError{Option: opt, Reason: fmt.Sprintf(reason, args...)}
}

// FaultSpec describes the faults of one run block. Nil fields were not given.
type FaultSpec struct {
	Type        *string
	Cycle       *int
	Index       *int
	RegIndex    *int
	Bit         *int
	NumBits     *int
	RandomSeed  *int
	WindowLen   *int
	MaxMultiple *int
	WindowMulti *int
	WindowStart *int
	WindowEnd   *int
}

// MultiWindow returns the inclusive bounds of the offset between consecutive faults
// of a multi-fault sequence.
func (spec *FaultSpec) MultiWindow() (int, int) {
	switch {
	case spec.WindowMulti != nil:
		return 1, *spec.WindowMulti
	case spec.WindowStart != nil && spec.WindowEnd != nil:
		return *spec.WindowStart, *spec.WindowEnd
	}
	return 1, 1
}

func (spec *FaultSpec) hasWindow() bool {
	return spec.WindowMulti != nil || spec.WindowStart != nil || spec.WindowEnd != nil
}

type Block struct {
	NumRuns int
	// Zero means the campaign default timeout.
	Timeout time.Duration
	Verbose bool
	Spec    FaultSpec
}

// Context is the information the validator needs beyond the option value itself.
type Context struct {
	TotalCycles int
	NumRuns     int
	ForceRun    bool
	Confirmer   Confirmer
	// Options accepted so far in the current block.
	Spec *FaultSpec
}

// Validate checks type and range of a single option.
func Validate(opt string, val any, ctx *Context) error {
	switch opt {
	case OptVerbose:
		if _, ok := val.(bool); !ok {
			return optionErrorf(opt, "must be a boolean")
		}
		return nil
	case OptType:
		if _, ok := val.(string); !ok {
			return optionErrorf(opt, "must be a string")
		}
		return nil
	}
	v, ok := intValue(val)
	if !ok {
		return optionErrorf(opt, "must be an integer")
	}
	switch opt {
	case OptNumOfRuns, OptTimeOut, OptMaxMultiple, OptWindowMulti, OptWindowStart, OptWindowEnd:
		if v <= 0 {
			return optionErrorf(opt, "must be greater than 0")
		}
		if opt == OptTimeOut && int64(v) > MaxTimeoutSecs {
			return optionErrorf(opt, "must be smaller than or equal to %v", MaxTimeoutSecs)
		}
		if opt == OptMaxMultiple && v > MaxMultiple {
			return optionErrorf(opt, "must be smaller than or equal to %v", MaxMultiple)
		}
	case OptNumBits:
		if v < 1 {
			return optionErrorf(opt, "must be greater than or equal to 1")
		}
	case OptCycle:
		if v <= 0 {
			return optionErrorf(opt, "must be greater than 0")
		}
		if v > ctx.TotalCycles {
			return optionErrorf(opt, "must be less than or equal to %v", ctx.TotalCycles)
		}
	case OptIndex, OptRegIndex, OptRandomSeed, OptWindowLen:
		if v < 0 {
			return optionErrorf(opt, "must be greater than or equal to 0")
		}
	case OptBit:
		if v < 0 {
			return optionErrorf(opt, "must be greater than or equal to 0")
		}
		return confirmBit(ctx)
	default:
		return optionErrorf(opt, "is not a known option")
	}
	return nil
}

// confirmBit asks for approval when every run of the block would hit the same
// cycle/index, register and bit.
func confirmBit(ctx *Context) error {
	spec := ctx.Spec
	if ctx.ForceRun || ctx.NumRuns <= 1 || spec == nil ||
		spec.Cycle == nil && spec.Index == nil || spec.RegIndex == nil {
		return nil
	}
	if ctx.Confirmer == nil {
		return optionErrorf(OptBit, "repeats the same injection and no confirmation is possible")
	}
	ok, err := ctx.Confirmer.Confirm("WARNING: Injecting into the same cycle(index), bit multiple times " +
		"is redundant as it would yield the same result.\n" +
		"To turn off this warning, add forceRun to kernelOption.")
	if err != nil {
		return optionErrorf(OptBit, "confirmation failed: %v", err)
	}
	if !ok {
		return optionErrorf(OptBit, "repeated injection was declined")
	}
	return nil
}

func intValue(val any) (int, bool) {
	switch v := val.(type) {
	case int:
		return v, true
	case int64:
		return int(v), v >= math.MinInt && v <= math.MaxInt
	case uint64:
		return int(v), v <= math.MaxInt
	}
	return 0, false
}

var blockOptions = []string{
	OptNumOfRuns, OptTimeOut, OptVerbose,
	OptType, OptNumBits, OptWindowLen, OptMaxMultiple, OptWindowMulti, OptWindowStart, OptWindowEnd,
	OptCycle, OptIndex, OptRegIndex, OptBit, OptRandomSeed,
}

// ParseRunBlock validates all options of a run block, checks their combinations
// and fills in defaults. injectors resolves automated fi_type values.
func ParseRunBlock(opts map[string]any, ctx *Context, injectors []string) (*Block, error) {
	blk := &Block{}
	ctx.Spec = &blk.Spec
	ctx.NumRuns = 0
	var unknown []string
	for opt := range opts {
		if !slices.Contains(blockOptions, opt) {
			unknown = append(unknown, opt)
		}
	}
	sort.Strings(unknown)
	for _, opt := range unknown {
		log.Warnf("ignoring unknown run option %q", opt)
	}

	val, ok := opts[OptNumOfRuns]
	if !ok {
		return nil, optionErrorf(OptNumOfRuns, "must be included in every run block")
	}
	if err := Validate(OptNumOfRuns, val, ctx); err != nil {
		return nil, err
	}
	blk.NumRuns, _ = intValue(val)
	ctx.NumRuns = blk.NumRuns
	if val, ok := opts[OptTimeOut]; ok {
		if err := Validate(OptTimeOut, val, ctx); err != nil {
			return nil, err
		}
		secs, _ := intValue(val)
		blk.Timeout = time.Duration(secs) * time.Second
	}
	if val, ok := opts[OptVerbose]; ok {
		if err := Validate(OptVerbose, val, ctx); err != nil {
			return nil, err
		}
		blk.Verbose = val.(bool)
	}

	spec := &blk.Spec
	if val, ok := opts[OptType]; ok {
		if err := Validate(OptType, val, ctx); err != nil {
			return nil, err
		}
		typ := resolveType(val.(string), injectors)
		spec.Type = &typ
	}
	ints := []struct {
		opt string
		dst **int
	}{
		{OptNumBits, &spec.NumBits},
		{OptWindowLen, &spec.WindowLen},
		{OptMaxMultiple, &spec.MaxMultiple},
		{OptWindowMulti, &spec.WindowMulti},
		{OptWindowStart, &spec.WindowStart},
		{OptWindowEnd, &spec.WindowEnd},
		{OptCycle, &spec.Cycle},
		{OptIndex, &spec.Index},
		{OptRegIndex, &spec.RegIndex},
		{OptRandomSeed, &spec.RandomSeed},
	}
	for _, f := range ints {
		val, ok := opts[f.opt]
		if !ok {
			continue
		}
		if err := Validate(f.opt, val, ctx); err != nil {
			return nil, err
		}
		v, _ := intValue(val)
		*f.dst = &v
	}
	if err := checkCombinations(spec); err != nil {
		return nil, err
	}
	// fi_bit goes last: it may prompt, and only after everything else is known to be valid.
	if val, ok := opts[OptBit]; ok {
		if err := Validate(OptBit, val, ctx); err != nil {
			return nil, err
		}
		v, _ := intValue(val)
		spec.Bit = &v
	}
	applyDefaults(spec, ctx.TotalCycles)
	return blk, nil
}

func resolveType(typ string, injectors []string) string {
	if !slices.Contains(automatedTypes, typ) {
		return typ
	}
	if len(injectors) == 0 {
		log.Errorf("cannot extract fi_type from instSelMethod, check the customInstselector field in input.yaml")
		return typ
	}
	return injectors[0]
}

func checkCombinations(spec *FaultSpec) error {
	exclusive := func(opt1, opt2 string) error {
		return optionErrorf(opt1, "and %v cannot be specified at the same time, please choose one", opt2)
	}
	hasRange := spec.WindowStart != nil || spec.WindowEnd != nil
	switch {
	case spec.Cycle != nil && spec.Index != nil:
		return exclusive(OptCycle, OptIndex)
	case spec.WindowLen != nil && spec.MaxMultiple != nil:
		return exclusive(OptWindowLen, OptMaxMultiple)
	case spec.WindowLen != nil && spec.WindowMulti != nil:
		return exclusive(OptWindowLen, OptWindowMulti)
	case spec.WindowLen != nil && hasRange:
		return exclusive(OptWindowLen, OptWindowStart+"/"+OptWindowEnd)
	case spec.WindowMulti != nil && hasRange:
		return exclusive(OptWindowMulti, OptWindowStart+"/"+OptWindowEnd)
	case spec.WindowStart != nil && spec.WindowEnd == nil:
		return optionErrorf(OptWindowStart, "should come with %v, please specify both", OptWindowEnd)
	case spec.WindowEnd != nil && spec.WindowStart == nil:
		return optionErrorf(OptWindowEnd, "should come with %v, please specify both", OptWindowStart)
	case hasRange && *spec.WindowStart > *spec.WindowEnd:
		return optionErrorf(OptWindowStart, "cannot be bigger than %v", OptWindowEnd)
	case spec.Index != nil && (spec.WindowLen != nil || spec.MaxMultiple != nil || spec.hasWindow()):
		return optionErrorf(OptIndex, "cannot be combined with correlated faults, they need a fault cycle")
	}
	return nil
}

func applyDefaults(spec *FaultSpec, totalCycles int) {
	if spec.Cycle == nil && spec.Index != nil {
		log.Logf(0, "INFO: injecting faults based on LLFI index, "+
			"this will inject into every runtime instruction whose LLFI index is %v", *spec.Index)
	}
	if spec.hasWindow() && spec.MaxMultiple == nil {
		log.Logf(0, "INFO: no fi_max_multiple given for the multiple bit-flip window, using %v", MaxMultiple)
		v := MaxMultiple
		spec.MaxMultiple = &v
	}
	if spec.MaxMultiple != nil && !spec.hasWindow() {
		v := max(1, totalCycles-1)
		log.Logf(0, "INFO: no window length given for multiple bit-flip injection, using %v", v)
		spec.WindowMulti = &v
	}
}
