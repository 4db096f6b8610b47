// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package campaign drives a fault injection campaign: it validates all run blocks,
// then executes every run of every block sequentially and archives the results.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/faultcampaign/pkg/archive"
	"github.com/google/faultcampaign/pkg/config"
	"github.com/google/faultcampaign/pkg/fiprof"
	"github.com/google/faultcampaign/pkg/fispec"
	"github.com/google/faultcampaign/pkg/fitarget"
	"github.com/google/faultcampaign/pkg/log"
	"github.com/google/faultcampaign/pkg/osutil"
	"github.com/google/faultcampaign/pkg/runner"
	"github.com/google/faultcampaign/pkg/stat"
	"github.com/google/uuid"
)

var (
	ErrConfig            = errors.New("bad campaign configuration")
	ErrMissingExecutable = errors.New("missing fault injection executable")
)

type State int

const (
	Idle State = iota
	Validating
	Resolving
	Executing
	Archiving
	Recording
	Done
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Validating:
		return "validating"
	case Resolving:
		return "resolving"
	case Executing:
		return "executing"
	case Archiving:
		return "archiving"
	case Recording:
		return "recording"
	case Done:
		return "done"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Options struct {
	// Exe is the fault injection executable.
	Exe string
	// Args are passed to Exe; arguments that name files in WorkDir are treated as inputs.
	Args []string
	// WorkDir is where the program runs and where input.yaml, the profiling data
	// and the runtime config live. Defaults to the parent of the directory of Exe.
	WorkDir string
	// ArchiveDir receives the output directories and the campaign report.
	// Defaults to the directory of Exe.
	ArchiveDir string
	// ConfigFile defaults to input.yaml in WorkDir.
	ConfigFile string
	// Confirmer is asked before ambiguous bit-level injections unless forceRun is set.
	Confirmer fispec.Confirmer
	// Out receives progress bars and summaries; os.Stdout if nil.
	Out io.Writer
	// Compress stores captured stdout xz-compressed.
	Compress bool
	// Seed of the random stream used by blocks without fi_random_seed; 0 means time-based.
	Seed int64
	// Metrics, if set, receives every run outcome.
	Metrics *stat.Metrics
}

type Controller struct {
	opts   Options
	layout archive.Layout

	mu    sync.Mutex
	state State
	block  int
	curRun int
}

func New(opts Options) (*Controller, error) {
	if opts.Exe == "" {
		return nil, fmt.Errorf("%w: no executable specified", ErrMissingExecutable)
	}
	exe, err := filepath.Abs(opts.Exe)
	if err != nil {
		return nil, err
	}
	opts.Exe = exe
	if opts.ArchiveDir == "" {
		opts.ArchiveDir = filepath.Dir(exe)
	}
	if opts.WorkDir == "" {
		opts.WorkDir = filepath.Dir(filepath.Dir(exe))
	}
	if opts.ConfigFile == "" {
		opts.ConfigFile = filepath.Join(opts.WorkDir, config.FileName)
	}
	if opts.Confirmer == nil {
		opts.Confirmer = fispec.InteractiveConfirmer()
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	ctrl := &Controller{
		opts:   opts,
		layout: archive.NewLayout(opts.ArchiveDir),
	}
	return ctrl, nil
}

// State returns the current state together with the block and run being processed.
func (ctrl *Controller) State() (State, int, int) {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	return ctrl.state, ctrl.block, ctrl.curRun
}

func (ctrl *Controller) setState(state State) {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	ctrl.state = state
}

func (ctrl *Controller) setPosition(block, run int) {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	ctrl.block, ctrl.curRun = block, run
}

// campaign is everything known after validation.
type campaign struct {
	cfg         *config.Campaign
	blocks      []*fispec.Block
	totalCycles int
	argv        []string
	inputs      []string
}

// Run executes the whole campaign. Fatal configuration problems are reported
// before the first run. Crashes and hangs of the program are results, not errors.
func (ctrl *Controller) Run(ctx context.Context) (*Report, error) {
	report, err := ctrl.run(ctx)
	if err != nil {
		ctrl.setState(Aborted)
		return report, err
	}
	ctrl.setState(Done)
	return report, nil
}

func (ctrl *Controller) run(ctx context.Context) (*Report, error) {
	ctrl.setState(Validating)
	c, err := ctrl.validate()
	if err != nil {
		return nil, err
	}
	if err := ctrl.layout.Create(); err != nil {
		return nil, err
	}
	arch := archive.New(ctrl.opts.WorkDir, ctrl.layout)
	if err := arch.Preserve(c.inputs); err != nil {
		return nil, err
	}
	executor := &runner.Executor{
		StdDir:   ctrl.layout.Std,
		ErrorDir: ctrl.layout.Error,
		Compress: ctrl.opts.Compress,
	}
	resolver := fitarget.NewResolver(rand.NewSource(ctrl.opts.Seed))
	report := &Report{
		ID:          uuid.New().String(),
		Exe:         ctrl.opts.Exe,
		Args:        ctrl.opts.Args,
		TotalCycles: c.totalCycles,
		Started:     time.Now(),
	}
	out := ctrl.opts.Out
	fmt.Fprintf(out, "======Fault Injection======\n")
	for b, blk := range c.blocks {
		timeout := blk.Timeout
		if timeout == 0 {
			timeout = c.cfg.Timeout()
		}
		fmt.Fprintf(out, "---FI Config #%v---\n", b)
		br := &BlockReport{
			Index:   b,
			NumRuns: blk.NumRuns,
			Timeout: timeout,
		}
		report.Blocks = append(report.Blocks, br)
		hist := stat.NewHistogram()
		dist := stat.NewDistribution()
		for r := 0; r < blk.NumRuns; r++ {
			if err := ctx.Err(); err != nil {
				return report, fmt.Errorf("campaign interrupted before run %v-%v: %w", b, r, err)
			}
			ctrl.setPosition(b, r)
			rec, res, err := ctrl.runOne(ctx, c, blk, timeout, fmt.Sprintf("%v-%v", b, r),
				resolver, executor, arch)
			if err != nil {
				return report, err
			}
			ctrl.setState(Recording)
			hist.Add(res.Key())
			dist.Add(res.Elapsed)
			if ctrl.opts.Metrics != nil {
				ctrl.opts.Metrics.Record(b, res.Key(), res.Elapsed)
			}
			br.Runs = append(br.Runs, rec)
			printProgress(out, r+1, blk.NumRuns)
		}
		br.Outcomes = hist.Entries()
		br.Durations = dist.Percentiles()
		if blk.Verbose {
			fmt.Fprintf(out, "========== SUMMARY ==========\n")
			fmt.Fprintf(out, "Return codes: (code:\toccurrence)\n")
			hist.WriteSummary(out)
			dist.WriteSummary(out)
		}
	}
	report.Finished = time.Now()
	if err := report.Save(ctrl.opts.ArchiveDir); err != nil {
		return report, err
	}
	return report, nil
}

func (ctrl *Controller) runOne(ctx context.Context, c *campaign, blk *fispec.Block, timeout time.Duration,
	runID string, resolver *fitarget.Resolver, executor *runner.Executor, arch *archive.Archiver) (
	*RunRecord, *runner.Result, error) {
	ctrl.setState(Resolving)
	target := resolver.Resolve(&blk.Spec, c.totalCycles)
	log.Logf(1, "run %v: %v", runID, target)
	// Written before the snapshot so that it is never archived as program output.
	if err := fitarget.WriteRuntimeConfig(ctrl.opts.WorkDir, target); err != nil {
		return nil, nil, err
	}
	if err := arch.BeforeRun(); err != nil {
		return nil, nil, err
	}
	ctrl.setState(Executing)
	res, err := executor.Execute(ctx, ctrl.opts.WorkDir, timeout, c.argv)
	if err != nil {
		ctrl.cleanupRun(runID, arch)
		return nil, nil, err
	}
	log.Logf(1, "run %v: %v, exit code %v, took %v", runID, res.Outcome, res.ExitCode, res.Elapsed)
	ctrl.setState(Archiving)
	arts, err := arch.AfterRun(runID)
	if err != nil {
		return nil, nil, err
	}
	if err := executor.WriteStdout(runID, res); err != nil {
		return nil, nil, err
	}
	if err := executor.WriteDiagnostic(runID, res); err != nil {
		return nil, nil, err
	}
	if err := arch.RestoreInputs(); err != nil {
		return nil, nil, err
	}
	rec := &RunRecord{
		ID:       runID,
		Target:   target.String(),
		Outcome:  res.Outcome.String(),
		ExitCode: res.ExitCode,
		Elapsed:  res.Elapsed,
	}
	for _, art := range arts {
		if art.Path != "" {
			rec.Artifacts = append(rec.Artifacts, art.Path)
		}
	}
	return rec, res, nil
}

// cleanupRun leaves the work dir as it was before an interrupted run.
func (ctrl *Controller) cleanupRun(runID string, arch *archive.Archiver) {
	ctrl.setState(Archiving)
	if _, err := arch.AfterRun(runID); err != nil {
		log.Errorf("run %v: failed to archive outputs: %v", runID, err)
	}
	if err := arch.RestoreInputs(); err != nil {
		log.Errorf("run %v: failed to restore inputs: %v", runID, err)
	}
}

func (ctrl *Controller) validate() (*campaign, error) {
	cfg, err := config.LoadFile(ctrl.opts.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if err := osutil.IsExecutable(ctrl.opts.Exe); err != nil {
		return nil, fmt.Errorf("%w: %w (build it with instrument first)", ErrMissingExecutable, err)
	}
	totalCycles, err := fiprof.ReadTotalCycles(filepath.Join(ctrl.opts.WorkDir, fiprof.FileName))
	if err != nil {
		return nil, err
	}
	c := &campaign{
		cfg:         cfg,
		totalCycles: totalCycles,
	}
	if cfg.ForceRun() {
		log.Logf(0, "kernel: forcing run")
	}
	injectors, err := cfg.Injectors()
	if err != nil {
		log.Logf(1, "no custom instruction selectors: %v", err)
	}
	for i, entry := range cfg.RunOption {
		ctrl.setPosition(i, 0)
		vctx := &fispec.Context{
			TotalCycles: totalCycles,
			ForceRun:    cfg.ForceRun(),
			Confirmer:   ctrl.opts.Confirmer,
		}
		blk, err := fispec.ParseRunBlock(entry.Run, vctx, injectors)
		if err != nil {
			return nil, fmt.Errorf("run block %v: %w", i, err)
		}
		c.blocks = append(c.blocks, blk)
	}
	c.argv, c.inputs, err = prepareArgs(ctrl.opts.WorkDir, ctrl.opts.Exe, ctrl.opts.Args)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// prepareArgs builds the command line. Arguments (or comma-separated parts of them)
// that name existing files must refer to files directly in workDir; they are passed
// by base name and preserved as inputs.
func prepareArgs(workDir, exe string, args []string) ([]string, []string, error) {
	argv := []string{exe}
	var inputs []string
	for _, arg := range args {
		parts := strings.Split(arg, ",")
		for i, part := range parts {
			if part == "" {
				continue
			}
			file := part
			if !filepath.IsAbs(file) {
				file = filepath.Join(workDir, file)
			}
			st, err := os.Stat(file)
			if err != nil || !st.Mode().IsRegular() {
				continue
			}
			if !osutil.InDir(file, workDir) {
				return nil, nil, fmt.Errorf("%w: input file %v must be in %v", ErrConfig, part, workDir)
			}
			parts[i] = filepath.Base(file)
			inputs = append(inputs, parts[i])
		}
		argv = append(argv, strings.Join(parts, ","))
	}
	return argv, inputs, nil
}

func printProgress(w io.Writer, done, total int) {
	const width = 50
	filled := done * width / total
	fmt.Fprintf(w, "\r[%v>%v] %.1f%% (%d / %d)\n", strings.Repeat("=", filled), strings.Repeat("-", width-filled),
		float64(done)*100/float64(total), done, total)
}
