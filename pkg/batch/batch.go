// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package batch runs one fault injection campaign per software failure model.
// Models are listed in the master input.yaml; each one has its own llfi-<model>
// experiment directory prepared by the instrumentation step.
package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/faultcampaign/pkg/campaign"
	"github.com/google/faultcampaign/pkg/config"
	"github.com/google/faultcampaign/pkg/fispec"
	"github.com/google/faultcampaign/pkg/log"
	"github.com/google/faultcampaign/pkg/stat"
	"golang.org/x/sync/errgroup"
)

var ErrNotBatch = errors.New("input.yaml does not define multiple failure models")

type Options struct {
	// Source is the instrumented IR file; its directory holds the master input.yaml.
	Source string
	// Args are program arguments; existing files among them are passed by base name.
	Args []string
	// Procs is the number of models run in parallel, 1 if unset.
	Procs     int
	Confirmer fispec.Confirmer
	Out       io.Writer
	Compress  bool
	Seed      int64
	Metrics   *stat.Metrics
}

type Result struct {
	Model  string
	Exe    string
	Report *campaign.Report
	Err    error
}

// ExeName returns the name of the fault injection executable built from source.
func ExeName(source string) string {
	name := filepath.Base(source)
	for _, ext := range []string{".ll", ".bc"} {
		if strings.HasSuffix(name, ext) {
			name = strings.TrimSuffix(name, ext)
			break
		}
	}
	return name + "-faultinjection.exe"
}

// Models returns the failure models listed in the master config in baseDir.
func Models(baseDir string) ([]string, error) {
	cfg, err := config.LoadFile(filepath.Join(baseDir, config.FileName))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", campaign.ErrConfig, err)
	}
	models, err := cfg.Injectors()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotBatch, err)
	}
	return models, nil
}

// Run executes the campaign of every model. The error is only returned if the batch
// could not be started; failures of individual models are reported in the results.
func Run(ctx context.Context, opts Options) ([]*Result, error) {
	baseDir, err := filepath.Abs(filepath.Dir(opts.Source))
	if err != nil {
		return nil, err
	}
	models, err := Models(baseDir)
	if err != nil {
		return nil, err
	}
	var args []string
	for _, arg := range opts.Args {
		if st, err := os.Stat(arg); err == nil && st.Mode().IsRegular() {
			arg = filepath.Base(arg)
		}
		args = append(args, arg)
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	procs := max(opts.Procs, 1)
	if opts.Confirmer == nil {
		opts.Confirmer = fispec.InteractiveConfirmer()
	}
	confirmer := &serialConfirmer{c: opts.Confirmer}
	var outMu sync.Mutex
	results := make([]*Result, len(models))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(procs)
	for i, model := range models {
		model := model // per-iteration copy for the goroutine below
		res := &Result{
			Model: model,
			Exe:   filepath.Join(baseDir, "llfi-"+model, "llfi", ExeName(opts.Source)),
		}
		results[i] = res
		eg.Go(func() error {
			out := opts.Out
			var buf *bytes.Buffer
			if procs > 1 {
				buf = new(bytes.Buffer)
				out = buf
			} else {
				fmt.Fprintf(out, "\nrunning %v %v\n", res.Exe, strings.Join(args, " "))
			}
			res.Report, res.Err = runModel(ctx, opts, model, res.Exe, args, out, confirmer)
			outMu.Lock()
			defer outMu.Unlock()
			if buf != nil {
				fmt.Fprintf(opts.Out, "\nrunning %v %v\n", res.Exe, strings.Join(args, " "))
				opts.Out.Write(buf.Bytes())
			}
			if res.Err != nil {
				log.Errorf("injectfault: %v failed: %v", model, res.Err)
			} else {
				log.Logf(0, "injectfault: %v succeeded", model)
			}
			// Only cancellation stops the batch, a failed model does not.
			return ctx.Err()
		})
	}
	if err := eg.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func runModel(ctx context.Context, opts Options, model, exe string, args []string, out io.Writer,
	confirmer *serialConfirmer) (*campaign.Report, error) {
	var metrics *stat.Metrics
	if opts.Metrics != nil {
		metrics = opts.Metrics.Model(model)
	}
	ctrl, err := campaign.New(campaign.Options{
		Exe:  exe,
		Args: args,
		Confirmer: fispec.ConfirmFunc(func(prompt string) (bool, error) {
			return confirmer.Confirm(fmt.Sprintf("%v: %v", model, prompt))
		}),
		Out:      out,
		Compress: opts.Compress,
		Seed:     opts.Seed,
		Metrics:  metrics,
	})
	if err != nil {
		return nil, err
	}
	return ctrl.Run(ctx)
}

// serialConfirmer lets concurrent campaigns share one operator.
type serialConfirmer struct {
	mu sync.Mutex
	c  fispec.Confirmer
}

func (sc *serialConfirmer) Confirm(prompt string) (bool, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.c.Confirm(prompt)
}

// Failed returns the number of models whose campaign failed.
func Failed(results []*Result) int {
	n := 0
	for _, res := range results {
		if res.Err != nil {
			n++
		}
	}
	return n
}
