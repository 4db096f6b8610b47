// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// llfi-injectfault runs the fault injection campaign described by input.yaml. Usage:
//
//	llfi-injectfault [-xz] [-metrics=file] llfi/prog-faultinjection.exe [program args...]
//
// The executable is expected in the llfi/ subdirectory of the experiment directory,
// which must also contain input.yaml and the profiling results.
// Run artifacts are stored in subdirectories next to the executable.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/faultcampaign/pkg/campaign"
	"github.com/google/faultcampaign/pkg/log"
	"github.com/google/faultcampaign/pkg/osutil"
	"github.com/google/faultcampaign/pkg/stat"
)

var (
	flagConfig  = flag.String("config", "", "campaign description (default: input.yaml in the experiment directory)")
	flagWorkDir = flag.String("workdir", "", "experiment directory (default: parent of the executable directory)")
	flagXZ      = flag.Bool("xz", false, "store program stdout xz-compressed")
	flagMetrics = flag.String("metrics", "", "write Prometheus metrics of the campaign to this file")
	flagSeed    = flag.Int64("seed", 0, "seed for runs without fi_random_seed (default: time-based)")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: llfi-injectfault [flags] <fault injection executable> [program args...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}
	var metrics *stat.Metrics
	if *flagMetrics != "" {
		metrics = stat.NewMetrics()
	}
	ctrl, err := campaign.New(campaign.Options{
		Exe:        flag.Arg(0),
		Args:       flag.Args()[1:],
		WorkDir:    *flagWorkDir,
		ConfigFile: *flagConfig,
		Compress:   *flagXZ,
		Seed:       *flagSeed,
		Metrics:    metrics,
	})
	if err != nil {
		log.Fatal(err)
	}
	report, err := ctrl.Run(osutil.InterruptContext())
	if metrics != nil {
		if err := metrics.WriteTextfile(*flagMetrics); err != nil {
			log.Errorf("%v", err)
		}
	}
	if err != nil {
		state, block, run := ctrl.State()
		log.Fatalf("campaign %v in block %v run %v: %v", state, block, run, err)
	}
	exeDir := filepath.Dir(flag.Arg(0))
	log.Logf(0, "campaign report: %v", filepath.Join(exeDir, report.FileName()))
}
