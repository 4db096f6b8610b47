// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// llfi-batchinject runs llfi-injectfault campaigns in all llfi-<model> experiment
// directories created by batch instrumentation. Usage:
//
//	llfi-batchinject [-procs=N] prog.ll [program args...]
//
// The failure models are taken from compileOption of the master input.yaml
// next to the IR file. The exit status is the number of failed campaigns.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/google/faultcampaign/pkg/batch"
	"github.com/google/faultcampaign/pkg/log"
	"github.com/google/faultcampaign/pkg/osutil"
	"github.com/google/faultcampaign/pkg/stat"
)

var (
	flagProcs   = flag.Int("procs", 1, "number of models to run in parallel")
	flagXZ      = flag.Bool("xz", false, "store program stdout xz-compressed")
	flagMetrics = flag.String("metrics", "", "write Prometheus metrics of all campaigns to this file")
	flagSeed    = flag.Int64("seed", 0, "seed for runs without fi_random_seed (default: time-based)")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: llfi-batchinject [flags] <source IR file> [program args...]\n")
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
	results, err := batch.Run(osutil.InterruptContext(), batch.Options{
		Source:   flag.Arg(0),
		Args:     flag.Args()[1:],
		Procs:    *flagProcs,
		Compress: *flagXZ,
		Seed:     *flagSeed,
		Metrics:  metrics,
	})
	if metrics != nil {
		if err := metrics.WriteTextfile(*flagMetrics); err != nil {
			log.Errorf("%v", err)
		}
	}
	if results == nil {
		log.Fatalf("%v", err)
	}
	if err != nil {
		log.Errorf("%v", err)
	}
	for _, res := range results {
		status := "succeeded"
		if res.Err != nil {
			status = "failed"
		}
		fmt.Printf("injectfault: %v %v\n", res.Model, status)
	}
	os.Exit(batch.Failed(results))
}
