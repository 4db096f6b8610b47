// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package log provides functionality similar to standard log package with some extensions:
//   - verbosity levels
//   - global verbosity setting that can be used by multiple packages
//   - errors and warnings that are printed regardless of verbosity
package log

import (
	"flag"
	"io"
	golog "log"
	"os"
	"sync"
)

var (
	flagV  = flag.Int("vv", 0, "verbosity")
	mu     sync.Mutex
	logger = golog.New(os.Stderr, "", golog.LstdFlags)
)

// SetVerbosity overrides the -vv flag value.
func SetVerbosity(v int) {
	mu.Lock()
	defer mu.Unlock()
	*flagV = v
}

// SetOutput redirects all log output to w.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// V reports whether messages of verbosity v are printed.
func V(v int) bool {
	mu.Lock()
	defer mu.Unlock()
	return v <= *flagV
}

func Logf(v int, msg string, args ...any) {
	if V(v) {
		logger.Printf(msg, args...)
	}
}

func Warnf(msg string, args ...any) {
	logger.Printf("WARNING: "+msg, args...)
}

func Errorf(msg string, args ...any) {
	logger.Printf("ERROR: "+msg, args...)
}

func Fatal(err error) {
	logger.Fatal(err)
}

func Fatalf(msg string, args ...any) {
	logger.Fatalf(msg, args...)
}
