// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package fiprof reads results of the profiling pass that precedes fault injection.
package fiprof

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// FileName is the profiling artifact produced in the experiment directory.
const FileName = "llfi.stat.prof.txt"

var ErrMissingProfilingData = errors.New("missing profiling data")

// ReadTotalCycles returns the total number of dynamic instruction cycles recorded by profiling.
// The count is taken from the first non-blank line that starts with 't' and has the form label=<n>.
func ReadTotalCycles(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w (run the profiling step first)", ErrMissingProfilingData, err)
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := s.Text()
		if strings.TrimSpace(line) == "" || line[0] != 't' {
			continue
		}
		label, val, ok := strings.Cut(line, "=")
		if !ok {
			return 0, fmt.Errorf("%w: malformed line %q in %v", ErrMissingProfilingData, line, path)
		}
		cycles, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil || cycles <= 0 {
			return 0, fmt.Errorf("%w: bad %v value %q in %v", ErrMissingProfilingData,
				strings.TrimSpace(label), strings.TrimSpace(val), path)
		}
		return cycles, nil
	}
	if err := s.Err(); err != nil {
		return 0, fmt.Errorf("%w: failed to read %v: %w", ErrMissingProfilingData, path, err)
	}
	return 0, fmt.Errorf("%w: no total cycle count in %v", ErrMissingProfilingData, path)
}
