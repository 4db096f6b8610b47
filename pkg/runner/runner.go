// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package runner executes the fault injection executable once, under a timeout,
// and records what happened to it.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/faultcampaign/pkg/log"
	"github.com/google/faultcampaign/pkg/osutil"
	"github.com/ulikunitz/xz"
	"golang.org/x/sync/errgroup"
)

type Outcome int

const (
	// Completed means the program exited with code 0.
	Completed Outcome = iota
	// Crashed means the program exited with a non-zero code or was killed by a signal.
	Crashed
	// TimedOut means the program was killed after exceeding the timeout.
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Crashed:
		return "crashed"
	case TimedOut:
		return "timed-out"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// TimedOutKey is the histogram key of timed out runs; other runs are keyed by exit code.
const TimedOutKey = "timed-out"

const (
	StdOutputPrefix = "std_outputfile-run-"
	ErrorFilePrefix = "errorfile-run-"
	HangMarker      = "### Process killed by LLFI for timing out ###"
)

type Result struct {
	Outcome Outcome
	// Exit code of the process, negated signal number if it was killed by a signal.
	ExitCode int
	// Captured stdout, possibly partial for timed out runs.
	Output  []byte
	Elapsed time.Duration
}

// Key returns the outcome histogram key.
func (res *Result) Key() string {
	if res.Outcome == TimedOut {
		return TimedOutKey
	}
	return strconv.Itoa(res.ExitCode)
}

// Clean reports whether the program exited normally with code 0.
func (res *Result) Clean() bool {
	return res.Outcome == Completed
}

// Diagnostic returns the one line description of a non-clean run.
func (res *Result) Diagnostic() string {
	switch {
	case res.Outcome == TimedOut:
		return "Program hang"
	case res.ExitCode < 0:
		return fmt.Sprintf("Program crashed, terminated by the system, return code %v", res.ExitCode)
	case res.ExitCode > 0:
		return fmt.Sprintf("Program crashed, terminated by itself, return code %v", res.ExitCode)
	}
	return ""
}

type Executor struct {
	// StdDir receives captured stdout of every run.
	StdDir string
	// ErrorDir receives diagnostics of non-clean runs.
	ErrorDir string
	// Compress stores captured stdout xz-compressed.
	Compress bool
	// Stderr of the child; os.Stderr if nil.
	Stderr io.Writer
}

// Execute runs argv in dir and waits for it to exit or for timeout to expire.
// Crashes and timeouts are reported in the result; an error means the program
// could not be run at all or ctx was canceled.
func (e *Executor) Execute(ctx context.Context, dir string, timeout time.Duration, argv []string) (*Result, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command line")
	}
	cmd := osutil.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stderr = e.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	rp, wp, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	defer rp.Close()
	cmd.Stdout = wp
	log.Logf(1, "executing %q in %v", argv, dir)
	start := time.Now()
	if err := cmd.Start(); err != nil {
		wp.Close()
		return nil, fmt.Errorf("failed to start %v: %w", argv[0], err)
	}
	// The child has its own copy, ours must go for the reader to see EOF.
	wp.Close()

	done := make(chan struct{})
	killed := make(chan error, 1)
	go func() {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			killed <- nil
			osutil.KillGroup(cmd)
		case <-ctx.Done():
			killed <- ctx.Err()
			osutil.KillGroup(cmd)
		case <-done:
			close(killed)
		}
	}()

	output := new(bytes.Buffer)
	var eg errgroup.Group
	eg.Go(func() error {
		_, err := io.Copy(output, rp)
		return err
	})
	eg.Go(func() error {
		// Exit errors are decoded from ProcessState below.
		cmd.Wait()
		return nil
	})
	copyErr := eg.Wait()
	elapsed := time.Since(start)
	close(done)

	res := &Result{
		ExitCode: osutil.ExitStatus(cmd.ProcessState),
		Output:   output.Bytes(),
		Elapsed:  elapsed,
	}
	if cause, wasKilled := <-killed; wasKilled {
		if cause != nil {
			return nil, fmt.Errorf("run of %v aborted: %w", argv[0], cause)
		}
		res.Outcome = TimedOut
		return res, nil
	}
	if copyErr != nil {
		log.Warnf("failed to read output of %v: %v", argv[0], copyErr)
	}
	if res.ExitCode != 0 {
		res.Outcome = Crashed
	}
	return res, nil
}

// WriteStdout stores the captured output of the run runID.
// Output of a timed out run is framed with hang markers.
func (e *Executor) WriteStdout(runID string, res *Result) error {
	name := filepath.Join(e.StdDir, StdOutputPrefix+runID)
	if e.Compress {
		name += ".xz"
	}
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, osutil.DefaultFilePerm)
	if err != nil {
		return fmt.Errorf("failed to create stdout file: %w", err)
	}
	defer f.Close()
	var w io.Writer = f
	var xw *xz.Writer
	if e.Compress {
		if xw, err = xz.NewWriter(f); err != nil {
			return fmt.Errorf("failed to create xz writer: %w", err)
		}
		w = xw
	}
	marker := []byte("\n\n " + HangMarker + "\n")
	var chunks [][]byte
	if res.Outcome == TimedOut {
		chunks = [][]byte{marker, res.Output, marker}
	} else {
		chunks = [][]byte{res.Output}
	}
	for _, chunk := range chunks {
		if _, err := w.Write(chunk); err != nil {
			return fmt.Errorf("failed to write stdout file: %w", err)
		}
	}
	if xw != nil {
		if err := xw.Close(); err != nil {
			return fmt.Errorf("failed to finish xz stream: %w", err)
		}
	}
	return f.Close()
}

// WriteDiagnostic stores the one line diagnostic for a non-clean run.
func (e *Executor) WriteDiagnostic(runID string, res *Result) error {
	if res.Clean() {
		return nil
	}
	name := filepath.Join(e.ErrorDir, ErrorFilePrefix+runID)
	if err := osutil.WriteFile(name, []byte(res.Diagnostic()+"\n")); err != nil {
		return fmt.Errorf("failed to write error file: %w", err)
	}
	return nil
}
