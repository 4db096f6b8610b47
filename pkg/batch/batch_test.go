// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package batch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/faultcampaign/pkg/campaign"
	"github.com/google/faultcampaign/pkg/fiprof"
	"github.com/google/faultcampaign/pkg/fispec"
	"github.com/google/faultcampaign/pkg/stat"
	"github.com/google/faultcampaign/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExeName(t *testing.T) {
	assert.Equal(t, "prog-faultinjection.exe", ExeName("prog.ll"))
	assert.Equal(t, "prog-faultinjection.exe", ExeName("/tmp/x/prog.bc"))
	assert.Equal(t, "prog.c-faultinjection.exe", ExeName("prog.c"))
}

const master = `
compileOption:
  instSelMethod:
    - customInstselector:
        include:
          - BufferOverflow(API)
          - WrongAPI
          - DataCorruption
runOption:
  - run:
      numOfRuns: 1
      fi_type: SoftwareFault
`

func setupModel(t *testing.T, baseDir, model, script string) {
	workDir := filepath.Join(baseDir, "llfi-"+model)
	if script != "" {
		testutil.WriteScript(t, filepath.Join(workDir, "llfi"), "prog-faultinjection.exe", script)
	}
	require.NoError(t, os.MkdirAll(workDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(workDir, fiprof.FileName), []byte("total_cycle=20\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "input.yaml"),
		[]byte("runOption:\n  - run:\n      numOfRuns: 2\n      fi_type: "+model+"\n"), 0644))
}

func setupBatch(t *testing.T) string {
	baseDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(baseDir, "input.yaml"), []byte(master), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(baseDir, "prog.ll"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(baseDir, "data.txt"), nil, 0644))
	setupModel(t, baseDir, "BufferOverflow(API)", `echo "$1"`)
	setupModel(t, baseDir, "WrongAPI", "")
	setupModel(t, baseDir, "DataCorruption", "exit 1")
	return baseDir
}

func TestRun(t *testing.T) {
	for _, procs := range []int{1, 3} {
		baseDir := setupBatch(t)
		out := new(bytes.Buffer)
		results, err := Run(context.Background(), Options{
			Source: filepath.Join(baseDir, "prog.ll"),
			Args:   []string{filepath.Join(baseDir, "data.txt")},
			Procs:  procs,
			Out:    out,
			Seed:   1,
		})
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, 1, Failed(results))

		overflow := results[0]
		assert.Equal(t, "BufferOverflow(API)", overflow.Model)
		require.NoError(t, overflow.Err)
		assert.Contains(t, overflow.Report.Blocks[0].Runs[0].Target, " fi_type=BufferOverflow(API)")
		// File arguments are passed by base name.
		assert.Equal(t, []string{"data.txt"}, overflow.Report.Args)

		assert.Equal(t, "WrongAPI", results[1].Model)
		assert.True(t, errors.Is(results[1].Err, campaign.ErrMissingExecutable), "got %v", results[1].Err)

		// Crashing runs are campaign results, not failures.
		corruption := results[2]
		require.NoError(t, corruption.Err)
		assert.Equal(t, "1", corruption.Report.Blocks[0].Outcomes[0].Key)
		assert.Contains(t, out.String(), filepath.Join(baseDir, "llfi-DataCorruption", "llfi", "prog-faultinjection.exe"))
	}
}

func TestRunSharedOperator(t *testing.T) {
	baseDir := setupBatch(t)
	setupModel(t, baseDir, "WrongAPI", "exit 0")
	for _, model := range []string{"BufferOverflow(API)", "WrongAPI", "DataCorruption"} {
		require.NoError(t, os.WriteFile(filepath.Join(baseDir, "llfi-"+model, "input.yaml"),
			[]byte("runOption:\n  - run:\n      numOfRuns: 2\n      fi_cycle: 3\n"+
				"      fi_reg_index: 0\n      fi_bit: 1\n"), 0644))
	}
	var (
		mu      sync.Mutex
		prompts []string
		active  atomic.Int32
		overlap atomic.Bool
	)
	metrics := stat.NewMetrics()
	results, err := Run(context.Background(), Options{
		Source: filepath.Join(baseDir, "prog.ll"),
		Procs:  3,
		Out:    new(bytes.Buffer),
		Seed:   1,
		Confirmer: fispec.ConfirmFunc(func(prompt string) (bool, error) {
			if active.Add(1) != 1 {
				overlap.Store(true)
			}
			defer active.Add(-1)
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			prompts = append(prompts, prompt)
			mu.Unlock()
			return true, nil
		}),
		Metrics: metrics,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, Failed(results))
	assert.False(t, overlap.Load(), "confirmations overlapped")
	require.Len(t, prompts, 3)
	for _, model := range []string{"BufferOverflow(API)", "WrongAPI", "DataCorruption"} {
		found := false
		for _, prompt := range prompts {
			found = found || strings.HasPrefix(prompt, model+": ")
		}
		assert.True(t, found, "no confirmation for %v", model)
	}

	file := filepath.Join(t.TempDir(), "llfi.prom")
	require.NoError(t, metrics.WriteTextfile(file))
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `llfi_runs_total{block="0",model="WrongAPI",outcome="0"} 2`)
	assert.Contains(t, string(data), `llfi_runs_total{block="0",model="DataCorruption",outcome="1"} 2`)
}

func TestRunNotBatch(t *testing.T) {
	baseDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(baseDir, "input.yaml"),
		[]byte("runOption:\n  - run:\n      numOfRuns: 1\n"), 0644))
	_, err := Run(context.Background(), Options{Source: filepath.Join(baseDir, "prog.ll")})
	assert.True(t, errors.Is(err, ErrNotBatch), "got %v", err)

	_, err = Run(context.Background(), Options{Source: filepath.Join(t.TempDir(), "prog.ll")})
	assert.True(t, errors.Is(err, campaign.ErrConfig), "got %v", err)
}
