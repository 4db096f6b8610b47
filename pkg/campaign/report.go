// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package campaign

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/faultcampaign/pkg/osutil"
	"github.com/google/faultcampaign/pkg/stat"
)

type Report struct {
	ID          string         `json:"id"`
	Exe         string         `json:"exe"`
	Args        []string       `json:"args,omitempty"`
	TotalCycles int            `json:"total_cycles"`
	Started     time.Time      `json:"started"`
	Finished    time.Time      `json:"finished"`
	Blocks      []*BlockReport `json:"blocks"`
}

type BlockReport struct {
	Index     int               `json:"index"`
	NumRuns   int               `json:"num_runs"`
	Timeout   time.Duration     `json:"timeout"`
	Outcomes  []stat.Entry      `json:"outcomes"`
	Durations []stat.Percentile `json:"durations"`
	Runs      []*RunRecord      `json:"runs"`
}

type RunRecord struct {
	ID        string        `json:"id"`
	Target    string        `json:"target"`
	Outcome   string        `json:"outcome"`
	ExitCode  int           `json:"exit_code"`
	Elapsed   time.Duration `json:"elapsed"`
	Artifacts []string      `json:"artifacts,omitempty"`
}

// FileName returns the report file name within the archive directory.
func (rep *Report) FileName() string {
	return fmt.Sprintf("campaign-%v.json", rep.ID)
}

func (rep *Report) Save(dir string) error {
	data, err := json.MarshalIndent(rep, "", "\t")
	if err != nil {
		return err
	}
	if err := osutil.WriteFile(filepath.Join(dir, rep.FileName()), data); err != nil {
		return fmt.Errorf("failed to write campaign report: %w", err)
	}
	return nil
}
