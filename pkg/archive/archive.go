// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package archive captures files that a run leaves in the working directory
// and moves them into the per-category output directories.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/faultcampaign/pkg/log"
	"github.com/google/faultcampaign/pkg/osutil"
)

// Layout is the set of output directories kept next to the fault injection executable.
type Layout struct {
	Input  string
	Output string
	Error  string
	Std    string
	Stat   string
}

func NewLayout(baseDir string) Layout {
	return Layout{
		Input:  filepath.Join(baseDir, "prog_input"),
		Output: filepath.Join(baseDir, "prog_output"),
		Error:  filepath.Join(baseDir, "error_output"),
		Std:    filepath.Join(baseDir, "std_output"),
		Stat:   filepath.Join(baseDir, "llfi_stat_output"),
	}
}

func (l Layout) Create() error {
	for _, dir := range []string{l.Input, l.Output, l.Error, l.Std, l.Stat} {
		if err := osutil.MkdirAll(dir); err != nil {
			return fmt.Errorf("failed to create %v: %w", dir, err)
		}
	}
	return nil
}

type Kind int

const (
	// LibraryEmpty is an empty file produced by the injection library; it is deleted.
	LibraryEmpty Kind = iota
	// LibraryStat is a statistics file produced by the injection library.
	LibraryStat
	// ProgramOutput is any other file the program created.
	ProgramOutput
)

func (k Kind) String() string {
	switch k {
	case LibraryEmpty:
		return "library-empty"
	case LibraryStat:
		return "library-stat"
	case ProgramOutput:
		return "program-output"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// libraryPrefix marks files written by the injection library rather than the program.
const libraryPrefix = "llfi"

type Artifact struct {
	Kind Kind
	Name string
	// Path is the archived location, empty for deleted files.
	Path string
}

// Archiver tracks the working directory across a single run.
// Runs must be sequential: anything that appears in the working directory
// between BeforeRun and AfterRun is attributed to the run.
type Archiver struct {
	workDir  string
	layout   Layout
	inputs   []string
	snapshot map[string]bool
}

func New(workDir string, layout Layout) *Archiver {
	return &Archiver{
		workDir: workDir,
		layout:  layout,
	}
}

// Preserve copies the named working directory files into the input directory,
// so that they can be restored if a faulty run deletes them.
func (a *Archiver) Preserve(inputs []string) error {
	for _, name := range inputs {
		if err := osutil.CopyFile(filepath.Join(a.workDir, name), filepath.Join(a.layout.Input, name)); err != nil {
			return fmt.Errorf("failed to preserve input %v: %w", name, err)
		}
		a.inputs = append(a.inputs, name)
	}
	return nil
}

func (a *Archiver) BeforeRun() error {
	names, err := osutil.ListDir(a.workDir)
	if err != nil {
		return fmt.Errorf("failed to list %v: %w", a.workDir, err)
	}
	a.snapshot = make(map[string]bool, len(names))
	for _, name := range names {
		a.snapshot[name] = true
	}
	return nil
}

// AfterRun archives every entry that appeared since BeforeRun.
func (a *Archiver) AfterRun(runID string) ([]Artifact, error) {
	if a.snapshot == nil {
		return nil, fmt.Errorf("AfterRun called without BeforeRun")
	}
	names, err := osutil.ListDir(a.workDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %v: %w", a.workDir, err)
	}
	var res []Artifact
	for _, name := range names {
		if a.snapshot[name] {
			continue
		}
		art, err := a.archive(name, runID)
		if err != nil {
			return res, err
		}
		log.Logf(2, "run %v: %v %v -> %v", runID, art.Kind, name, art.Path)
		res = append(res, art)
	}
	a.snapshot = nil
	return res, nil
}

func (a *Archiver) archive(name, runID string) (Artifact, error) {
	file := filepath.Join(a.workDir, name)
	art := Artifact{Kind: ProgramOutput, Name: name}
	dstDir := a.layout.Output
	if strings.HasPrefix(name, libraryPrefix) {
		st, err := os.Stat(file)
		if err != nil {
			return art, fmt.Errorf("failed to stat %v: %w", file, err)
		}
		if st.Mode().IsRegular() && st.Size() == 0 {
			art.Kind = LibraryEmpty
			if err := os.Remove(file); err != nil {
				return art, fmt.Errorf("failed to remove %v: %w", file, err)
			}
			return art, nil
		}
		art.Kind = LibraryStat
		dstDir = a.layout.Stat
	}
	art.Path = filepath.Join(dstDir, TaggedName(name, runID))
	if err := osutil.Rename(file, art.Path); err != nil {
		return art, fmt.Errorf("failed to archive %v: %w", file, err)
	}
	return art, nil
}

// RestoreInputs copies back preserved inputs that are missing from the working directory.
func (a *Archiver) RestoreInputs() error {
	for _, name := range a.inputs {
		file := filepath.Join(a.workDir, name)
		if osutil.IsExist(file) {
			continue
		}
		log.Logf(1, "restoring deleted input %v", name)
		if err := osutil.CopyFile(filepath.Join(a.layout.Input, name), file); err != nil {
			return fmt.Errorf("failed to restore input %v: %w", name, err)
		}
	}
	return nil
}

// TaggedName inserts runID before the last extension of name:
// out.txt becomes out.<id>.txt, and names without a dot get .<id> appended.
func TaggedName(name, runID string) string {
	pos := strings.LastIndexByte(name, '.')
	if pos < 0 {
		return name + "." + runID
	}
	return name[:pos] + "." + runID + name[pos:]
}
