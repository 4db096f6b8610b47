// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package config loads the campaign description (input.yaml).
// The same document also carries compilation and profiling options owned by other tools,
// so unknown keys are ignored rather than rejected.
package config

import (
	"fmt"
	"math"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultTimeout = 500
	// FileName is the name of the campaign description in the experiment directory.
	FileName = "input.yaml"

	forceRunOption = "forceRun"
	maxTimeout     = math.MaxInt64 / int64(time.Second)
)

type Campaign struct {
	// Options that change runner behavior; "forceRun" suppresses interactive confirmations.
	KernelOption []string `yaml:"kernelOption"`
	// Per-run timeout in seconds for blocks that do not set timeOut.
	DefaultTimeout int `yaml:"defaultTimeout"`
	// Instrumentation options; only the custom instruction selector list is used here.
	CompileOption *CompileOption `yaml:"compileOption"`
	// Ordered run blocks.
	RunOption []RunEntry `yaml:"runOption"`
}

type CompileOption struct {
	InstSelMethod []InstSelMethod `yaml:"instSelMethod"`
}

type InstSelMethod struct {
	CustomInstselector *CustomInstselector `yaml:"customInstselector"`
}

type CustomInstselector struct {
	Include []string `yaml:"include"`
}

// RunEntry holds the raw options of one run block.
// Values stay untyped so that the validator can report per-option type errors.
type RunEntry struct {
	Run map[string]any `yaml:"run"`
}

func LoadFile(filename string) (*Campaign, error) {
	if filename == "" {
		return nil, fmt.Errorf("no config file specified")
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return LoadData(data)
}

func LoadData(data []byte) (*Campaign, error) {
	cfg := &Campaign{
		DefaultTimeout: DefaultTimeout,
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file (reminder: use spaces, not tabs): %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Campaign) Validate() error {
	if c.DefaultTimeout <= 0 {
		return fmt.Errorf("defaultTimeout must be greater than 0")
	}
	if int64(c.DefaultTimeout) > maxTimeout {
		return fmt.Errorf("defaultTimeout must be smaller than or equal to %v", maxTimeout)
	}
	if len(c.RunOption) == 0 {
		return fmt.Errorf("runOption must contain at least one run block")
	}
	for i, entry := range c.RunOption {
		if entry.Run == nil {
			return fmt.Errorf("runOption[%v] must contain a run map", i)
		}
	}
	return nil
}

func (c *Campaign) ForceRun() bool {
	return slices.Contains(c.KernelOption, forceRunOption)
}

func (c *Campaign) Timeout() time.Duration {
	return time.Duration(c.DefaultTimeout) * time.Second
}

// Injectors returns the custom instruction selectors listed in the first instSelMethod.
func (c *Campaign) Injectors() ([]string, error) {
	if c.CompileOption == nil || len(c.CompileOption.InstSelMethod) == 0 {
		return nil, fmt.Errorf("compileOption.instSelMethod is missing")
	}
	sel := c.CompileOption.InstSelMethod[0].CustomInstselector
	if sel == nil || len(sel.Include) == 0 {
		return nil, fmt.Errorf("compileOption.instSelMethod[0].customInstselector.include is empty")
	}
	return sel.Include, nil
}
