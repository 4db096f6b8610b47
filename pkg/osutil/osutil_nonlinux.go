// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build !linux

package osutil

import (
	"fmt"
	"os"
	"os/exec"
)

func setPdeathsig(cmd *exec.Cmd) {
}

func killPgroup(cmd *exec.Cmd) {
}

func checkExec(name string, st os.FileInfo) error {
	if st.Mode().Perm()&0111 == 0 {
		return fmt.Errorf("no execute permission bits")
	}
	return nil
}
