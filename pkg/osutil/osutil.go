// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package osutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
)

const (
	DefaultDirPerm  = 0755
	DefaultFilePerm = 0644
	DefaultExecPerm = 0755
)

// Command is similar to os/exec.Command, but puts the child into its own process group
// (so that KillGroup reaches its descendants) and sets PDEATHSIG on linux.
func Command(bin string, args ...string) *exec.Cmd {
	cmd := exec.Command(bin, args...)
	setPdeathsig(cmd)
	return cmd
}

// KillGroup kills the process started by cmd together with its process group.
func KillGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	killPgroup(cmd)
	cmd.Process.Kill()
}

type signaler interface {
	Signaled() bool
	Signal() syscall.Signal
}

// ExitStatus returns the exit code of a finished process.
// A process terminated by a signal gets the negated signal number.
func ExitStatus(ps *os.ProcessState) int {
	if ps == nil {
		return 0
	}
	if ws, ok := ps.Sys().(signaler); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return ps.ExitCode()
}

// IsExist returns true if the file name exists.
func IsExist(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

// IsExecutable checks that name is a regular file the current user may execute.
func IsExecutable(name string) error {
	st, err := os.Stat(name)
	if err != nil {
		return fmt.Errorf("%v does not exist", name)
	}
	if !st.Mode().IsRegular() {
		return fmt.Errorf("%v is not a regular file", name)
	}
	if err := checkExec(name, st); err != nil {
		return fmt.Errorf("%v is not executable: %w", name, err)
	}
	return nil
}

func MkdirAll(dir string) error {
	return os.MkdirAll(dir, DefaultDirPerm)
}

func WriteFile(filename string, data []byte) error {
	return os.WriteFile(filename, data, DefaultFilePerm)
}

// CopyFile atomically copies oldFile to newFile preserving permissions and modification time.
func CopyFile(oldFile, newFile string) error {
	oldf, err := os.Open(oldFile)
	if err != nil {
		return err
	}
	defer oldf.Close()
	stat, err := oldf.Stat()
	if err != nil {
		return err
	}
	tmpFile := newFile + ".tmp"
	newf, err := os.OpenFile(tmpFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, stat.Mode()&os.ModePerm)
	if err != nil {
		return err
	}
	defer newf.Close()
	if _, err := io.Copy(newf, oldf); err != nil {
		os.Remove(tmpFile)
		return err
	}
	if err := newf.Close(); err != nil {
		os.Remove(tmpFile)
		return err
	}
	if err := os.Chtimes(tmpFile, stat.ModTime(), stat.ModTime()); err != nil {
		return err
	}
	return os.Rename(tmpFile, newFile)
}

// Rename moves oldFile to newFile, falling back to copy+remove across file systems.
func Rename(oldFile, newFile string) error {
	err := os.Rename(oldFile, newFile)
	var linkErr *os.LinkError
	if err == nil || !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}
	if err := CopyFile(oldFile, newFile); err != nil {
		return err
	}
	return os.Remove(oldFile)
}

// ListDir returns sorted names of all entries in dir.
func ListDir(dir string) ([]string, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	names, err := f.Readdirnames(-1)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// InDir reports whether file is located directly in dir (after resolving symlinks).
func InDir(file, dir string) bool {
	fileDir, err := filepath.EvalSymlinks(filepath.Dir(file))
	if err != nil {
		return false
	}
	dir, err = filepath.EvalSymlinks(dir)
	if err != nil {
		return false
	}
	return fileDir == dir
}

// InterruptContext returns a context that is canceled on the first SIGINT/SIGTERM.
// The second signal terminates the process.
func InterruptContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		c := make(chan os.Signal, 2)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		cancel()
		fmt.Fprint(os.Stderr, "SIGINT: stopping the campaign...\n")
		<-c
		fmt.Fprint(os.Stderr, "SIGINT: terminating\n")
		os.Exit(int(syscall.SIGINT))
	}()
	return ctx
}
