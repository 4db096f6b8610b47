// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fispec

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Confirmer asks the operator to approve a suspicious but valid configuration.
type Confirmer interface {
	Confirm(prompt string) (bool, error)
}

type ConfirmFunc func(prompt string) (bool, error)

func (f ConfirmFunc) Confirm(prompt string) (bool, error) {
	return f(prompt)
}

// StdinConfirmer prints the prompt to Out and accepts a "Y" answer line from In.
type StdinConfirmer struct {
	In  io.Reader
	Out io.Writer
}

func (c *StdinConfirmer) Confirm(prompt string) (bool, error) {
	fmt.Fprintf(c.Out, "\n%v\nDo you wish to continue anyway? (Y/N)\n ", prompt)
	line, err := bufio.NewReader(c.In).ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return false, fmt.Errorf("failed to read the answer: %w", err)
	}
	return strings.EqualFold(strings.TrimSpace(line), "y"), nil
}

// InteractiveConfirmer returns a confirmer bound to the process stdin.
// Without a terminal there is nobody to answer, so every confirmation fails.
func InteractiveConfirmer() Confirmer {
	fd := os.Stdin.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		return ConfirmFunc(func(string) (bool, error) {
			return false, fmt.Errorf("stdin is not a terminal; add %q to kernelOption to skip the confirmation",
				"forceRun")
		})
	}
	return &StdinConfirmer{In: os.Stdin, Out: os.Stdout}
}
