// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

// Package executor runs the script of a single step
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"syscall"

	"mvdan.cc/sh/v3/interp"
)

// ShellVirtual selects the in-process shell interpreter
const ShellVirtual = "virtual"

// Command is a script plus everything needed to run it
type Command struct {
	Shell  string
	Script string
	Dir    string
	Env    []string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Executor runs a Command to completion
type Executor interface {
	Execute(ctx context.Context, cmd Command) error
}

var (
	_ Executor = (*Host)(nil)
	_ Executor = (*Virtual)(nil)
)

// For returns the executor that runs the given shell
func For(shell string) Executor {
	if shell == ShellVirtual {
		return &Virtual{}
	}
	return &Host{}
}

// ExitCode extracts the process exit code from an execution error
//
// 0 - the error was nil
// n - the exit status of the script
// -1 - the script did not run to an exit status
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var eErr *exec.ExitError
	if errors.As(err, &eErr) {
		if status, ok := eErr.Sys().(syscall.WaitStatus); ok {
			if status.Exited() {
				return status.ExitStatus()
			}
			if status.Signaled() && status.Signal() == syscall.SIGINT {
				return 130
			}
		}
		return eErr.ExitCode()
	}

	var status interp.ExitStatus
	if errors.As(err, &status) {
		return int(status)
	}

	return -1
}

// ExitError is returned by the virtual shell when a script exits non-zero
type ExitError struct {
	Code int
}

// Error implements error
func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap exposes the interpreter's exit status
func (e *ExitError) Unwrap() error {
	return interp.ExitStatus(uint8(e.Code))
}
