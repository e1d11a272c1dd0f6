// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// Virtual runs scripts with an in-process POSIX shell, independent of the host's shells
type Virtual struct{}

// Parse checks a script is valid POSIX shell
func Parse(script string) (*syntax.File, error) {
	prog, err := syntax.NewParser(syntax.Variant(syntax.LangPOSIX)).Parse(strings.NewReader(script), "script")
	if err != nil {
		return nil, fmt.Errorf("script syntax error: %w", err)
	}
	return prog, nil
}

// Execute interprets the command's script
func (v *Virtual) Execute(ctx context.Context, c Command) error {
	prog, err := Parse(c.Script)
	if err != nil {
		return err
	}

	stdin := c.Stdin
	if stdin == nil {
		stdin = strings.NewReader("")
	}
	stdout, stderr := c.Stdout, c.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	opts := []interp.RunnerOption{
		interp.Env(expand.ListEnviron(c.Env...)),
		interp.StdIO(stdin, stdout, stderr),
		interp.Params("-e", "-u"),
	}
	if c.Dir != "" {
		opts = append(opts, interp.Dir(c.Dir))
	}

	runner, err := interp.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create interpreter: %w", err)
	}

	err = runner.Run(ctx, prog)
	if err != nil {
		var status interp.ExitStatus
		if errors.As(err, &status) {
			return &ExitError{Code: int(status)}
		}
		return err
	}
	return nil
}
