// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bioviz/cimatrix"
	"github.com/bioviz/cimatrix/executor"
	"github.com/bioviz/cimatrix/history"
	"github.com/bioviz/cimatrix/schema"
	v1 "github.com/bioviz/cimatrix/schema/v1"
)

func TestParseExitCode(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected int
	}{
		{name: "nil", err: nil, expected: 0},
		{name: "plain error", err: errors.New("boom"), expected: 1},
		{name: "step exit status", err: &executor.ExitError{Code: 3}, expected: 3},
		{name: "wrapped exit status", err: fmt.Errorf("at linux/test[0]: %w", &executor.ExitError{Code: 42}), expected: 42},
		{name: "timeout", err: context.DeadlineExceeded, expected: 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ParseExitCode(tc.err))
		})
	}
}

func TestDescribeJob(t *testing.T) {
	t.Setenv("NO_COLOR", "true")

	assert.Equal(t, "- linux (linux, xenial)", describeJob(v1.Job{OS: schema.PlatformLinux, Image: "xenial"}))
	assert.Equal(t, "- mac (osx, allowed to fail)", describeJob(v1.Job{Name: "mac", OS: schema.PlatformMacOS, AllowFailure: true}))
}

func TestPrintRun(t *testing.T) {
	t.Setenv("NO_COLOR", "true")

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)
	run := history.Run{
		ID:       "0b7c",
		Pipeline: "bioviz",
		Status:   cimatrix.StatusFailed,
		Started:  started,
		Jobs: []history.Job{
			{
				Name:   "linux",
				Status: cimatrix.StatusFailed,
				Error:  "exit status 3",
				Steps: []history.Step{
					{Phase: "install", Index: 0, Name: "builtin:descriptor", Status: cimatrix.StatusSucceeded, Duration: 1500 * time.Millisecond},
					{Phase: "test", Index: 0, Name: "pytest", Status: cimatrix.StatusFailed, ExitCode: 3, Duration: time.Second},
				},
			},
			{Name: "osx", Status: cimatrix.StatusUnavailable, AllowFailure: true},
		},
	}

	var buf bytes.Buffer
	printRun(&buf, run, false)
	assert.Equal(t, `0b7c bioviz failed 2026-03-01 12:00:00
  linux failed
  osx unavailable (allowed to fail)
`, buf.String())

	buf.Reset()
	printRun(&buf, run, true)
	assert.Equal(t, `0b7c bioviz failed 2026-03-01 12:00:00
  linux failed exit status 3
    install[0] builtin:descriptor succeeded (1.5s)
    test[0] pytest failed (1s, exit 3)
  osx unavailable (allowed to fail)
`, buf.String())
}

func TestRootFlags(t *testing.T) {
	root := NewRootCmd()

	for _, name := range []string{"from", "platform", "emulate", "jobs", "dry-run", "plan", "list", "env", "executor", "timeout", "no-history", "version"} {
		assert.NotNil(t, root.Flags().Lookup(name), name)
	}
	for _, name := range []string{"log-level", "directory", "config"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(name), name)
	}

	from := root.Flags().Lookup("from")
	assert.Equal(t, "file:.cimatrix.yaml", from.DefValue)

	require.NoError(t, root.Flags().Set("executor", "virtual"))
	require.ErrorContains(t, root.Flags().Set("executor", "zsh"), "invalid executor: zsh")

	hist, _, err := root.Find([]string{"history"})
	require.NoError(t, err)
	assert.Equal(t, "history", hist.Name())

	// job names are positional arguments on the root command, not subcommands
	cmd, args, err := root.Find([]string{"windows", "osx"})
	require.NoError(t, err)
	assert.Equal(t, root, cmd)
	assert.Equal(t, []string{"windows", "osx"}, args)
	require.NoError(t, cmd.ValidateArgs(args))
}
