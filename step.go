// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

package cimatrix

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/x/ansi"
	"github.com/spf13/afero"

	"github.com/bioviz/cimatrix/executor"
	v1 "github.com/bioviz/cimatrix/schema/v1"
)

// maxCapture is how much of a step's trailing output is kept in its result
const maxCapture = 4 << 10

// stepContext is the per-job state shared by every step
type stepContext struct {
	// base is the job's context before its timeout is applied
	base    context.Context
	job     v1.Job
	env     map[string]string
	outputs CommandOutputs
	dir     string
	scratch string
	fs      afero.Fs
	dry     bool
	// executor forces every run step onto the virtual shell when set to "virtual"
	executor string
	stdout   io.Writer
	stderr   io.Writer
	// prefix is prepended to every line of step output
	prefix string
}

// shell resolves the shell a run step is executed with
func (sc stepContext) shell(step v1.Step) string {
	if sc.executor == executor.ShellVirtual {
		return executor.ShellVirtual
	}
	if step.Shell != "" {
		return step.Shell
	}
	return sc.job.Shell
}

func handleRunStep(ctx context.Context, step v1.Step, sc stepContext) (map[string]any, string, error) {
	logger := log.FromContext(ctx)

	script, err := TemplateString(ctx, sc.job, sc.env, sc.outputs, step.Run, sc.dry)
	if err != nil {
		if sc.dry {
			printScript(logger, sc.shell(step), step.Run)
		}
		return nil, "", err
	}

	shell := sc.shell(step)
	printScript(logger, shell, script)
	if sc.dry {
		if shell == executor.ShellVirtual {
			_, err := executor.Parse(script)
			return nil, "", err
		}
		return nil, "", nil
	}

	env, err := mergeEnv(sc.env, step.Env)
	if err != nil {
		return nil, "", err
	}

	outFile, err := os.CreateTemp(sc.scratch, "output-*")
	if err != nil {
		return nil, "", err
	}
	defer func() {
		outFile.Close()
		os.Remove(outFile.Name())
	}()
	env[OutputEnvVar] = outFile.Name()

	tail := &tailBuffer{max: maxCapture}
	stdout := &lineWriter{w: sc.stdout, prefix: sc.prefix}
	stderr := &lineWriter{w: sc.stderr, prefix: sc.prefix}
	if sc.stdout == nil {
		stdout.w = os.Stdout
	}
	if sc.stderr == nil {
		stderr.w = os.Stderr
	}
	defer stdout.Flush()
	defer stderr.Flush()

	cmd := executor.Command{
		Shell:  shell,
		Script: script,
		Dir:    filepath.Join(sc.dir, step.Dir),
		Env:    EnvToList(env),
		Stdout: io.MultiWriter(stdout, tail),
		Stderr: io.MultiWriter(stderr, tail),
	}

	if err := executor.For(shell).Execute(ctx, cmd); err != nil {
		return nil, tail.String(), err
	}

	out, err := ParseOutput(outFile)
	if err != nil || len(out) == 0 {
		return nil, tail.String(), err
	}

	result := make(map[string]any, len(out))
	for k, v := range out {
		result[k] = v
	}

	return result, tail.String(), nil
}

// tailBuffer keeps the last max bytes written to it
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

// String returns the captured output without ANSI escape sequences
func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return strings.TrimSpace(ansi.Strip(string(t.buf)))
}

// lineWriter writes whole lines to w, each prepended with prefix
type lineWriter struct {
	w      io.Writer
	prefix string
	buf    []byte
}

func (lw *lineWriter) Write(p []byte) (int, error) {
	lw.buf = append(lw.buf, p...)
	for {
		i := bytes.IndexByte(lw.buf, '\n')
		if i < 0 {
			break
		}
		if _, err := fmt.Fprintf(lw.w, "%s%s", lw.prefix, lw.buf[:i+1]); err != nil {
			return 0, err
		}
		lw.buf = lw.buf[i+1:]
	}
	return len(p), nil
}

// Flush writes any trailing partial line
func (lw *lineWriter) Flush() {
	if len(lw.buf) == 0 {
		return
	}
	fmt.Fprintf(lw.w, "%s%s\n", lw.prefix, lw.buf)
	lw.buf = nil
}

// syncWriter serializes writes from parallel jobs
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (sw *syncWriter) Write(p []byte) (int, error) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.w.Write(p)
}
