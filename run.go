// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

// Package cimatrix runs a build matrix of CI jobs declared in a pipeline file.
package cimatrix

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/bioviz/cimatrix/schema"
	v1 "github.com/bioviz/cimatrix/schema/v1"
)

// RuntimeOptions controls a single run of a pipeline
type RuntimeOptions struct {
	// Dry prints every step without executing anything
	Dry bool
	// Env is the base environment of every step, defaults to the process environment
	Env map[string]string
	// Only limits the run to jobs matching these names or platform labels
	Only []string
	// Jobs bounds how many jobs run at once, 0 runs every job in parallel
	Jobs int
	// Executor set to "virtual" runs every script with the in-process shell
	Executor string
	// Provisioner prepares each job's machine, defaults to a LocalProvisioner
	Provisioner Provisioner
	// Fs is the filesystem builtins use, defaults to the OS
	Fs afero.Fs
	// Dir is the working directory of every job, defaults to the process's
	Dir string
	// Recorder persists the report of a (non dry) run
	Recorder Recorder
	Stdout   io.Writer
	Stderr   io.Writer
}

// Run executes every selected job of the pipeline's matrix and returns their report
//
// Jobs run in parallel, the report lists them in matrix order. The returned error is
// the first failure of a job that is not allowed to fail.
func Run(parent context.Context, p v1.Pipeline, opts RuntimeOptions) (*Report, error) {
	jobs, err := SelectJobs(p.Matrix, opts.Only)
	if err != nil {
		return nil, err
	}

	if opts.Dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		opts.Dir = wd
	}
	if opts.Env == nil {
		opts.Env = EnvFromList(os.Environ())
	}
	if opts.Provisioner == nil {
		opts.Provisioner = &LocalProvisioner{Dir: opts.Dir}
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	logger := log.FromContext(parent)

	report := &Report{
		ID:       uuid.NewString(),
		Pipeline: p.Name,
		Started:  time.Now(),
		Jobs:     make([]JobResult, len(jobs)),
	}

	logger.Debug("run", "id", report.ID, "jobs", len(jobs), "dry-run", opts.Dry)

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stdout := &syncWriter{w: opts.Stdout}
	stderr := stdout
	if opts.Stderr != opts.Stdout {
		stderr = &syncWriter{w: opts.Stderr}
	}

	limit := opts.Jobs
	if limit <= 0 {
		limit = len(jobs)
	}
	parallel := limit > 1 && len(jobs) > 1

	// one failing job never cancels the others
	var g errgroup.Group
	g.SetLimit(limit)
	for i, job := range jobs {
		prefix := ""
		if parallel {
			prefix = jobPrefix(job)
		}
		g.Go(func() error {
			report.Jobs[i] = runJob(ctx, p, job, opts, stdout, stderr, prefix)
			return nil
		})
	}
	_ = g.Wait()

	report.Finished = time.Now()

	for _, j := range report.Jobs {
		summarize(logger, j)
	}

	if !opts.Dry && opts.Recorder != nil {
		if err := opts.Recorder.Record(context.WithoutCancel(parent), report); err != nil {
			logger.Warn("failed to record run", "id", report.ID, "error", err)
		}
	}

	if report.Status() == StatusUnavailable {
		return report, fmt.Errorf("no job can run on this host (%s), pass --emulate to run anyways", schema.HostPlatform())
	}

	return report, report.Err()
}

// SelectJobs returns the jobs whose name or platform label matches one of only, in matrix order
//
// An empty only selects the whole matrix
func SelectJobs(matrix v1.Matrix, only []string) ([]v1.Job, error) {
	if len(only) == 0 {
		return matrix, nil
	}

	selected := make([]v1.Job, 0, len(matrix))
	matched := make(map[string]bool, len(only))
	for _, job := range matrix {
		for _, o := range only {
			if o == job.Label() {
				matched[o] = true
				selected = append(selected, job)
				break
			}
			if platform, err := schema.ParsePlatform(o); err == nil && platform == job.OS {
				matched[o] = true
				selected = append(selected, job)
				break
			}
		}
	}

	var errs []error
	for _, o := range only {
		if !matched[o] {
			errs = append(errs, fmt.Errorf("no job matches %q, available: [%s]", o, strings.Join(matrix.Names(), ", ")))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return selected, nil
}

func jobPrefix(job v1.Job) string {
	return lipgloss.NewStyle().Faint(true).Render("["+job.Label()+"]") + " "
}

func summarize(logger *log.Logger, j JobResult) {
	kv := []any{"job", j.Name, "os", j.OS, "status", j.Status, "duration", j.Finished.Sub(j.Started).Round(time.Millisecond)}
	switch j.Status {
	case StatusPassed:
		logger.Info("done", kv...)
	case StatusUnavailable:
		logger.Warn("done", kv...)
	default:
		if j.AllowFailure {
			logger.Warn("done", append(kv, "allow-failure", true)...)
			return
		}
		logger.Error("done", kv...)
	}
}
