// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

package cimatrix

import (
	"context"
	"slices"
	"time"

	"github.com/bioviz/cimatrix/schema"
	v1 "github.com/bioviz/cimatrix/schema/v1"
)

// Status is the outcome of a job, phase or step
type Status string

const (
	// StatusPassed is a job or phase where every required step succeeded
	StatusPassed Status = "passed"
	// StatusFailed is a job, phase or step that exited non-zero
	StatusFailed Status = "failed"
	// StatusSucceeded is a step that exited zero
	StatusSucceeded Status = "succeeded"
	// StatusSkipped is a phase or step that was never started
	StatusSkipped Status = "skipped"
	// StatusErrored is a job whose machine could not be provisioned
	StatusErrored Status = "errored"
	// StatusUnavailable is a job whose platform cannot run on this host
	StatusUnavailable Status = "unavailable"
	// StatusCancelled is a job interrupted by a signal or timeout
	StatusCancelled Status = "cancelled"
)

// StepResult records a single step
type StepResult struct {
	Index    int           `json:"index"`
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	ExitCode int           `json:"exit-code"`
	Duration time.Duration `json:"duration"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// PhaseResult records a phase of a job
type PhaseResult struct {
	Phase  v1.Phase     `json:"phase"`
	Status Status       `json:"status"`
	Steps  []StepResult `json:"steps"`
}

// JobResult records one build matrix entry
type JobResult struct {
	Name         string          `json:"name"`
	OS           schema.Platform `json:"os"`
	Image        string          `json:"image,omitempty"`
	AllowFailure bool            `json:"allow-failure,omitempty"`
	Status       Status          `json:"status"`
	Started      time.Time       `json:"started"`
	Finished     time.Time       `json:"finished"`
	Phases       []PhaseResult   `json:"phases"`

	// Err is the first error that failed the job, with its trace
	Err error `json:"-"`
}

// Phase returns the result of the given phase
func (j JobResult) Phase(p v1.Phase) (PhaseResult, bool) {
	for _, pr := range j.Phases {
		if pr.Phase == p {
			return pr, true
		}
	}
	return PhaseResult{}, false
}

// Blocking reports whether this job's outcome fails the run
func (j JobResult) Blocking() bool {
	if j.AllowFailure {
		return false
	}
	switch j.Status {
	case StatusFailed, StatusErrored, StatusCancelled:
		return true
	}
	return false
}

// Report records a whole pipeline run
type Report struct {
	ID       string      `json:"id"`
	Pipeline string      `json:"pipeline"`
	Started  time.Time   `json:"started"`
	Finished time.Time   `json:"finished"`
	Jobs     []JobResult `json:"jobs"`
}

// Failed reports whether any blocking job failed
func (r *Report) Failed() bool {
	for _, j := range r.Jobs {
		if j.Blocking() {
			return true
		}
	}
	return false
}

// Err returns the error of the first blocking job, in matrix order
// Status summarizes the run
//
// A run fails when any blocking job failed, or is cancelled when the only blocking jobs were
// cancelled. A run where no job could be provisioned on this host is unavailable.
func (r *Report) Status() Status {
	cancelled := false
	for _, j := range r.Jobs {
		if !j.Blocking() {
			continue
		}
		if j.Status != StatusCancelled {
			return StatusFailed
		}
		cancelled = true
	}
	if cancelled {
		return StatusCancelled
	}
	if len(r.Jobs) > 0 && !slices.ContainsFunc(r.Jobs, func(j JobResult) bool { return j.Status != StatusUnavailable }) {
		return StatusUnavailable
	}
	return StatusPassed
}

func (r *Report) Err() error {
	for _, j := range r.Jobs {
		if j.Blocking() {
			return j.Err
		}
	}
	return nil
}

// Recorder persists run reports
type Recorder interface {
	Record(ctx context.Context, report *Report) error
}
