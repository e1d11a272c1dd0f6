// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

package cimatrix

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/bioviz/cimatrix/executor"
	v1 "github.com/bioviz/cimatrix/schema/v1"
)

// runJob provisions a machine for job and runs every phase on it
//
// provision -> install (before-install, install) -> test -> after-success | after-failure
func runJob(parent context.Context, p v1.Pipeline, job v1.Job, opts RuntimeOptions, stdout, stderr io.Writer, prefix string) JobResult {
	res := JobResult{
		Name:         job.Label(),
		OS:           job.OS,
		Image:        job.Image,
		AllowFailure: job.AllowFailure,
		Started:      time.Now(),
	}
	defer func() {
		res.Finished = time.Now()
	}()

	logger := log.FromContext(parent).With("job", job.Label())
	ctx := log.WithContext(parent, logger)
	base := ctx

	// jobs queued behind a cancelled run never start
	if err := parent.Err(); err != nil {
		res.Status = StatusCancelled
		if errors.Is(err, context.DeadlineExceeded) {
			res.Status = StatusFailed
		}
		res.Err = addTrace(err, fmt.Sprintf("at %s", job.Label()))
		res.Phases = skippedPhases(p)
		return res
	}

	if p.Timeout != "" {
		timeout, err := time.ParseDuration(p.Timeout)
		if err != nil {
			res.Status = StatusErrored
			res.Err = addTrace(err, fmt.Sprintf("at %s", job.Label()))
			res.Phases = skippedPhases(p)
			return res
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	m, err := provision(ctx, job, opts)
	if err != nil {
		res.Phases = skippedPhases(p)
		if errors.Is(err, ErrPlatformUnavailable) {
			logger.Warn("unavailable", "os", job.OS, "hint", "pass --emulate to run on this host")
			res.Status = StatusUnavailable
			return res
		}
		logger.Error("provisioning failed", "error", err)
		res.Status = StatusErrored
		res.Err = addTrace(err, fmt.Sprintf("at %s/provision", job.Label()))
		return res
	}
	defer func() {
		if err := m.cleanup(); err != nil {
			logger.Warn("cleanup failed", "error", err)
		}
	}()

	env, err := jobEnv(opts.Env, p, job, m.Machine)
	if err != nil {
		res.Status = StatusErrored
		res.Err = addTrace(err, fmt.Sprintf("at %s/provision", job.Label()))
		res.Phases = skippedPhases(p)
		return res
	}

	sc := stepContext{
		base:     base,
		job:      job,
		env:      env,
		outputs:  make(CommandOutputs),
		dir:      m.Dir,
		scratch:  m.Scratch,
		fs:       opts.Fs,
		dry:      opts.Dry,
		executor: opts.Executor,
		stdout:   stdout,
		stderr:   stderr,
		prefix:   prefix,
	}

	record := func(pr PhaseResult, err error) error {
		res.Phases = append(res.Phases, pr)
		if err != nil && res.Err == nil {
			res.Err = err
		}
		return err
	}

	// install phase: before-install then install, one failure domain
	installErr := record(runPhase(ctx, v1.PhaseBeforeInstall, p.BeforeInstall, sc, nil))
	installErr = errors.Join(installErr, record(runPhase(ctx, v1.PhaseInstall, p.Install, sc, installErr)))

	var testErr error
	if installErr == nil {
		testErr = record(runPhase(ctx, v1.PhaseTest, p.Test, sc, nil))
	} else {
		res.Phases = append(res.Phases, skipPhase(v1.PhaseTest, p.Test))
	}

	// failures in the after-* phases are logged but never change the job status
	var cancelled error
	if ctx.Err() != nil {
		cancelled = ctx.Err()
	}
	if installErr == nil && testErr == nil {
		pr, err := runPhase(ctx, v1.PhaseAfterSuccess, p.AfterSuccess, sc, cancelled)
		if err != nil {
			logger.Warn("after-success failed", "error", err)
		}
		res.Phases = append(res.Phases, pr, skipPhase(v1.PhaseAfterFailure, p.AfterFailure))
	} else {
		res.Phases = append(res.Phases, skipPhase(v1.PhaseAfterSuccess, p.AfterSuccess))
		pr, err := runPhase(ctx, v1.PhaseAfterFailure, p.AfterFailure, sc, cancelled)
		if err != nil {
			logger.Warn("after-failure failed", "error", err)
		}
		res.Phases = append(res.Phases, pr)
	}

	switch {
	case errors.Is(parent.Err(), context.Canceled):
		res.Status = StatusCancelled
		if res.Err == nil {
			res.Err = addTrace(parent.Err(), fmt.Sprintf("at %s", job.Label()))
		}
	case installErr != nil || testErr != nil:
		res.Status = StatusFailed
	case ctx.Err() != nil:
		// the job timeout expired after the test phase
		res.Status = StatusFailed
		if res.Err == nil {
			res.Err = addTrace(ctx.Err(), fmt.Sprintf("at %s", job.Label()))
		}
	default:
		res.Status = StatusPassed
	}

	logger.Debug("finished", "status", res.Status, "duration", time.Since(res.Started))

	return res
}

type provisioned struct {
	*Machine
	cleanup func() error
}

func provision(ctx context.Context, job v1.Job, opts RuntimeOptions) (provisioned, error) {
	if opts.Dry {
		// nothing is executed, every platform can be planned on any host
		scratch := filepath.Join(opts.Dir, ".cimatrix", job.Label())
		return provisioned{
			Machine: &Machine{Dir: opts.Dir, Scratch: scratch, Env: map[string]string{EnvScratch: scratch}},
			cleanup: func() error { return nil },
		}, nil
	}

	m, cleanup, err := opts.Provisioner.Provision(ctx, job)
	if err != nil {
		return provisioned{}, err
	}
	if m.Dir == "" {
		m.Dir = opts.Dir
	}
	return provisioned{Machine: m, cleanup: cleanup}, nil
}

func skipPhase(phase v1.Phase, steps []v1.Step) PhaseResult {
	pr := PhaseResult{Phase: phase, Status: StatusSkipped, Steps: make([]StepResult, 0, len(steps))}
	for i, step := range steps {
		pr.Steps = append(pr.Steps, StepResult{Index: i, Name: step.Title(), Status: StatusSkipped})
	}
	return pr
}

func skippedPhases(p v1.Pipeline) []PhaseResult {
	phases := v1.Phases()
	out := make([]PhaseResult, 0, len(phases))
	for _, phase := range phases {
		out = append(out, skipPhase(phase, p.Steps(phase)))
	}
	return out
}

// runPhase runs the steps of a phase in order
//
// prior is a failure from before the phase started, steps see it through failure()
func runPhase(parent context.Context, phase v1.Phase, steps []v1.Step, sc stepContext, prior error) (PhaseResult, error) {
	logger := log.FromContext(parent)
	pr := PhaseResult{Phase: phase, Steps: make([]StepResult, 0, len(steps))}

	var firstError error
	var phaseCancelledLogOnce sync.Once
	ran := false

	for i, step := range steps {
		sr := StepResult{Index: i, Name: step.Title(), Status: StatusSkipped}
		frame := fmt.Sprintf("at %s/%s[%d]", sc.job.Label(), phase, i)
		if err := parent.Err(); err != nil && prior == nil && firstError == nil {
			firstError = addTrace(err, frame)
		}
		failed := errors.Join(prior, firstError)

		err := func(ctx context.Context) error {
			sub := logger.With("step", fmt.Sprintf("%s[%d]", phase, i))

			if !step.RunsOn(sc.job.OS) {
				sub.Debug("completed", "skipped", true, "os", sc.job.OS)
				return nil
			}

			shouldRun, err := ShouldRun(ctx, step.If, failed, Conditions{
				Job:     sc.job,
				Env:     sc.env,
				Outputs: sc.outputs,
				Dry:     sc.dry,
			})
			if err != nil {
				if failed != nil {
					// an invalid `if` on the error path is logged, never returned
					sub.Error("invalid", "if", step.If, "error", err)
					return nil
				}
				sr.Status = StatusFailed
				return err
			}
			if !shouldRun {
				sub.Debug("completed", "skipped", true)
				return nil
			}

			// only always() and cancelled() steps get this far once ctx is done
			if ctx.Err() != nil {
				phaseCancelledLogOnce.Do(func() {
					sub.Warn("job cancelled")
				})
				if errors.Is(ctx.Err(), context.DeadlineExceeded) && sc.base != nil && sc.base.Err() == nil {
					// the job timed out, fall back to the run context so SIGINT still applies
					ctx = sc.base
				} else {
					ctx = context.WithoutCancel(ctx)
				}
			}

			if step.Timeout != "" {
				timeout, err := time.ParseDuration(step.Timeout)
				if err != nil {
					sr.Status = StatusFailed
					return err
				}
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			if step.Name != "" {
				sub.Info(step.Name)
			}

			ran = true
			start := time.Now()
			defer func() {
				sr.Duration = time.Since(start)
			}()

			var result map[string]any
			if step.Uses != "" {
				result, err = ExecuteBuiltin(ctx, step, sc)
			} else {
				result, sr.Output, err = handleRunStep(ctx, step, sc)
			}
			if err != nil {
				sr.Status = StatusFailed
				sr.ExitCode = executor.ExitCode(err)
				if sr.ExitCode <= 0 {
					sr.ExitCode = 1
				}
				sr.Error = err.Error()
				return err
			}

			sr.Status = StatusSucceeded
			sub.Debug("completed", "outputs", len(result), "duration", time.Since(start))

			if step.ID != "" && len(result) > 0 {
				sc.outputs[step.ID] = make(map[string]any, len(result))
				maps.Copy(sc.outputs[step.ID], result)
			}

			return nil
		}(parent)

		pr.Steps = append(pr.Steps, sr)

		if err != nil && firstError == nil {
			firstError = addTrace(err, frame)
		}
	}

	switch {
	case firstError != nil:
		pr.Status = StatusFailed
	case prior != nil && !ran:
		pr.Status = StatusSkipped
	default:
		pr.Status = StatusPassed
	}

	return pr, firstError
}
