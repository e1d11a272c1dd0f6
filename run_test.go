// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

package cimatrix

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bioviz/cimatrix/executor"
	"github.com/bioviz/cimatrix/schema"
	v1 "github.com/bioviz/cimatrix/schema/v1"
)

const testDescriptor = `name: bioviz
channels: [conda-forge]
dependencies:
  - python=3.12
  - vtk
`

type recorder struct {
	mu      sync.Mutex
	reports []*Report
}

func (r *recorder) Record(_ context.Context, report *Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

// run executes p with the virtual shell in a fresh directory
func run(t *testing.T, p v1.Pipeline, mutate func(*RuntimeOptions)) (*Report, string, error) {
	t.Helper()
	return runContext(t, t.Context(), p, mutate)
}

func runContext(t *testing.T, ctx context.Context, p v1.Pipeline, mutate func(*RuntimeOptions)) (*Report, string, error) {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "environment.yml"), []byte(testDescriptor), 0o644))

	var out bytes.Buffer
	opts := RuntimeOptions{
		Env:         map[string]string{"PATH": os.Getenv("PATH")},
		Executor:    executor.ShellVirtual,
		Dir:         dir,
		Provisioner: &LocalProvisioner{Dir: dir, Emulate: true},
		Stdout:      &out,
		Stderr:      &out,
	}
	if mutate != nil {
		mutate(&opts)
	}

	ctx = log.WithContext(ctx, log.New(io.Discard))
	report, err := Run(ctx, p, opts)
	return report, out.String(), err
}

func bioviz() v1.Pipeline {
	return v1.Pipeline{
		Name:       "bioviz",
		Descriptor: "environment.yml",
		Matrix: v1.Matrix{
			{OS: schema.PlatformLinux, Image: "xenial"},
			{OS: schema.PlatformWindows},
			{OS: schema.PlatformMacOS},
		},
		BeforeInstall: []v1.Step{
			{Run: `echo "bootstrap $CIMATRIX_OS linux=$CIMATRIX_LINUX"`},
		},
		Install: []v1.Step{
			{ID: "env", Uses: "builtin:descriptor"},
			{Run: `echo "create ${{ from "env" "name" }} with ${{ from "env" "dependencies" }} packages"`},
		},
		Test: []v1.Step{
			{Name: "full suite", Run: `echo "xvfb-run pytest on ${{ .OS }}"`, If: "linux()"},
			{Name: "smoke check", Run: `echo "import bioviz on ${{ .OS }}"`, If: "!linux()"},
		},
		AfterSuccess: []v1.Step{
			{Run: `echo "coverage upload from $CIMATRIX_JOB"`},
		},
		AfterFailure: []v1.Step{
			{Run: `echo "failure report from $CIMATRIX_JOB"`},
		},
	}
}

func stepStatuses(pr PhaseResult) []Status {
	out := make([]Status, 0, len(pr.Steps))
	for _, s := range pr.Steps {
		out = append(out, s.Status)
	}
	return out
}

func phaseStatuses(j JobResult) map[v1.Phase]Status {
	out := make(map[v1.Phase]Status, len(j.Phases))
	for _, pr := range j.Phases {
		out[pr.Phase] = pr.Status
	}
	return out
}

func TestRunBioviz(t *testing.T) {
	rec := &recorder{}
	report, out, err := run(t, bioviz(), func(o *RuntimeOptions) {
		o.Recorder = rec
	})
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.NotEmpty(t, report.ID)
	assert.Equal(t, "bioviz", report.Pipeline)
	assert.False(t, report.Failed())
	require.Len(t, report.Jobs, 3)

	// matrix order, whatever order the jobs finished in
	assert.Equal(t, "linux", report.Jobs[0].Name)
	assert.Equal(t, "windows", report.Jobs[1].Name)
	assert.Equal(t, "osx", report.Jobs[2].Name)

	for _, j := range report.Jobs {
		assert.Equal(t, StatusPassed, j.Status, j.Name)
		assert.Equal(t, map[v1.Phase]Status{
			v1.PhaseBeforeInstall: StatusPassed,
			v1.PhaseInstall:       StatusPassed,
			v1.PhaseTest:          StatusPassed,
			v1.PhaseAfterSuccess:  StatusPassed,
			v1.PhaseAfterFailure:  StatusSkipped,
		}, phaseStatuses(j), j.Name)
	}

	linux := report.Jobs[0]
	test, ok := linux.Phase(v1.PhaseTest)
	require.True(t, ok)
	assert.Equal(t, []Status{StatusSucceeded, StatusSkipped}, stepStatuses(test))
	assert.Equal(t, "xvfb-run pytest on linux", test.Steps[0].Output)

	windows := report.Jobs[1]
	test, ok = windows.Phase(v1.PhaseTest)
	require.True(t, ok)
	assert.Equal(t, []Status{StatusSkipped, StatusSucceeded}, stepStatuses(test))
	assert.Equal(t, "import bioviz on windows", test.Steps[1].Output)

	before, ok := windows.Phase(v1.PhaseBeforeInstall)
	require.True(t, ok)
	assert.Equal(t, "bootstrap windows linux=false", before.Steps[0].Output)

	install, ok := linux.Phase(v1.PhaseInstall)
	require.True(t, ok)
	assert.Equal(t, "create bioviz with 2 packages", install.Steps[1].Output)

	assert.Contains(t, out, "[linux]")
	assert.Contains(t, out, "bootstrap linux linux=true")
	assert.Contains(t, out, "coverage upload from osx")
	assert.NotContains(t, out, "failure report")

	require.Len(t, rec.reports, 1)
	assert.Same(t, report, rec.reports[0])
}

func TestRunMissingDescriptor(t *testing.T) {
	p := bioviz()
	p.Matrix = p.Matrix[:1]

	report, out, err := run(t, p, func(o *RuntimeOptions) {
		require.NoError(t, os.Remove(filepath.Join(o.Dir, "environment.yml")))
	})
	require.Error(t, err)
	require.ErrorContains(t, err, "builtin:descriptor: environment descriptor: ")

	var tErr *TraceError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, []string{"at linux/install[0]"}, tErr.Trace)

	j := report.Jobs[0]
	assert.Equal(t, StatusFailed, j.Status)
	assert.Equal(t, map[v1.Phase]Status{
		v1.PhaseBeforeInstall: StatusPassed,
		v1.PhaseInstall:       StatusFailed,
		v1.PhaseTest:          StatusSkipped,
		v1.PhaseAfterSuccess:  StatusSkipped,
		v1.PhaseAfterFailure:  StatusPassed,
	}, phaseStatuses(j))

	install, _ := j.Phase(v1.PhaseInstall)
	assert.Equal(t, []Status{StatusFailed, StatusSkipped}, stepStatuses(install))
	assert.Equal(t, 1, install.Steps[0].ExitCode)

	assert.NotContains(t, out, "pytest")
	assert.Contains(t, out, "failure report from linux")

	// deterministic
	again, _, err2 := run(t, p, func(o *RuntimeOptions) {
		require.NoError(t, os.Remove(filepath.Join(o.Dir, "environment.yml")))
	})
	require.Error(t, err2)
	assert.Equal(t, phaseStatuses(j), phaseStatuses(again.Jobs[0]))
}

func TestRunTestFailure(t *testing.T) {
	p := bioviz()
	p.Matrix = p.Matrix[:1]
	p.Test = []v1.Step{
		{Run: "echo running; exit 3"},
		{Run: "echo never"},
		{Run: "echo cleanup", If: "failure()"},
		{Run: "echo finally", If: "always()"},
	}

	report, out, err := run(t, p, nil)
	require.Error(t, err)
	assert.Equal(t, 3, executor.ExitCode(err))

	j := report.Jobs[0]
	assert.Equal(t, StatusFailed, j.Status)

	test, _ := j.Phase(v1.PhaseTest)
	assert.Equal(t, StatusFailed, test.Status)
	assert.Equal(t, []Status{StatusFailed, StatusSkipped, StatusSucceeded, StatusSucceeded}, stepStatuses(test))
	assert.Equal(t, 3, test.Steps[0].ExitCode)
	assert.Equal(t, "running", test.Steps[0].Output)
	assert.Equal(t, "exit status 3", test.Steps[0].Error)

	success, _ := j.Phase(v1.PhaseAfterSuccess)
	assert.Equal(t, StatusSkipped, success.Status)

	assert.NotContains(t, out, "never")
	assert.NotContains(t, out, "coverage upload")
	assert.Contains(t, out, "cleanup")
	assert.Contains(t, out, "finally")
	assert.Contains(t, out, "failure report from linux")
}

func TestRunAfterPhasesDoNotFailTheJob(t *testing.T) {
	p := bioviz()
	p.Matrix = p.Matrix[:1]
	p.AfterSuccess = []v1.Step{{Run: "exit 9"}, {Run: "echo after"}}

	report, out, err := run(t, p, nil)
	require.NoError(t, err)

	j := report.Jobs[0]
	assert.Equal(t, StatusPassed, j.Status)
	success, _ := j.Phase(v1.PhaseAfterSuccess)
	assert.Equal(t, StatusFailed, success.Status)
	assert.Equal(t, []Status{StatusFailed, StatusSkipped}, stepStatuses(success))
	assert.NotContains(t, out, "after\n")
}

func TestRunFailureStateIsPerPhase(t *testing.T) {
	p := bioviz()
	p.Matrix = p.Matrix[:1]
	p.BeforeInstall = []v1.Step{{Run: "exit 1"}}
	p.Install = []v1.Step{
		{Run: "echo install"},
		{Run: "echo install-recovery", If: "failure()"},
	}

	report, out, err := run(t, p, nil)
	require.Error(t, err)

	j := report.Jobs[0]
	install, _ := j.Phase(v1.PhaseInstall)
	// before-install and install are one failure domain
	assert.Equal(t, []Status{StatusSkipped, StatusSucceeded}, stepStatuses(install))
	assert.Equal(t, StatusPassed, install.Status)
	assert.Contains(t, out, "install-recovery")

	// after-failure starts clean, so plain steps still run
	failure, _ := j.Phase(v1.PhaseAfterFailure)
	assert.Equal(t, []Status{StatusSucceeded}, stepStatuses(failure))
}

func TestRunOutputs(t *testing.T) {
	p := v1.Pipeline{
		Matrix: v1.Matrix{{OS: schema.PlatformLinux}},
		Install: []v1.Step{
			{ID: "conda", Run: `echo "prefix=/opt/conda" >> "$CIMATRIX_OUTPUT"; printf 'pkgs<<END\nvtk\nnumpy\nEND\n' >> "$CIMATRIX_OUTPUT"`},
		},
		Test: []v1.Step{
			{Run: `echo "${{ from "conda" "prefix" }}"`},
			{Run: `echo "ok"`, If: `from("conda", "pkgs") == "vtk\nnumpy"`},
		},
	}

	report, _, err := run(t, p, nil)
	require.NoError(t, err)

	test, _ := report.Jobs[0].Phase(v1.PhaseTest)
	assert.Equal(t, "/opt/conda", test.Steps[0].Output)
	assert.Equal(t, StatusSucceeded, test.Steps[1].Status)
	assert.Equal(t, "ok", test.Steps[1].Output)
}

func TestRunOSFilter(t *testing.T) {
	p := v1.Pipeline{
		Matrix: v1.Matrix{{OS: schema.PlatformLinux}, {OS: schema.PlatformWindows}},
		Install: []v1.Step{
			{Run: "echo apt", OS: []schema.Platform{schema.PlatformLinux}},
			{Run: "echo choco", OS: []schema.Platform{schema.PlatformWindows}},
		},
	}

	report, _, err := run(t, p, func(o *RuntimeOptions) { o.Jobs = 1 })
	require.NoError(t, err)

	linux, _ := report.Jobs[0].Phase(v1.PhaseInstall)
	assert.Equal(t, []Status{StatusSucceeded, StatusSkipped}, stepStatuses(linux))
	windows, _ := report.Jobs[1].Phase(v1.PhaseInstall)
	assert.Equal(t, []Status{StatusSkipped, StatusSucceeded}, stepStatuses(windows))
}

func TestRunSequentialHasNoPrefix(t *testing.T) {
	p := v1.Pipeline{
		Matrix:  v1.Matrix{{OS: schema.PlatformLinux}, {OS: schema.PlatformMacOS}},
		Install: []v1.Step{{Run: "echo $CIMATRIX_OS"}},
	}

	_, out, err := run(t, p, func(o *RuntimeOptions) { o.Jobs = 1 })
	require.NoError(t, err)
	assert.Equal(t, "linux\nosx\n", out)
}

func TestRunUnavailable(t *testing.T) {
	other := schema.PlatformWindows
	if schema.HostPlatform() == schema.PlatformWindows {
		other = schema.PlatformLinux
	}

	p := v1.Pipeline{
		Matrix:  v1.Matrix{{OS: other}},
		Install: []v1.Step{{Run: "echo hi"}},
	}

	report, _, err := run(t, p, func(o *RuntimeOptions) {
		o.Provisioner = &LocalProvisioner{Dir: o.Dir}
	})
	require.ErrorContains(t, err, "pass --emulate to run anyways")
	assert.Equal(t, StatusUnavailable, report.Jobs[0].Status)
	assert.False(t, report.Failed())
	for _, pr := range report.Jobs[0].Phases {
		assert.Equal(t, StatusSkipped, pr.Status)
	}
}

func TestRunAllowFailure(t *testing.T) {
	p := v1.Pipeline{
		Matrix: v1.Matrix{
			{OS: schema.PlatformLinux},
			{OS: schema.PlatformMacOS, AllowFailure: true},
		},
		Test: []v1.Step{{Run: `if [ "$CIMATRIX_OS" = osx ]; then exit 2; fi`}},
	}

	report, _, err := run(t, p, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusPassed, report.Jobs[0].Status)
	assert.Equal(t, StatusFailed, report.Jobs[1].Status)
	assert.False(t, report.Failed())
}

func TestRunTimeouts(t *testing.T) {
	p := v1.Pipeline{
		Matrix: v1.Matrix{{OS: schema.PlatformLinux}},
		Test: []v1.Step{
			{Run: "while true; do :; done", Timeout: "50ms"},
			{Run: "echo finally", If: "always()"},
		},
	}

	report, out, err := run(t, p, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatusFailed, report.Jobs[0].Status)
	assert.Contains(t, out, "finally")

	p.Timeout = "50ms"
	p.Test = []v1.Step{{Run: "while true; do :; done"}}
	report, _, err = run(t, p, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatusFailed, report.Jobs[0].Status)
}

func TestRunContext(t *testing.T) {
	cancelled := func() context.Context {
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		return ctx
	}

	tests := []struct {
		name       string
		ctx        func() context.Context
		pipeline   v1.Pipeline
		jobs       int
		status     Status
		expectErr  error
		ran        []string
		notRan     []string
		phases     map[v1.Phase]Status
		afterSteps []Status
	}{
		{
			name: "cancelled before the job starts",
			ctx:  cancelled,
			pipeline: v1.Pipeline{
				Matrix:       v1.Matrix{{OS: schema.PlatformLinux}},
				Install:      []v1.Step{{Run: "echo ran > install.txt"}},
				Test:         []v1.Step{{Run: "echo ran > test.txt"}},
				AfterFailure: []v1.Step{{Run: "echo ran > always.txt", If: "always()"}},
			},
			status:    StatusCancelled,
			expectErr: context.Canceled,
			notRan:    []string{"install.txt", "test.txt", "always.txt"},
		},
		{
			name: "job timeout expires between steps",
			pipeline: v1.Pipeline{
				Timeout: "1ns",
				Matrix:  v1.Matrix{{OS: schema.PlatformLinux}},
				Test:    []v1.Step{{Run: "sleep 0.3; echo ran > test.txt"}},
				AfterFailure: []v1.Step{
					{Run: "echo ran > plain.txt"},
					{Run: "echo ran > always.txt", If: "always()"},
					{Run: "echo ran > cancelled.txt", If: "cancelled()"},
					{Run: "echo ran > failure.txt", If: "failure()"},
				},
			},
			status:    StatusFailed,
			expectErr: context.DeadlineExceeded,
			ran:       []string{"always.txt", "cancelled.txt"},
			notRan:    []string{"test.txt", "plain.txt", "failure.txt"},
			phases: map[v1.Phase]Status{
				v1.PhaseTest:         StatusFailed,
				v1.PhaseAfterSuccess: StatusSkipped,
			},
			afterSteps: []Status{StatusSkipped, StatusSucceeded, StatusSucceeded, StatusSkipped},
		},
		{
			name: "queued jobs never start",
			ctx:  cancelled,
			jobs: 1,
			pipeline: v1.Pipeline{
				Matrix: v1.Matrix{{OS: schema.PlatformLinux}, {OS: schema.PlatformWindows}, {OS: schema.PlatformMacOS}},
				Test:   []v1.Step{{Run: `echo ran > "$CIMATRIX_OS.txt"`}},
			},
			status:    StatusCancelled,
			expectErr: context.Canceled,
			notRan:    []string{"linux.txt", "windows.txt", "osx.txt"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := t.Context()
			if tt.ctx != nil {
				ctx = tt.ctx()
			}

			var dir string
			report, _, err := runContext(t, ctx, tt.pipeline, func(o *RuntimeOptions) {
				o.Jobs = tt.jobs
				dir = o.Dir
			})
			require.ErrorIs(t, err, tt.expectErr)
			require.NotNil(t, report)

			for _, j := range report.Jobs {
				assert.Equal(t, tt.status, j.Status, j.Name)
			}
			for _, name := range tt.ran {
				assert.FileExists(t, filepath.Join(dir, name))
			}
			for _, name := range tt.notRan {
				assert.NoFileExists(t, filepath.Join(dir, name))
			}

			if tt.phases != nil {
				job := report.Jobs[0]
				phases := phaseStatuses(job)
				for phase, status := range tt.phases {
					assert.Equal(t, status, phases[phase], phase)
				}
				pr, ok := job.Phase(v1.PhaseAfterFailure)
				require.True(t, ok)
				assert.Equal(t, tt.afterSteps, stepStatuses(pr))
			}
		})
	}
}

func TestRunDry(t *testing.T) {
	p := bioviz()
	p.Install = append(p.Install, v1.Step{Run: "echo touched > touched.txt"})
	p.Test = append(p.Test, v1.Step{Run: `echo ${{ env "UNSET" }}`, If: "failure()"})

	rec := &recorder{}
	var dir string
	report, out, err := run(t, p, func(o *RuntimeOptions) {
		o.Dry = true
		o.Recorder = rec
		o.Provisioner = nil
		dir = o.Dir
	})
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NoFileExists(t, filepath.Join(dir, "touched.txt"))
	assert.Empty(t, rec.reports)

	for _, j := range report.Jobs {
		assert.Equal(t, StatusPassed, j.Status, j.Name)
	}
}

func TestSelectJobs(t *testing.T) {
	matrix := v1.Matrix{
		{OS: schema.PlatformLinux},
		{Name: "win-py312", OS: schema.PlatformWindows},
		{OS: schema.PlatformMacOS},
	}

	jobs, err := SelectJobs(matrix, nil)
	require.NoError(t, err)
	assert.Len(t, jobs, 3)

	jobs, err = SelectJobs(matrix, []string{"darwin", "win-py312"})
	require.NoError(t, err)
	assert.Equal(t, []string{"win-py312", "osx"}, v1.Matrix(jobs).Names())

	jobs, err = SelectJobs(matrix, []string{"windows"})
	require.NoError(t, err)
	assert.Equal(t, []string{"win-py312"}, v1.Matrix(jobs).Names())

	_, err = SelectJobs(matrix, []string{"linux", "freebsd"})
	require.EqualError(t, err, `no job matches "freebsd", available: [linux, win-py312, osx]`)
}
