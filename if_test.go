// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

package cimatrix

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bioviz/cimatrix/schema"
	v1 "github.com/bioviz/cimatrix/schema/v1"
)

// cancelledContext returns a context that is already cancelled
func cancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func TestIf(t *testing.T) {
	linux := v1.Job{OS: schema.PlatformLinux, Image: "xenial"}
	windows := v1.Job{Name: "win", OS: schema.PlatformWindows}

	tests := []struct {
		name        string
		inputExpr   string
		job         v1.Job
		env         map[string]string
		outputs     CommandOutputs
		dry         bool
		err         error
		ctx         context.Context
		expected    bool
		expectedErr string
	}{
		{
			name:     "empty expression with no error",
			expected: true,
		},
		{
			name:     "empty expression after failure",
			err:      fmt.Errorf("command failed"),
			expected: false,
		},
		{
			name:      "failure() returns false when no error",
			inputExpr: "failure()",
			expected:  false,
		},
		{
			name:      "failure() returns true after error",
			inputExpr: "failure()",
			err:       fmt.Errorf("command failed"),
			expected:  true,
		},
		{
			name:      "always() returns true",
			inputExpr: "always()",
			expected:  true,
		},
		{
			name:      "always() overrides failure",
			inputExpr: "always()",
			err:       fmt.Errorf("command failed"),
			expected:  true,
		},
		{
			name:      "always() short circuits other logic",
			inputExpr: "always() and failure()",
			expected:  true,
		},
		{
			name:      "cancelled() with cancelled context",
			inputExpr: "cancelled()",
			ctx:       cancelledContext(),
			expected:  true,
		},
		{
			name:     "empty expression with cancelled context",
			ctx:      cancelledContext(),
			expected: false,
		},
		{
			name:      "always() with cancelled context",
			inputExpr: "always()",
			ctx:       cancelledContext(),
			expected:  true,
		},
		{
			name:      "failure() does not opt in to a cancelled context",
			inputExpr: "failure()",
			err:       context.Canceled,
			ctx:       cancelledContext(),
			expected:  false,
		},
		{
			name:      "unrelated expression with cancelled context",
			inputExpr: "linux()",
			job:       linux,
			ctx:       cancelledContext(),
			expected:  false,
		},
		{
			name:      "cancelled() with live context",
			inputExpr: "cancelled()",
			expected:  false,
		},
		{
			name:      "linux() on linux",
			inputExpr: "linux()",
			job:       linux,
			expected:  true,
		},
		{
			name:      "linux() on windows",
			inputExpr: "linux()",
			job:       windows,
			expected:  false,
		},
		{
			name:      "not linux()",
			inputExpr: "!linux()",
			job:       windows,
			expected:  true,
		},
		{
			name:      "os variable",
			inputExpr: `os == "windows"`,
			job:       windows,
			expected:  true,
		},
		{
			name:      "job variable defaults to the os",
			inputExpr: `job == "linux" && image == "xenial"`,
			job:       linux,
			expected:  true,
		},
		{
			name:      "job variable uses the name",
			inputExpr: `job == "win"`,
			job:       windows,
			expected:  true,
		},
		{
			name:      "arch and host variables",
			inputExpr: fmt.Sprintf("arch == %q && host == %q", runtime.GOARCH, schema.HostPlatform()),
			expected:  true,
		},
		{
			name:      "env lookup",
			inputExpr: `env("COVERAGE") == "true"`,
			env:       map[string]string{"COVERAGE": "true"},
			expected:  true,
		},
		{
			name:      "missing env is nil",
			inputExpr: `env("COVERAGE") == nil`,
			expected:  true,
		},
		{
			name:      "from a previous step",
			inputExpr: `from("tests", "result") == "ok"`,
			outputs:   CommandOutputs{"tests": {"result": "ok"}},
			expected:  true,
		},
		{
			name:      "from a missing step",
			inputExpr: `from("tests", "result") == nil`,
			expected:  true,
		},
		{
			name:        "non-boolean result",
			inputExpr:   `"hello"`,
			expectedErr: "expression did not evaluate to a boolean",
		},
		{
			name:        "invalid syntax",
			inputExpr:   "failure(",
			expectedErr: "unexpected token EOF",
		},
		{
			name:      "dry run compiles then runs",
			inputExpr: "failure()",
			dry:       true,
			expected:  true,
		},
		{
			name:        "dry run still rejects invalid expressions",
			inputExpr:   "always(",
			dry:         true,
			expectedErr: "unexpected token EOF",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := tt.ctx
			if ctx == nil {
				ctx = t.Context()
			}
			ctx = log.WithContext(ctx, log.New(io.Discard))

			job := tt.job
			if job.OS == "" {
				job = linux
			}

			result, err := ShouldRun(ctx, tt.inputExpr, tt.err, Conditions{
				Job:     job,
				Env:     tt.env,
				Outputs: tt.outputs,
				Dry:     tt.dry,
			})

			if tt.expectedErr != "" {
				require.ErrorContains(t, err, tt.expectedErr)
				assert.False(t, result)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}
