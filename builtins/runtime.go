// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

package builtins

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Runtime is the job state a builtin can see
type Runtime struct {
	// Dir is the working directory of the step
	Dir string
	// Env is the step's environment
	Env map[string]string
	// Fs is the filesystem builtins read and write through, defaults to the OS
	Fs afero.Fs
}

type runtimeKey struct{}

// WithRuntime returns a new context carrying rt
func WithRuntime(ctx context.Context, rt Runtime) context.Context {
	return context.WithValue(ctx, runtimeKey{}, rt)
}

// RuntimeFromContext returns the runtime stored in ctx
//
// A zero Runtime backed by the OS filesystem is returned when none was set
func RuntimeFromContext(ctx context.Context) Runtime {
	rt, _ := ctx.Value(runtimeKey{}).(Runtime)
	if rt.Fs == nil {
		rt.Fs = afero.NewOsFs()
	}
	return rt
}

// Getenv looks up key in the step environment, then the process environment
func (rt Runtime) Getenv(key string) string {
	if v, ok := rt.Env[key]; ok {
		return v
	}
	return os.Getenv(key)
}

// Path resolves p against the working directory
func (rt Runtime) Path(p string) string {
	if p == "" || filepath.IsAbs(p) || rt.Dir == "" {
		return p
	}
	return filepath.Join(rt.Dir, p)
}
