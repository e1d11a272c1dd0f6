// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

package cimatrix

import (
	"context"
	"errors"
	"runtime"

	"github.com/expr-lang/expr"

	"github.com/bioviz/cimatrix/schema"
	v1 "github.com/bioviz/cimatrix/schema/v1"
)

// Conditions is everything a step's `if` expression can observe
type Conditions struct {
	Job     v1.Job
	Env     map[string]string
	Outputs CommandOutputs
	Dry     bool
}

// ShouldRun evaluates a step's `if` expression using expr as the engine
//
// An empty expression runs the step only when nothing has failed earlier in the phase.
// always() short circuits any other logic. Once ctx is done, only expressions that call
// always() or cancelled() can run a step. During a dry run every non-empty expression
// is compiled, then treated as true so the full plan is printed.
func ShouldRun(ctx context.Context, expression string, err error, c Conditions) (bool, error) {
	hasFailed := err != nil
	isCancelled := ctx != nil && ctx.Err() != nil

	if expression == "" {
		return !hasFailed && !isCancelled, nil
	}

	failure := expr.Function(
		"failure",
		func(_ ...any) (any, error) {
			return hasFailed, nil
		},
		new(func() bool),
	)

	var alwaysTriggered bool
	always := expr.Function(
		"always",
		func(_ ...any) (any, error) {
			alwaysTriggered = true
			return true, nil
		},
		new(func() bool),
	)

	var cancelledChecked bool
	cancelled := expr.Function(
		"cancelled",
		func(_ ...any) (any, error) {
			cancelledChecked = true
			return isCancelled, nil
		},
		new(func() bool),
	)

	linux := expr.Function(
		"linux",
		func(_ ...any) (any, error) {
			return c.Job.Linux(), nil
		},
		new(func() bool),
	)

	env := expr.Function(
		"env",
		func(params ...any) (any, error) {
			v, ok := c.Env[params[0].(string)]
			if !ok {
				return nil, nil
			}
			return v, nil
		},
		new(func(string) any),
	)

	from := expr.Function(
		"from",
		func(params ...any) (any, error) {
			stepOutputs, ok := c.Outputs[params[0].(string)]
			if !ok {
				return nil, nil
			}
			return stepOutputs[params[1].(string)], nil
		},
		new(func(string, string) any),
	)

	vars := map[string]any{
		"os":    c.Job.OS.String(),
		"arch":  runtime.GOARCH,
		"host":  schema.HostPlatform().String(),
		"job":   c.Job.Label(),
		"image": c.Job.Image,
	}

	program, err := expr.Compile(expression, expr.Env(vars), failure, always, cancelled, linux, env, from)
	if err != nil {
		return false, err
	}

	if c.Dry {
		return true, nil
	}

	out, err := expr.Run(program, vars)
	if err != nil {
		return false, err
	}

	if alwaysTriggered {
		return true, nil
	}

	b, ok := out.(bool)
	if !ok {
		return false, errors.New("expression did not evaluate to a boolean")
	}
	if isCancelled && !cancelledChecked {
		return false, nil
	}
	return b, nil
}
