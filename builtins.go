// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

package cimatrix

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/afero"

	"github.com/bioviz/cimatrix/builtins"
	v1 "github.com/bioviz/cimatrix/schema/v1"
)

// ExecuteBuiltin looks up the builtin named by the step's uses, decodes the templated `with` map onto it, then calls its Execute method
func ExecuteBuiltin(ctx context.Context, step v1.Step, sc stepContext) (map[string]any, error) {
	name, ok := step.Builtin()
	if !ok {
		return nil, fmt.Errorf("%s is not a builtin", step.Uses)
	}
	logger := log.FromContext(ctx)

	builtin := builtins.Get(name)
	if builtin == nil {
		return nil, fmt.Errorf("%s not found", step.Uses)
	}

	rendered, err := TemplateWithMap(ctx, sc.job, sc.env, sc.outputs, step.With, sc.dry)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", step.Uses, err)
	}

	if sc.dry {
		logger.Info("dry run", "builtin", name)
		printBuiltin(logger, step.Uses, rendered)
		return nil, nil
	}

	if rendered != nil {
		config := &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			TagName:          "json",
			Result:           builtin,
		}
		decoder, err := mapstructure.NewDecoder(config)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", step.Uses, err)
		}
		if err := decoder.Decode(rendered); err != nil {
			return nil, fmt.Errorf("%s: %w", step.Uses, err)
		}
	}

	logger.Debug(">", "builtin", name, "with", builtin)

	fsys := sc.fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	ctx = builtins.WithRuntime(ctx, builtins.Runtime{
		Dir: sc.dir,
		Env: sc.env,
		Fs:  fsys,
	})

	result, err := builtin.Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", step.Uses, err)
	}

	return result, nil
}
