// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/xeipuuv/gojsonschema"

	"github.com/bioviz/cimatrix/builtins"
	"github.com/bioviz/cimatrix/schema"
)

// Read reads a pipeline from a file
func Read(r io.Reader) (Pipeline, error) {
	if rs, ok := r.(io.Seeker); ok {
		_, err := rs.Seek(0, io.SeekStart)
		if err != nil {
			return Pipeline{}, err
		}
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return Pipeline{}, err
	}

	var versioned schema.Versioned
	if err := yaml.Unmarshal(data, &versioned); err != nil {
		return Pipeline{}, err
	}

	switch version := versioned.SchemaVersion; version {
	case SchemaVersion:
		var p Pipeline
		return p, yaml.Unmarshal(data, &p)
	default:
		return Pipeline{}, fmt.Errorf("unsupported schema version: expected %q, got %q", SchemaVersion, version)
	}
}

var schemaOnce = sync.OnceValues(func() (string, error) {
	s := PipelineSchema()
	b, err := json.Marshal(s)
	return string(b), err
})

func platformNames() string {
	names := make([]string, 0, len(schema.Platforms()))
	for _, p := range schema.Platforms() {
		names = append(names, p.String())
	}
	return strings.Join(names, ", ")
}

func validateEnv(path string, env schema.Env) error {
	for name := range env {
		if ok := EnvVariablePattern.MatchString(name); !ok {
			return fmt.Errorf("%s %q does not satisfy %q", path, name, EnvVariablePattern.String())
		}
	}
	return nil
}

func validateShell(path, shell string) error {
	if shell != "" && !slices.Contains(Shells(), shell) {
		return fmt.Errorf("%s %q is not one of [%s]", path, shell, strings.Join(Shells(), ", "))
	}
	return nil
}

// Validate validates a pipeline
func Validate(p Pipeline) error {
	if len(p.Matrix) == 0 {
		return errors.New("no jobs in matrix")
	}

	if p.Timeout != "" {
		if _, err := time.ParseDuration(p.Timeout); err != nil {
			return fmt.Errorf(".timeout %q is not a valid time duration", p.Timeout)
		}
	}

	if err := validateEnv(".env", p.Env); err != nil {
		return err
	}

	names := make(map[string]int, len(p.Matrix))

	for idx, job := range p.Matrix {
		if !job.OS.Valid() {
			return fmt.Errorf(".matrix[%d].os %q is not one of [%s]", idx, job.OS, platformNames())
		}

		name := job.Label()
		if ok := IDPattern.MatchString(name); !ok {
			return fmt.Errorf(".matrix[%d].name %q does not satisfy %q", idx, name, IDPattern.String())
		}
		if prev, ok := names[name]; ok {
			return fmt.Errorf(".matrix[%d] and .matrix[%d] have the same name %q", prev, idx, name)
		}
		names[name] = idx

		if err := validateShell(fmt.Sprintf(".matrix[%d].shell", idx), job.Shell); err != nil {
			return err
		}
		if err := validateEnv(fmt.Sprintf(".matrix[%d].env", idx), job.Env); err != nil {
			return err
		}
	}

	for _, phase := range Phases() {
		steps := p.Steps(phase)
		ids := make(map[string]int, len(steps))

		for idx, step := range steps {
			switch {
			case step.Uses != "" && step.Run != "":
				return fmt.Errorf(".%s[%d] has both run and uses fields set", phase, idx)
			case step.Uses == "" && step.Run == "":
				return fmt.Errorf(".%s[%d] must have one of [run, uses] fields set", phase, idx)
			}

			if step.Uses != "" {
				name, ok := step.Builtin()
				if !ok {
					return fmt.Errorf(".%s[%d].uses %q must start with %q", phase, idx, step.Uses, BuiltinPrefix)
				}
				if builtins.Get(name) == nil {
					return fmt.Errorf(".%s[%d].uses %q not found, available: [%s]", phase, idx, step.Uses, strings.Join(builtins.Names(), ", "))
				}
				if err := builtins.ValidateWith(name, step.With); err != nil {
					return fmt.Errorf(".%s[%d].with: %w", phase, idx, err)
				}
			}

			if step.ID != "" {
				if ok := IDPattern.MatchString(step.ID); !ok {
					return fmt.Errorf(".%s[%d].id %q does not satisfy %q", phase, idx, step.ID, IDPattern.String())
				}
				if prev, ok := ids[step.ID]; ok {
					return fmt.Errorf(".%s[%d] and .%s[%d] have the same ID %q", phase, prev, phase, idx, step.ID)
				}
				ids[step.ID] = idx
			}

			for _, p := range step.OS {
				if !p.Valid() {
					return fmt.Errorf(".%s[%d].os %q is not one of [%s]", phase, idx, p, platformNames())
				}
			}

			if step.Dir != "" && filepath.IsAbs(step.Dir) {
				return fmt.Errorf(".%s[%d].dir %q must not be absolute", phase, idx, step.Dir)
			}

			if step.Timeout != "" {
				if _, err := time.ParseDuration(step.Timeout); err != nil {
					return fmt.Errorf(".%s[%d].timeout %q is not a valid time duration", phase, idx, step.Timeout)
				}
			}

			if err := validateShell(fmt.Sprintf(".%s[%d].shell", phase, idx), step.Shell); err != nil {
				return err
			}
			if err := validateEnv(fmt.Sprintf(".%s[%d].env", phase, idx), step.Env); err != nil {
				return err
			}
		}
	}

	schema, err := schemaOnce()
	if err != nil {
		return err
	}

	schemaLoader := gojsonschema.NewStringLoader(schema)

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(p))
	if err != nil {
		return err
	}

	if result.Valid() {
		return nil
	}

	var resErr error
	for _, err := range result.Errors() {
		resErr = errors.Join(resErr, errors.New(err.String()))
	}

	return resErr
}

// ReadAndValidate reads and validates a pipeline
func ReadAndValidate(r io.Reader) (Pipeline, error) {
	p, err := Read(r)
	if err != nil {
		return Pipeline{}, err
	}
	return p, Validate(p)
}
