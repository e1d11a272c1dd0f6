// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

package cimatrix

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"github.com/bioviz/cimatrix/builtins"
	"github.com/bioviz/cimatrix/schema"
	v1 "github.com/bioviz/cimatrix/schema/v1"
)

// Variables exported to every step
const (
	EnvLinux   = "CIMATRIX_LINUX"
	EnvOS      = "CIMATRIX_OS"
	EnvJob     = "CIMATRIX_JOB"
	EnvImage   = "CIMATRIX_IMAGE"
	EnvScratch = "CIMATRIX_SCRATCH"
	EnvCI      = "CI"
)

// EnvFromList converts KEY=VALUE pairs into a map, later keys win
func EnvFromList(list []string) map[string]string {
	env := make(map[string]string, len(list))
	for _, kv := range list {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}
	return env
}

// EnvToList converts an env map into sorted KEY=VALUE pairs
func EnvToList(env map[string]string) []string {
	keys := slices.Sorted(maps.Keys(env))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// mergeEnv layers env maps over base, coercing values to strings
func mergeEnv(base map[string]string, layers ...schema.Env) (map[string]string, error) {
	merged := maps.Clone(base)
	if merged == nil {
		merged = make(map[string]string)
	}
	for _, layer := range layers {
		for k, v := range layer {
			s, err := cast.ToStringE(v)
			if err != nil {
				return nil, fmt.Errorf("env %s: %w", k, err)
			}
			merged[k] = s
		}
	}
	return merged, nil
}

// jobEnv computes the environment shared by every step of a job
func jobEnv(base map[string]string, p v1.Pipeline, job v1.Job, m *Machine) (map[string]string, error) {
	env, err := mergeEnv(base, p.Env, job.Env)
	if err != nil {
		return nil, err
	}

	env[EnvCI] = "true"
	env[EnvLinux] = strconv.FormatBool(job.Linux())
	env[EnvOS] = job.OS.String()
	env[EnvJob] = job.Label()
	env[EnvImage] = job.Image
	if p.Descriptor != "" {
		env[builtins.DescriptorEnvVar] = p.Descriptor
	}
	if m != nil {
		maps.Copy(env, m.Env)
	}
	return env, nil
}
