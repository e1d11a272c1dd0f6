// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

package cimatrix

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"slices"
	"strings"
	"sync"
	"text/template"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"

	"github.com/bioviz/cimatrix/schema"
	v1 "github.com/bioviz/cimatrix/schema/v1"
)

// shortcuts stores key-value pairs for the "which" template function
var shortcuts = sync.Map{}

// RegisterWhichShortcut registers a key-value pair to be expanded during the "which" template function
func RegisterWhichShortcut(key, value string) {
	shortcuts.Store(key, value)
}

// TemplateData is the dot value of a templated script
type TemplateData struct {
	OS       string
	ARCH     string
	PLATFORM string
	JOB      string
	IMAGE    string
}

func templateData(job v1.Job) TemplateData {
	return TemplateData{
		OS:       job.OS.String(),
		ARCH:     runtime.GOARCH,
		PLATFORM: fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		JOB:      job.Label(),
		IMAGE:    job.Image,
	}
}

// TemplateString renders str with `${{ }}` delimiters
//
// Missing env keys and outputs are errors, except during a dry run where they render as placeholders.
func TemplateString(ctx context.Context, job v1.Job, env map[string]string, previousOutputs CommandOutputs, str string, dry bool) (string, error) {
	if !strings.Contains(str, "${{") {
		return str, nil
	}

	envKeys := make([]string, 0, len(env))
	for k := range env {
		envKeys = append(envKeys, k)
	}
	slices.Sort(envKeys)

	logger := log.FromContext(ctx)
	style := lipgloss.NewStyle().Foreground(lipgloss.Color("#FFBF00")) // amber

	which := func(key string) (string, error) {
		value, ok := shortcuts.Load(key)
		if !ok {
			return exec.LookPath(key)
		}
		full, ok := value.(string)
		if !ok {
			return "", fmt.Errorf("shortcut %q (%T) is not of type string", key, value)
		}
		return full, nil
	}

	fm := template.FuncMap{
		"env": func(key string) (string, error) {
			v, ok := env[key]
			if ok {
				return v, nil
			}
			if dry {
				logger.Warnf("env %q is not set", key)
				return style.Render(fmt.Sprintf("❯ env %s ❮", key)), nil
			}
			return "", fmt.Errorf("env %q is not set", key)
		},
		"from": func(stepName, id string) (any, error) {
			stepOutputs, ok := previousOutputs[stepName]
			if !ok {
				if dry {
					logger.Warnf("no outputs from step %q", stepName)
					return style.Render(fmt.Sprintf("❯ from %s %s ❮", stepName, id)), nil
				}
				return "", fmt.Errorf("no outputs from step %q", stepName)
			}
			v, ok := stepOutputs[id]
			if ok {
				return v, nil
			}
			if dry {
				logger.Warnf("no output %q from %q", id, stepName)
				return style.Render(fmt.Sprintf("❯ from %s %s ❮", stepName, id)), nil
			}
			return "", fmt.Errorf("no output %q from step %q", id, stepName)
		},
		"which": which,
	}

	tmpl, err := template.New("expression evaluator").Funcs(fm).Option("missingkey=error").Delims("${{", "}}").Parse(str)
	if err != nil {
		return "", err
	}

	var result strings.Builder
	if err := tmpl.Execute(&result, templateData(job)); err != nil {
		return "", err
	}

	return result.String(), nil
}

// TemplateWithMap recursively processes a With map and templates all string values
func TemplateWithMap(ctx context.Context, job v1.Job, env map[string]string, previousOutputs CommandOutputs, withMap schema.With, dry bool) (schema.With, error) {
	if len(withMap) == 0 {
		return nil, nil
	}

	result := make(schema.With, len(withMap))
	for k, v := range withMap {
		templated, err := templateValue(ctx, job, env, previousOutputs, v, dry)
		if err != nil {
			return nil, err
		}
		result[k] = templated
	}
	return result, nil
}

func templateValue(ctx context.Context, job v1.Job, env map[string]string, previousOutputs CommandOutputs, v any, dry bool) (any, error) {
	switch val := v.(type) {
	case string:
		return TemplateString(ctx, job, env, previousOutputs, val, dry)
	case map[string]any:
		return TemplateWithMap(ctx, job, env, previousOutputs, val, dry)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			templated, err := templateValue(ctx, job, env, previousOutputs, item, dry)
			if err != nil {
				return nil, err
			}
			out[i] = templated
		}
		return out, nil
	default:
		return v, nil
	}
}
