// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

package builtins

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-yaml"
)

// DescriptorEnvVar holds the pipeline's environment descriptor path in every step environment
const DescriptorEnvVar = "CIMATRIX_DESCRIPTOR"

// EnvironmentDescriptor is a conda style environment file
type EnvironmentDescriptor struct {
	Name         string   `yaml:"name"`
	Channels     []string `yaml:"channels"`
	Dependencies []any    `yaml:"dependencies"`
}

// Packages returns the flattened package specs, pip sub-lists included
func (d EnvironmentDescriptor) Packages() []string {
	var out []string
	for _, dep := range d.Dependencies {
		switch v := dep.(type) {
		case string:
			out = append(out, v)
		case map[string]any:
			for _, nested := range v {
				list, ok := nested.([]any)
				if !ok {
					continue
				}
				for _, item := range list {
					if s, ok := item.(string); ok {
						out = append(out, s)
					}
				}
			}
		}
	}
	return out
}

// ReadDescriptor parses an environment descriptor
func ReadDescriptor(r io.Reader) (EnvironmentDescriptor, error) {
	var d EnvironmentDescriptor

	data, err := io.ReadAll(r)
	if err != nil {
		return d, err
	}

	if err := yaml.Unmarshal(data, &d); err != nil {
		return d, err
	}

	if len(d.Dependencies) == 0 {
		return d, fmt.Errorf("no dependencies declared")
	}

	return d, nil
}

// descriptor checks the environment descriptor exists and parses before it is materialized
type descriptor struct {
	Path string `json:"path,omitempty" jsonschema:"description=Path to the environment descriptor, defaults to the pipeline descriptor"`
}

// Execute the builtin
func (b *descriptor) Execute(ctx context.Context) (map[string]any, error) {
	logger := log.FromContext(ctx)
	rt := RuntimeFromContext(ctx)

	p := b.Path
	if p == "" {
		p = rt.Getenv(DescriptorEnvVar)
	}
	if p == "" {
		return nil, fmt.Errorf("no environment descriptor configured")
	}

	f, err := rt.Fs.Open(rt.Path(p))
	if err != nil {
		return nil, fmt.Errorf("environment descriptor: %w", err)
	}
	defer f.Close()

	d, err := ReadDescriptor(f)
	if err != nil {
		return nil, fmt.Errorf("environment descriptor %s: %w", p, err)
	}

	pkgs := d.Packages()
	logger.Printf("environment %q: %d packages from [%s]", d.Name, len(pkgs), strings.Join(d.Channels, ", "))

	return map[string]any{
		"name":         d.Name,
		"channels":     strings.Join(d.Channels, ","),
		"dependencies": len(pkgs),
		"path":         p,
	}, nil
}
