// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

// Package config provides system-level configuration for cimatrix
package config

import (
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/spf13/pflag"
)

// Executor selects how run steps are executed
type Executor string

var _ pflag.Value = (*Executor)(nil)

const (
	// ExecutorShell runs each step with the shell it declares, installed on the host
	ExecutorShell Executor = "shell"
	// ExecutorVirtual runs every step with the in-process POSIX shell
	ExecutorVirtual Executor = "virtual"
	// DefaultExecutor is the executor used when none is specified
	DefaultExecutor Executor = ExecutorShell
)

// AvailableExecutors returns a list of available executors
func AvailableExecutors() []string {
	return []string{
		string(ExecutorShell),
		string(ExecutorVirtual),
	}
}

// String implements the pflag.Value and fmt.Stringer interfaces
func (e *Executor) String() string {
	return string(*e)
}

// Set implements the pflag.Value interface
func (e *Executor) Set(value string) error {
	switch value {
	case string(ExecutorShell):
		*e = ExecutorShell
	case string(ExecutorVirtual):
		*e = ExecutorVirtual
	default:
		return fmt.Errorf("invalid executor: %s", value)
	}
	return nil
}

// Type implements the pflag.Value interface
func (e *Executor) Type() string {
	return "string"
}

// JSONSchemaExtend extends the JSON schema for an executor
func (Executor) JSONSchemaExtend(schema *jsonschema.Schema) {
	schema.Description = "How run steps are executed"
	enum := []any{}
	for _, e := range AvailableExecutors() {
		enum = append(enum, e)
	}
	schema.Enum = enum
}
