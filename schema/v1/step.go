// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

package v1

import (
	"slices"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/bioviz/cimatrix/schema"
)

// BuiltinPrefix prefixes the uses field of a builtin step
const BuiltinPrefix = "builtin:"

// Shells returns the shells a run step can be executed with
//
// "virtual" is an in-process POSIX shell that does not depend on the host
func Shells() []string {
	return []string{"sh", "bash", "pwsh", "powershell", "cmd", "virtual"}
}

func shellEnum() []any {
	out := []any{}
	for _, s := range Shells() {
		out = append(out, s)
	}
	return out
}

// Step is a single step in a phase
//
// Only one of `run` or `uses` may be set
type Step struct {
	// Run is the command/script to run
	Run string `json:"run,omitempty"`
	// Uses is a structured directive, e.g. builtin:descriptor
	Uses string `json:"uses,omitempty"`
	// With is a map of parameters for a builtin
	With schema.With `json:"with,omitempty"`
	// ID is a unique identifier for the step, required to access step outputs
	ID string `json:"id,omitempty"`
	// Name is a human-readable name for the step
	Name string `json:"name,omitempty"`
	// If controls whether the step is executed
	If string `json:"if,omitempty"`
	// OS limits the step to the listed platforms
	OS []schema.Platform `json:"os,omitempty"`
	// Env is exported to the step, overriding job and pipeline env
	Env schema.Env `json:"env,omitempty"`
	// Timeout bounds the step
	Timeout string `json:"timeout,omitempty"`
	// Shell overrides the job's shell
	Shell string `json:"shell,omitempty"`
	// Dir is the directory to run the step in, relative to the job's working directory
	Dir string `json:"dir,omitempty"`
}

// JSONSchemaExtend extends the JSON schema for a step
func (Step) JSONSchemaExtend(schema *jsonschema.Schema) {
	schema.Description = "A single step, either a script (run) or a builtin (uses)"

	if run, ok := schema.Properties.Get("run"); ok && run != nil {
		run.Description = "Command/script to run"
	}
	if uses, ok := schema.Properties.Get("uses"); ok && uses != nil {
		uses.Description = "Builtin to call, e.g. builtin:descriptor"
		uses.Pattern = "^" + BuiltinPrefix + ".+$"
	}
	if id, ok := schema.Properties.Get("id"); ok && id != nil {
		id.Pattern = IDPattern.String()
	}
	if cond, ok := schema.Properties.Get("if"); ok && cond != nil {
		cond.Description = "Expression that controls whether the step is executed"
		cond.Examples = []any{"always()", "failure()", "linux()", `os == "windows"`}
	}
	if shell, ok := schema.Properties.Get("shell"); ok && shell != nil {
		shell.Enum = shellEnum()
	}
	if dir, ok := schema.Properties.Get("dir"); ok && dir != nil {
		dir.Description = "Relative directory to run the step in"
	}
	if env, ok := schema.Properties.Get("env"); ok && env != nil {
		env.PropertyNames = &jsonschema.Schema{
			Pattern: EnvVariablePattern.String(),
		}
	}

	schema.OneOf = []*jsonschema.Schema{
		{Required: []string{"run"}},
		{Required: []string{"uses"}},
	}
}

// RunsOn reports whether the step applies to the given platform
func (s Step) RunsOn(p schema.Platform) bool {
	return len(s.OS) == 0 || slices.Contains(s.OS, p)
}

// Builtin returns the builtin name of a uses step
func (s Step) Builtin() (string, bool) {
	if !strings.HasPrefix(s.Uses, BuiltinPrefix) {
		return "", false
	}
	name, _, _ := strings.Cut(strings.TrimPrefix(s.Uses, BuiltinPrefix), "@")
	return name, true
}

// Title returns a short display name for the step
func (s Step) Title() string {
	switch {
	case s.Name != "":
		return s.Name
	case s.Uses != "":
		return s.Uses
	}
	first, _, _ := strings.Cut(strings.TrimSpace(s.Run), "\n")
	return first
}
