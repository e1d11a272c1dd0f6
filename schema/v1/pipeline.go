// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

// Package v1 provides the v1 schema of a cimatrix pipeline file
package v1

import (
	"github.com/invopop/jsonschema"

	"github.com/bioviz/cimatrix/schema"
)

// SchemaVersion is the current schema version for pipelines
const SchemaVersion = "v1"

// Pipeline represents a ".cimatrix.yaml" file
type Pipeline struct {
	SchemaVersion string `json:"schema-version"`
	// Name is a human-readable pipeline name
	Name string `json:"name,omitempty"`
	// Descriptor is the path to the environment descriptor the install phase materializes
	Descriptor string `json:"descriptor,omitempty"`
	// Env is exported to every step of every job
	Env schema.Env `json:"env,omitempty"`
	// Timeout bounds a single job
	Timeout string `json:"timeout,omitempty"`
	// Matrix lists the platforms to run against
	Matrix Matrix `json:"matrix"`

	BeforeInstall []Step `json:"before-install,omitempty"`
	Install       []Step `json:"install,omitempty"`
	Test          []Step `json:"test,omitempty"`
	AfterSuccess  []Step `json:"after-success,omitempty"`
	AfterFailure  []Step `json:"after-failure,omitempty"`
}

// JSONSchemaExtend extends the JSON schema for a pipeline
func (Pipeline) JSONSchemaExtend(schema *jsonschema.Schema) {
	if schemaVersion, ok := schema.Properties.Get("schema-version"); ok && schemaVersion != nil {
		schemaVersion.Description = "Pipeline schema version."
		schemaVersion.Enum = []any{SchemaVersion}
	}
	if env, ok := schema.Properties.Get("env"); ok && env != nil {
		env.Description = "Environment variables exported to every step"
		env.PropertyNames = &jsonschema.Schema{
			Pattern: EnvVariablePattern.String(),
		}
	}
	if timeout, ok := schema.Properties.Get("timeout"); ok && timeout != nil {
		timeout.Description = "Maximum duration of a single job (e.g. 45m)"
	}
	if matrix, ok := schema.Properties.Get("matrix"); ok && matrix != nil {
		var one uint64 = 1
		matrix.Description = "Build matrix, one job per entry"
		matrix.MinItems = &one
	}
	for _, phase := range Phases() {
		if steps, ok := schema.Properties.Get(phase.String()); ok && steps != nil {
			steps.Description = phase.Description()
		}
	}
}

// Steps returns the declared steps of a phase
func (p Pipeline) Steps(phase Phase) []Step {
	switch phase {
	case PhaseBeforeInstall:
		return p.BeforeInstall
	case PhaseInstall:
		return p.Install
	case PhaseTest:
		return p.Test
	case PhaseAfterSuccess:
		return p.AfterSuccess
	case PhaseAfterFailure:
		return p.AfterFailure
	}
	return nil
}

// Matrix is the ordered list of jobs in a pipeline
type Matrix []Job

// Find returns a job by name
func (m Matrix) Find(name string) (Job, bool) {
	for _, job := range m {
		if job.Label() == name {
			return job, true
		}
	}
	return Job{}, false
}

// Names returns the job names in declaration order
func (m Matrix) Names() []string {
	names := make([]string, 0, len(m))
	for _, job := range m {
		names = append(names, job.Label())
	}
	return names
}

// Job is a single entry of the build matrix
type Job struct {
	// Name of the job, defaults to the platform label
	Name string `json:"name,omitempty"`
	// OS is the platform label of the build machine
	OS schema.Platform `json:"os"`
	// Image is the VM image the job targets
	Image string `json:"image,omitempty"`
	// Env is exported to every step of this job, overriding pipeline env
	Env schema.Env `json:"env,omitempty"`
	// Shell is the default shell for the job's run steps
	Shell string `json:"shell,omitempty"`
	// AllowFailure keeps a failing job from failing the run
	AllowFailure bool `json:"allow-failure,omitempty"`
}

// JSONSchemaExtend extends the JSON schema for a job
func (Job) JSONSchemaExtend(schema *jsonschema.Schema) {
	schema.Description = "A build matrix entry"
	if name, ok := schema.Properties.Get("name"); ok && name != nil {
		name.Pattern = IDPattern.String()
	}
	if shell, ok := schema.Properties.Get("shell"); ok && shell != nil {
		shell.Enum = shellEnum()
	}
	if image, ok := schema.Properties.Get("image"); ok && image != nil {
		image.Description = "VM image label (informational when running locally)"
	}
}

// Label returns the job name, falling back to the platform label
func (j Job) Label() string {
	if j.Name != "" {
		return j.Name
	}
	return j.OS.String()
}

// Linux reports whether the job targets the Linux-like image
func (j Job) Linux() bool {
	return j.OS == schema.PlatformLinux
}

// PipelineSchema returns a JSON schema for a cimatrix pipeline
func PipelineSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	schema := reflector.Reflect(&Pipeline{})

	schema.ID = "https://raw.githubusercontent.com/bioviz/cimatrix/main/schema/v1/schema.json"

	return schema
}
