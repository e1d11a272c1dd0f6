// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

// Package schema provides the pipeline types shared across schema versions
package schema

// Versioned is a tiny struct used to grab the schema version for a pipeline
type Versioned struct {
	// SchemaVersion is the pipeline schema that this pipeline follows
	SchemaVersion string `json:"schema-version"`
}

// With is a map of parameters passed to a builtin step
type With = map[string]any

// Env is a map of environment variable names to values
type Env = map[string]any
