// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

package cimatrix

import (
	"github.com/invopop/jsonschema"

	v1 "github.com/bioviz/cimatrix/schema/v1"
)

// PipelineSchema generates the schema for a given version, or a meta schema dispatching on schema-version
func PipelineSchema(version string) *jsonschema.Schema {
	if version == v1.SchemaVersion {
		return v1.PipelineSchema()
	}

	schema := &jsonschema.Schema{
		If: &jsonschema.Schema{
			Properties: jsonschema.NewProperties(),
		},
		Then:    v1.PipelineSchema(),
		ID:      "https://raw.githubusercontent.com/bioviz/cimatrix/main/cimatrix.schema.json",
		Version: jsonschema.Version,
	}

	schema.If.Properties.Set("schema-version", &jsonschema.Schema{
		Type: "string",
		Enum: []any{v1.SchemaVersion},
	})

	return schema
}
