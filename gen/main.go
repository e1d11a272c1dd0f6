// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

// Package main writes the JSON schemas of cimatrix files.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"github.com/bioviz/cimatrix"
	configv0 "github.com/bioviz/cimatrix/config/v0"
	v1 "github.com/bioviz/cimatrix/schema/v1"
)

func write(path string, schema *jsonschema.Schema) error {
	b, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}

func run(root string) error {
	files := map[string]*jsonschema.Schema{
		"cimatrix.schema.json": cimatrix.PipelineSchema(""),
		filepath.Join("schema", v1.SchemaVersion, "schema.json"):       cimatrix.PipelineSchema(v1.SchemaVersion),
		filepath.Join("config", configv0.SchemaVersion, "schema.json"): configv0.Schema(),
	}
	for name, schema := range files {
		if err := write(filepath.Join(root, name), schema); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func main() {
	// usage: `go run gen/main.go`
	if err := run(""); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
