// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

// Package main prints the JSON schema of a cimatrix file.
//
// usage: cimatrix-schema [pipeline|config]
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/bioviz/cimatrix"
	configv0 "github.com/bioviz/cimatrix/config/v0"
	v1 "github.com/bioviz/cimatrix/schema/v1"
)

func main() {
	kind := "pipeline"
	if len(os.Args) > 1 {
		kind = os.Args[1]
	}

	var schema *jsonschema.Schema
	switch kind {
	case "pipeline":
		schema = cimatrix.PipelineSchema(v1.SchemaVersion)
	case "config":
		schema = configv0.Schema()
	default:
		fmt.Fprintf(os.Stderr, "error: unknown schema %q, expected \"pipeline\" or \"config\"\n", kind)
		os.Exit(1)
	}

	b, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintln(os.Stdout, string(b))
}
