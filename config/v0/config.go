// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

// Package v0 provides the schema for v0 of the system config file for cimatrix
//
// v0 allows for breaking changes without a major version increase
package v0

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/goccy/go-yaml"
	"github.com/invopop/jsonschema"
	"github.com/spf13/afero"
	"github.com/xeipuuv/gojsonschema"

	"github.com/bioviz/cimatrix/config"
	"github.com/bioviz/cimatrix/schema"
)

// SchemaVersion is the current schema version for configs
const SchemaVersion = "v0"

// Config is the system configuration file for cimatrix
type Config struct {
	SchemaVersion string          `json:"schema-version"`
	Executor      config.Executor `json:"executor,omitempty"`
	Jobs          int             `json:"jobs,omitempty"`
	Emulate       bool            `json:"emulate,omitempty"`
	History       History         `json:"history"`
}

// History configures the run history database
type History struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// JSONSchemaExtend extends the JSON schema for a config
func (Config) JSONSchemaExtend(schema *jsonschema.Schema) {
	if schemaVersion, ok := schema.Properties.Get("schema-version"); ok && schemaVersion != nil {
		schemaVersion.Description = "Config schema version"
		schemaVersion.Enum = []any{SchemaVersion}
	}
	if jobs, ok := schema.Properties.Get("jobs"); ok && jobs != nil {
		jobs.Description = "Maximum number of jobs run at once, 0 runs every job at once"
		jobs.Minimum = json.Number("0")
	}
	if emulate, ok := schema.Properties.Get("emulate"); ok && emulate != nil {
		emulate.Description = "Run jobs for other platforms on this host"
	}
}

// JSONSchemaExtend extends the JSON schema for the history settings
func (History) JSONSchemaExtend(schema *jsonschema.Schema) {
	if enabled, ok := schema.Properties.Get("enabled"); ok && enabled != nil {
		enabled.Description = "Record every run in the history database"
	}
	if path, ok := schema.Properties.Get("path"); ok && path != nil {
		path.Description = "Location of the history database, defaults to $HOME/.cimatrix/history.db"
	}
}

// Default returns a valid config populated with defaults
func Default() *Config {
	return &Config{
		SchemaVersion: SchemaVersion,
		Executor:      config.DefaultExecutor,
		History: History{
			Enabled: true,
		},
	}
}

// LoadConfig reads and validates a config
func LoadConfig(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var versioned schema.Versioned
	if err := yaml.Unmarshal(data, &versioned); err != nil {
		return nil, err
	}

	switch version := versioned.SchemaVersion; version {
	case SchemaVersion:
		cfg := Default()
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		return cfg, Validate(cfg)
	default:
		return nil, fmt.Errorf("unsupported config schema version: expected %q, got %q", SchemaVersion, version)
	}
}

// LoadConfigFile loads the config at name
//
// If the file does not exist, this function returns the default config
func LoadConfigFile(fsys afero.Fs, name string) (*Config, error) {
	f, err := fsys.Open(name)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg, err := LoadConfig(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", name, err)
	}
	return cfg, nil
}

// LoadDefaultConfig loads the config from $CIMATRIX_CONFIG or $HOME/.cimatrix/config.yaml
func LoadDefaultConfig() (*Config, error) {
	p, err := config.Path("")
	if err != nil {
		return nil, err
	}
	return LoadConfigFile(afero.NewOsFs(), p)
}

// Since every validation operation leverages the same config, only calculate it once
var schemaOnce = sync.OnceValues(func() (string, error) {
	s := Schema()
	b, err := json.Marshal(s)
	return string(b), err
})

// Validate checks if a config adheres to the JSON schema
func Validate(cfg *Config) error {
	schema, err := schemaOnce()
	if err != nil {
		return err
	}

	schemaLoader := gojsonschema.NewStringLoader(schema)

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(cfg))
	if err != nil {
		return err
	}

	if result.Valid() {
		return nil
	}

	var resErr error
	for _, err := range result.Errors() {
		resErr = errors.Join(resErr, errors.New(err.String()))
	}

	return resErr
}

// Schema returns the JSON schema for the Config type
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{DoNotReference: true}
	return reflector.Reflect(&Config{})
}
