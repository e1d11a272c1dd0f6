// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

// Package builtins provides the structured directives a pipeline step can call with `uses: builtin:<name>`
package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

// Builtin is implemented by pointers to structs, `with` is decoded onto the struct before Execute
type Builtin interface {
	Execute(ctx context.Context) (map[string]any, error)
}

type registry struct {
	mu        sync.RWMutex
	factories map[string]func() Builtin
}

var builtins = &registry{
	factories: map[string]func() Builtin{
		"echo":       func() Builtin { return &echo{} },
		"fetch":      func() Builtin { return &fetch{} },
		"descriptor": func() Builtin { return &descriptor{} },
		"upload":     func() Builtin { return &upload{} },
	},
}

// Get returns a fresh instance of the named builtin, or nil
func Get(name string) Builtin {
	builtins.mu.RLock()
	factory, ok := builtins.factories[name]
	builtins.mu.RUnlock()

	if !ok {
		return nil
	}
	return factory()
}

// Register adds a builtin under name
func Register(name string, factory func() Builtin) error {
	switch {
	case name == "":
		return errors.New("builtin name cannot be empty")
	case factory == nil:
		return errors.New("registration function cannot be nil")
	}

	builtins.mu.Lock()
	defer builtins.mu.Unlock()

	if _, ok := builtins.factories[name]; ok {
		return fmt.Errorf("%q is already registered", name)
	}
	builtins.factories[name] = factory
	return nil
}

// Names returns every registered builtin, sorted
func Names() []string {
	builtins.mu.RLock()
	defer builtins.mu.RUnlock()

	return slices.Sorted(maps.Keys(builtins.factories))
}

// Schema reflects the `with` parameters a builtin accepts
//
// Returns nil if the builtin doesn't exist
func Schema(name string) *jsonschema.Schema {
	b := Get(name)
	if b == nil {
		return nil
	}
	reflector := jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	return reflector.Reflect(b)
}

// ValidateWith checks a step's `with` map against the builtin's parameters
func ValidateWith(name string, with map[string]any) error {
	s := Schema(name)
	if s == nil {
		return fmt.Errorf("%s not found", name)
	}

	b, err := json.Marshal(s)
	if err != nil {
		return err
	}

	if with == nil {
		with = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(b), gojsonschema.NewGoLoader(with))
	if err != nil {
		return err
	}

	var errs []error
	for _, re := range result.Errors() {
		errs = append(errs, errors.New(re.String()))
	}
	return errors.Join(errs...)
}
