// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

package schema

import (
	"fmt"
	"runtime"

	"github.com/invopop/jsonschema"
)

// Platform is the label of a build machine family in the matrix
type Platform string

const (
	// PlatformLinux is the Linux-like image
	PlatformLinux Platform = "linux"
	// PlatformWindows is the Windows-like image
	PlatformWindows Platform = "windows"
	// PlatformMacOS is the macOS-like image
	PlatformMacOS Platform = "osx"
)

// Platforms returns every known platform label, in matrix display order
func Platforms() []Platform {
	return []Platform{PlatformLinux, PlatformWindows, PlatformMacOS}
}

// String implements fmt.Stringer
func (p Platform) String() string {
	return string(p)
}

// Valid reports whether p is one of the known labels
func (p Platform) Valid() bool {
	switch p {
	case PlatformLinux, PlatformWindows, PlatformMacOS:
		return true
	}
	return false
}

// JSONSchemaExtend restricts a platform to the known labels
func (Platform) JSONSchemaExtend(schema *jsonschema.Schema) {
	schema.Type = "string"
	schema.Description = "Platform label of the build machine"
	for _, p := range Platforms() {
		schema.Enum = append(schema.Enum, p.String())
	}
}

// ParsePlatform converts a string into a Platform
//
// "darwin" and "macos" are accepted as aliases for "osx"
func ParsePlatform(s string) (Platform, error) {
	switch s {
	case "darwin", "macos":
		return PlatformMacOS, nil
	}
	p := Platform(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown platform %q", s)
	}
	return p, nil
}

// HostPlatform returns the platform label of the machine cimatrix is running on
//
// Hosts that are none of the known families report as linux
func HostPlatform() Platform {
	return platformFromGOOS(runtime.GOOS)
}

func platformFromGOOS(goos string) Platform {
	switch goos {
	case "windows":
		return PlatformWindows
	case "darwin":
		return PlatformMacOS
	default:
		return PlatformLinux
	}
}
