// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

package v1

import "regexp"

// IDPattern is the pattern for job names and step ids
var IDPattern = regexp.MustCompile(`^[_a-zA-Z][a-zA-Z0-9_-]*$`)

// EnvVariablePattern is the pattern for environment variable names
var EnvVariablePattern = regexp.MustCompile(`^[a-zA-Z_]+[a-zA-Z0-9_]*$`)
