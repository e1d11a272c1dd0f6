// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

// Package main is the entry point for the application
package main

import (
	"os"

	"github.com/bioviz/cimatrix/cmd"
)

func main() {
	os.Exit(cmd.Main())
}
