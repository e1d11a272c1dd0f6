// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

package config

import (
	"os"
	"path/filepath"
)

// DefaultFileName is the default file name for the config file
const DefaultFileName = "config.yaml"

// EnvVar overrides the location of the config file
const EnvVar = "CIMATRIX_CONFIG"

// DefaultDirectory returns the default directory for cimatrix configuration ($HOME/.cimatrix)
//
// Currently this relies upon the $HOME environment variable being set
func DefaultDirectory() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(homeDir, ".cimatrix"), nil
}

// Path resolves the config file location
//
// An explicit path wins over $CIMATRIX_CONFIG, which wins over $HOME/.cimatrix/config.yaml
func Path(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if p := os.Getenv(EnvVar); p != "" {
		return p, nil
	}
	dir, err := DefaultDirectory()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultFileName), nil
}
