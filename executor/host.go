// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

package executor

import (
	"context"
	"fmt"
	"os/exec"
)

// Host runs scripts with a shell installed on the host
type Host struct{}

// Args returns the binary and arguments used to run script under shell
func Args(shell, script string) (string, []string, error) {
	switch shell {
	case "bash":
		return "bash", []string{"-e", "-u", "-o", "pipefail", "-c", script}, nil
	case "pwsh", "powershell":
		return shell, []string{"-NoProfile", "-NonInteractive", "-Command", "$ErrorActionPreference = 'Stop';", script, "; if ((Test-Path -LiteralPath variable:\\LASTEXITCODE)) { exit $LASTEXITCODE }"}, nil
	case "cmd":
		return "cmd", []string{"/d", "/s", "/c", script}, nil
	case "", "sh":
		return "sh", []string{"-e", "-u", "-c", script}, nil
	default:
		return "", nil, fmt.Errorf("unsupported shell: %s", shell)
	}
}

// Execute runs the command's script as a child process
func (h *Host) Execute(ctx context.Context, c Command) error {
	bin, args, err := Args(c.Shell, c.Script)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Env = c.Env
	cmd.Dir = c.Dir
	cmd.Stdin = c.Stdin
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr

	return cmd.Run()
}
