// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

package cimatrix

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/bioviz/cimatrix/schema"
	v1 "github.com/bioviz/cimatrix/schema/v1"
)

// ErrPlatformUnavailable is returned when a job's platform cannot run on this host
var ErrPlatformUnavailable = errors.New("platform unavailable on this host")

// Machine is a provisioned build machine
type Machine struct {
	// Dir is the working directory steps run in
	Dir string
	// Scratch is a per-job directory removed after the job
	Scratch string
	// Env is exported to every step on the machine
	Env map[string]string
}

// Provisioner prepares a machine for a job
//
// The returned cleanup func must be called once the job finishes
type Provisioner interface {
	Provision(ctx context.Context, job v1.Job) (*Machine, func() error, error)
}

// LocalProvisioner runs jobs on the current host
type LocalProvisioner struct {
	Fs afero.Fs
	// Dir is the working directory, defaults to the process's
	Dir string
	// Emulate runs jobs for other platforms on this host
	Emulate bool
	// Host overrides the detected host platform
	Host schema.Platform
}

var _ Provisioner = (*LocalProvisioner)(nil)

// Provision creates a scratch directory for the job
func (lp *LocalProvisioner) Provision(ctx context.Context, job v1.Job) (*Machine, func() error, error) {
	host := lp.Host
	if host == "" {
		host = schema.HostPlatform()
	}

	logger := log.FromContext(ctx)

	if job.OS != host {
		if !lp.Emulate {
			return nil, nil, fmt.Errorf("%s on %s: %w", job.OS, host, ErrPlatformUnavailable)
		}
		logger.Warn("emulating", "os", job.OS, "host", host)
	}

	fsys := lp.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}

	dir := lp.Dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, nil, err
		}
		dir = wd
	}

	scratch, err := afero.TempDir(fsys, "", "cimatrix-"+job.Label()+"-")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}

	logger.Debug("provisioned", "job", job.Label(), "image", job.Image, "scratch", scratch)

	m := &Machine{
		Dir:     dir,
		Scratch: scratch,
		Env: map[string]string{
			EnvScratch: scratch,
		},
	}

	cleanup := func() error {
		return fsys.RemoveAll(scratch)
	}

	return m, cleanup, nil
}
