// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

package v1

// Phase names an ordered list of steps within a job
type Phase string

const (
	// PhaseBeforeInstall prepares the machine (bootstrap installers, package manager config)
	PhaseBeforeInstall Phase = "before-install"
	// PhaseInstall materializes dependencies and installs the project under test
	PhaseInstall Phase = "install"
	// PhaseTest runs the test command
	PhaseTest Phase = "test"
	// PhaseAfterSuccess runs only when the test phase exited zero
	PhaseAfterSuccess Phase = "after-success"
	// PhaseAfterFailure runs only when the install or test phase failed
	PhaseAfterFailure Phase = "after-failure"
)

// Phases returns every phase in declaration order
func Phases() []Phase {
	return []Phase{PhaseBeforeInstall, PhaseInstall, PhaseTest, PhaseAfterSuccess, PhaseAfterFailure}
}

// String implements fmt.Stringer
func (p Phase) String() string {
	return string(p)
}

// Description returns a one line description of the phase
func (p Phase) Description() string {
	switch p {
	case PhaseBeforeInstall:
		return "Steps run before install, typically bootstrapping the package manager"
	case PhaseInstall:
		return "Steps that materialize dependencies and install the project under test"
	case PhaseTest:
		return "Steps that run the test suite"
	case PhaseAfterSuccess:
		return "Steps run only if the test phase succeeded"
	case PhaseAfterFailure:
		return "Steps run only if the install or test phase failed"
	}
	return ""
}
