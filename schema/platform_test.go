// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlatform(t *testing.T) {
	testCases := []struct {
		in          string
		expected    Platform
		expectedErr string
	}{
		{in: "linux", expected: PlatformLinux},
		{in: "windows", expected: PlatformWindows},
		{in: "osx", expected: PlatformMacOS},
		{in: "darwin", expected: PlatformMacOS},
		{in: "macos", expected: PlatformMacOS},
		{in: "", expectedErr: `unknown platform ""`},
		{in: "plan9", expectedErr: `unknown platform "plan9"`},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			p, err := ParsePlatform(tc.in)
			if tc.expectedErr != "" {
				require.EqualError(t, err, tc.expectedErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, p)
		})
	}
}

func TestPlatformFromGOOS(t *testing.T) {
	assert.Equal(t, PlatformLinux, platformFromGOOS("linux"))
	assert.Equal(t, PlatformLinux, platformFromGOOS("freebsd"))
	assert.Equal(t, PlatformWindows, platformFromGOOS("windows"))
	assert.Equal(t, PlatformMacOS, platformFromGOOS("darwin"))
	assert.True(t, HostPlatform().Valid())
}
