// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

package uses

import (
	"net/url"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
)

var _ pflag.Value = &URI{}

// URI is a thin wrapper around *url.URL
// created to implement pflag.Value
type URI struct {
	*url.URL
}

// Parse parses a pipeline location
//
// Plain paths (including Windows drive paths) become "file:" URIs
func Parse(value string) (*URI, error) {
	uri := &URI{}
	return uri, uri.Set(value)
}

// String implements pflag.Value and fmt.Stringer
func (u *URI) String() string {
	if u.URL == nil {
		return ""
	}
	return u.URL.String()
}

// Type implements pflag.Value
func (u *URI) Type() string {
	return "uri"
}

// Set implements pflag.Value
func (u *URI) Set(value string) error {
	// fix fish needing "'...'" for tab completion
	value = strings.Trim(value, `"`)
	value = strings.Trim(value, `'`)

	if isPath(value) {
		u.URL = &url.URL{Scheme: "file", Opaque: filepath.ToSlash(value)}
		return nil
	}

	parsedURL, err := url.Parse(value)
	if err != nil {
		return err
	}
	u.URL = parsedURL
	return nil
}

func isPath(value string) bool {
	if filepath.IsAbs(value) || filepath.VolumeName(value) != "" {
		return true
	}
	for _, scheme := range []string{"file:", "http://", "https://"} {
		if strings.HasPrefix(value, scheme) {
			return false
		}
	}
	return true
}
