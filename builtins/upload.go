// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

package builtins

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
)

// upload posts a coverage report to an external service
type upload struct {
	File         string            `json:"file"                     jsonschema:"description=Coverage report to upload"`
	URL          string            `json:"url"                      jsonschema:"description=Upload endpoint"`
	TokenFromEnv string            `json:"token-from-env,omitempty" jsonschema:"description=Environment variable holding the upload token"`
	Flags        map[string]string `json:"flags,omitempty"          jsonschema:"description=Extra query parameters"`
	Timeout      string            `json:"timeout,omitempty"        jsonschema:"description=Timeout for the request"`
}

// Execute the builtin
func (b *upload) Execute(ctx context.Context) (map[string]any, error) {
	logger := log.FromContext(ctx)
	rt := RuntimeFromContext(ctx)

	if b.File == "" || b.URL == "" {
		return nil, fmt.Errorf("file and url are required")
	}

	timeout := time.Minute
	if b.Timeout != "" {
		d, err := time.ParseDuration(b.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout: %w", err)
		}
		timeout = d
	}

	u, err := url.Parse(b.URL)
	if err != nil {
		return nil, err
	}
	if len(b.Flags) > 0 {
		q := u.Query()
		for k, v := range b.Flags {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	f, err := rt.Fs.Open(rt.Path(b.File))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), f)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("User-Agent", "cimatrix")
	req.Header.Set("Content-Type", "text/plain")

	if b.TokenFromEnv != "" {
		token := rt.Getenv(b.TokenFromEnv)
		if token == "" {
			return nil, fmt.Errorf("%s is not set", b.TokenFromEnv)
		}
		req.Header.Set("Authorization", "token "+token)
	}

	resp, err := (&http.Client{Timeout: timeout}).Do(req)
	if err != nil {
		return nil, fmt.Errorf("error executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("upload of %s rejected: %s", b.File, resp.Status)
	}

	logger.Printf("uploaded %s: %s", b.File, resp.Status)

	return map[string]any{"status": resp.StatusCode}, nil
}
