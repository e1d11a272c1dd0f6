// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

package builtins

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
)

// echo logs a line of text
type echo struct {
	Text string `json:"text" jsonschema:"description=Text to echo"`
}

// Execute the builtin
func (b *echo) Execute(ctx context.Context) (map[string]any, error) {
	logger := log.FromContext(ctx)

	logger.Print(b.Text)
	return map[string]any{"stdout": b.Text}, nil
}

// fetch downloads a URL, typically a distribution manager bootstrap script
type fetch struct {
	URL     string            `json:"url"               jsonschema:"description=URL to fetch"`
	Method  string            `json:"method,omitempty"  jsonschema:"description=HTTP method to use"`
	Timeout string            `json:"timeout,omitempty" jsonschema:"description=Timeout for the request"`
	Headers map[string]string `json:"headers,omitempty" jsonschema:"description=HTTP headers to send"`
	Output  string            `json:"output,omitempty"  jsonschema:"description=File to write the response body to"`
	Mode    string            `json:"mode,omitempty"    jsonschema:"description=Octal file mode of the output file (e.g. 0755)"`

	parsedTimeout time.Duration
	parsedMode    os.FileMode
}

func (b *fetch) setDefaults() error {
	if b.URL == "" {
		return fmt.Errorf("url is required")
	}

	if b.Method == "" {
		b.Method = http.MethodGet
	}

	b.parsedTimeout = 5 * time.Minute
	if b.Timeout != "" {
		parsedTimeout, err := time.ParseDuration(b.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout: %w", err)
		}
		b.parsedTimeout = parsedTimeout
	}

	b.parsedMode = 0o644
	if b.Mode != "" {
		m, err := strconv.ParseUint(b.Mode, 8, 32)
		if err != nil {
			return fmt.Errorf("invalid mode: %w", err)
		}
		b.parsedMode = os.FileMode(m)
	}
	return nil
}

// Execute the builtin
func (b *fetch) Execute(ctx context.Context) (map[string]any, error) {
	logger := log.FromContext(ctx)
	rt := RuntimeFromContext(ctx)

	if err := b.setDefaults(); err != nil {
		return nil, err
	}

	client := &http.Client{
		Timeout: b.parsedTimeout,
	}

	req, err := http.NewRequestWithContext(ctx, b.Method, b.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("User-Agent", "cimatrix")
	for k, v := range b.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("expected status code %d got %d", http.StatusOK, resp.StatusCode)
	}

	if b.Output == "" {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("error reading response body: %w", err)
		}
		logger.Debug("fetched", "url", b.URL, "status", resp.Status, "bytes", len(body))
		return map[string]any{"body": string(body)}, nil
	}

	dst := rt.Path(b.Output)
	f, err := rt.Fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, b.parsedMode)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	n, err := io.Copy(f, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error writing %s: %w", dst, err)
	}

	if err := rt.Fs.Chmod(dst, b.parsedMode); err != nil {
		return nil, err
	}

	logger.Printf("downloaded %s (%d bytes) to %s", b.URL, n, b.Output)

	return map[string]any{"path": dst, "bytes": n}, nil
}
