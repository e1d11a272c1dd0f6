// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

package cimatrix

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/charmbracelet/log"

	v1 "github.com/bioviz/cimatrix/schema/v1"
	"github.com/bioviz/cimatrix/uses"
)

// Fetch retrieves and validates the pipeline at uri
func Fetch(ctx context.Context, svc *uses.FetcherService, uri *url.URL) (v1.Pipeline, error) {
	logger := log.FromContext(ctx)

	fetcher, err := svc.GetFetcher(uri)
	if err != nil {
		return v1.Pipeline{}, err
	}

	logger.Debug("fetching", "from", uri)

	rc, err := fetcher.Fetch(ctx, uri)
	if err != nil {
		return v1.Pipeline{}, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return v1.Pipeline{}, err
	}

	p, err := v1.ReadAndValidate(bytes.NewReader(data))
	if err != nil {
		return v1.Pipeline{}, fmt.Errorf("%s: %w", uri, err)
	}
	return p, nil
}
