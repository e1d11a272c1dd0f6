// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

// Package uses provides clients for retrieving pipeline files.
package uses

import (
	"context"
	"io"
	"net/url"
)

// DefaultFileName is the pipeline file looked up when a location resolves to a directory
const DefaultFileName = ".cimatrix.yaml"

// Fetcher fetches a file from a location.
type Fetcher interface {
	Fetch(context.Context, *url.URL) (io.ReadCloser, error)
}
