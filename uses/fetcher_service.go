// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

package uses

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/spf13/afero"
)

// FetcherService creates and caches fetchers by scheme
type FetcherService struct {
	client       *http.Client
	fsys         afero.Fs
	fetcherCache map[string]Fetcher
	mu           sync.RWMutex
}

// FetcherServiceOption is a function that configures a FetcherService
type FetcherServiceOption func(*FetcherService)

// WithFS sets the filesystem to be used by the fetcher service
func WithFS(fs afero.Fs) FetcherServiceOption {
	return func(s *FetcherService) {
		s.fsys = fs
	}
}

// WithClient sets the HTTP client to be used by the fetcher service
func WithClient(client *http.Client) FetcherServiceOption {
	return func(s *FetcherService) {
		s.client = client
	}
}

// NewFetcherService creates a new FetcherService
func NewFetcherService(opts ...FetcherServiceOption) *FetcherService {
	svc := &FetcherService{
		fetcherCache: make(map[string]Fetcher),
	}

	for _, opt := range opts {
		opt(svc)
	}

	if svc.fsys == nil {
		svc.fsys = afero.NewOsFs()
	}

	if svc.client == nil {
		svc.client = &http.Client{}
	}

	return svc
}

// GetFetcher returns a fetcher for the given URL
func (s *FetcherService) GetFetcher(uri *url.URL) (Fetcher, error) {
	if uri == nil {
		return nil, fmt.Errorf("uri cannot be nil")
	}

	scheme := uri.Scheme
	if scheme == "" {
		scheme = "file"
	}

	s.mu.RLock()
	fetcher, exists := s.fetcherCache[scheme]
	s.mu.RUnlock()
	if exists {
		return fetcher, nil
	}

	switch scheme {
	case "http", "https":
		fetcher = NewHTTPFetcher(s.client)
	case "file":
		fetcher = NewLocalFetcher(s.fsys)
	default:
		return nil, fmt.Errorf("unsupported scheme: %q", uri.Scheme)
	}

	s.mu.Lock()
	s.fetcherCache[scheme] = fetcher
	s.mu.Unlock()

	return fetcher, nil
}
