//
//  Copyright © Manetu Inc. All rights reserved.
//

package token

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/pkg/errors"
)

// Fetcher obtains the provider's current signing key set.
type Fetcher interface {
	FetchKeySet(ctx context.Context) (jwk.Set, error)
}

// HTTPFetcher fetches the key set via the provider's discovery document:
// one GET for the document to extract jwks_uri, then one GET for the keys.
//
// Cancellation and timeouts are the HTTP client's responsibility.
type HTTPFetcher struct {
	discoveryURL string
	client       *http.Client
}

// NewHTTPFetcher creates a fetcher for the given discovery URL. A nil
// httpClient uses http.DefaultClient.
func NewHTTPFetcher(discoveryURL string, httpClient *http.Client) *HTTPFetcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPFetcher{discoveryURL: discoveryURL, client: httpClient}
}

func (f *HTTPFetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}

// FetchKeySet retrieves the discovery document and then the key set it
// points at.
func (f *HTTPFetcher) FetchKeySet(ctx context.Context) (jwk.Set, error) {
	if f.discoveryURL == "" {
		return nil, errors.New("OIDC discovery URL is not configured")
	}

	raw, err := f.get(ctx, f.discoveryURL)
	if err != nil {
		return nil, errors.Wrap(err, "fetching discovery document")
	}

	var metadata struct {
		JwksURI string `json:"jwks_uri"`
	}
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return nil, errors.Wrap(err, "decoding discovery document")
	}
	if metadata.JwksURI == "" {
		return nil, errors.New("discovery document carries no jwks_uri")
	}

	raw, err = f.get(ctx, metadata.JwksURI)
	if err != nil {
		return nil, errors.Wrap(err, "fetching key set")
	}

	set, err := jwk.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "parsing key set")
	}
	return set, nil
}
