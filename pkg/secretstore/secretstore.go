// Package secretstore is a thin client to the external secret store
// that holds BMC passwords. Host Records never carry the cleartext
// secret on disk; this client fetches lazily and the
// caller (pkg/bmc) caches the result in memory only, via
// types.BMCState.SetSecretCache.
package secretstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client fetches BMC passwords by secret reference from an external
// secret store over HTTP, mirroring the REST-collaborator shape used
// by pkg/invclient and pkg/smclient.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client against baseURL (e.g. "https://vault.local:8200").
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchSecret resolves ref to a cleartext secret value. Callers are
// responsible for caching: this client performs no caching of its own.
func (c *Client) FetchSecret(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("secretstore: empty secret reference")
	}

	u := fmt.Sprintf("%s/v1/secret/%s", c.baseURL, url.PathEscape(ref))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("secretstore: build request for %s: %w", ref, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("secretstore: fetch %s: %w", ref, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("secretstore: fetch %s: status %d", ref, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("secretstore: read response for %s: %w", ref, err)
	}
	return string(body), nil
}
