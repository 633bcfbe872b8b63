// Package smclient is the HTTP client to the HA service manager used
// by the Swact handler for query/swact/poll.
// The cluster-view delivery side (binary vault prefix over a Unix
// socket) lives in pkg/cluster.SMReporter; this package is only the
// REST side of the contract.
package smclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cgts/mtce/pkg/errclass"
)

// Client is a thin HTTP client against the HA service manager.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client against baseURL with the given per-request
// timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}}
}

// QueryResult reports which controller is currently running active
// services. Each call makes a single request; retries are counted by
// the caller.
type QueryResult struct {
	ActiveController string `json:"active_controller"`
}

// Query asks SM which controller is currently active, the first step
// of the Swact handler.
func (c *Client) Query(ctx context.Context) (QueryResult, error) {
	var out QueryResult
	if err := c.getJSON(ctx, c.baseURL+"/v1/sm/query", &out); err != nil {
		return out, err
	}
	return out, nil
}

// RequestSwact requests SM migrate the active role away from fromController.
func (c *Client) RequestSwact(ctx context.Context, fromController string) error {
	body, _ := json.Marshal(map[string]string{"from": fromController})
	return c.post(ctx, c.baseURL+"/v1/sm/swact", body)
}

// PollResult is the in-flight swact progress SM reports.
type PollResult struct {
	Complete bool   `json:"complete"`
	Status   string `json:"status"`
}

// PollSwact polls SM for swact completion.
func (c *Client) PollSwact(ctx context.Context) (PollResult, error) {
	var out PollResult
	if err := c.getJSON(ctx, c.baseURL+"/v1/sm/swact", &out); err != nil {
		return out, err
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errclass.New(errclass.Fatal, "smclient.get", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errclass.New(errclass.Transient, "smclient.get", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return classifyStatus(resp.StatusCode, "smclient.get")
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errclass.New(errclass.Malformed, "smclient.get", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errclass.New(errclass.Fatal, "smclient.post", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errclass.New(errclass.Transient, "smclient.post", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return classifyStatus(resp.StatusCode, "smclient.post")
}

func classifyStatus(status int, op string) error {
	switch {
	case status == http.StatusConflict:
		return errclass.NewReason(errclass.RemoteUnavailable, "pending", op, fmt.Errorf("status %d", status))
	case status >= 500:
		return errclass.New(errclass.RemoteUnavailable, op, fmt.Errorf("status %d", status))
	default:
		return errclass.New(errclass.Malformed, op, fmt.Errorf("status %d", status))
	}
}
