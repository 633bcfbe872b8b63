// Package invclient is the REST client to the inventory service
// consumed by the host FSM engine for task and state updates.
// The wire layout of inventory REST payloads is explicitly out of
// scope; this client only needs a stable Go
// shape the engine can call, wrapped with the shared retry vocabulary
// in pkg/retrypolicy and classified via pkg/errclass so callers never
// see net/http errors directly.
package invclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cgts/mtce/pkg/errclass"
	"github.com/cgts/mtce/pkg/retrypolicy"
)

// Client is a thin HTTP client against the inventory service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      func() *retrypolicy.Policy
}

// New creates a client against baseURL with the given per-request
// timeout. The client's retry factory returns a fresh Policy per call
// so concurrent calls never share backoff state.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		retry:      func() *retrypolicy.Policy { return retrypolicy.New(500*time.Millisecond, 5*time.Second, 3) },
	}
}

// TaskUpdate is the task-string/state payload the engine reports on
// every action-handler transition.
type TaskUpdate struct {
	Hostname string `json:"hostname"`
	Task     string `json:"task"`
	Admin    string `json:"administrative_state,omitempty"`
	Oper     string `json:"operational_state,omitempty"`
	Avail    string `json:"availability_status,omitempty"`
}

// UpdateTask posts a task/state update, retrying transient failures
// per the shared retry policy and classifying the final outcome.
func (c *Client) UpdateTask(ctx context.Context, u TaskUpdate) error {
	body, err := json.Marshal(u)
	if err != nil {
		return errclass.New(errclass.Fatal, "invclient.marshal", err)
	}

	policy := c.retry()
	for {
		err := c.post(ctx, fmt.Sprintf("%s/v1/ihosts/%s/state", c.baseURL, u.Hostname), body)
		if err == nil {
			return nil
		}
		if errclass.ClassOf(err) != errclass.Transient && errclass.ClassOf(err) != errclass.RemoteUnavailable {
			return err
		}
		delay, ok := policy.Next()
		if !ok {
			return err
		}
		select {
		case <-ctx.Done():
			return errclass.New(errclass.Transient, "invclient.updateTask", ctx.Err())
		case <-time.After(delay):
		}
	}
}

func (c *Client) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(body))
	if err != nil {
		return errclass.New(errclass.Fatal, "invclient.post", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errclass.New(errclass.Transient, "invclient.post", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return errclass.New(errclass.RemoteUnavailable, "invclient.post", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return errclass.NewReason(errclass.OperationFailed, "entity-not-found", "invclient.post", fmt.Errorf("status %d", resp.StatusCode))
	default:
		return errclass.New(errclass.Malformed, "invclient.post", fmt.Errorf("status %d", resp.StatusCode))
	}
}
