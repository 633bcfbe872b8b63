// Package faultclient is the persistent-socket JSON client to the
// fault manager: a Unix domain socket carrying
// newline-delimited {"mtcalarm":[...]} envelopes, classifying every
// response into the pkg/errclass taxonomy so pkg/alarmqueue can switch
// on one vocabulary instead of this collaborator's raw wire errors.
package faultclient

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cgts/mtce/pkg/alarmqueue"
	"github.com/cgts/mtce/pkg/errclass"
)

// alarmRequest is the wire envelope the fault manager consumes.
type alarmRequest struct {
	MtcAlarm []alarmItem `json:"mtcalarm"`
}

type alarmItem struct {
	AlarmID   string `json:"alarmid"`
	Hostname  string `json:"hostname"`
	Operation string `json:"operation"`
	Severity  string `json:"severity"`
	Entity    string `json:"entity"`
	Prefix    string `json:"prefix,omitempty"`
}

// alarmResponse carries the fault manager's classification of the
// request back to the caller; wire detail is not specified upstream,
// so the response shape is this client's own.
type alarmResponse struct {
	Status string `json:"status"` // "ok" or an error tag
	Reason string `json:"reason,omitempty"`
}

// Client is a persistent-socket client to the fault manager.
type Client struct {
	addr string

	mu   sync.Mutex
	conn net.Conn
	rw   *bufio.ReadWriter
}

// New creates a client that will lazily dial addr (a Unix domain
// socket path, e.g. "/var/run/fmmgr.sock") on first use.
func New(addr string) *Client {
	return &Client{addr: addr}
}

func (c *Client) ensureConn() error {
	if c.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("unix", c.addr, 2*time.Second)
	if err != nil {
		return errclass.New(errclass.RemoteUnavailable, "faultclient.dial", err)
	}
	c.conn = conn
	c.rw = bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	return nil
}

func (c *Client) reset() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = nil
	c.rw = nil
}

func (c *Client) send(item alarmItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConn(); err != nil {
		return err
	}

	req := alarmRequest{MtcAlarm: []alarmItem{item}}
	data, err := json.Marshal(req)
	if err != nil {
		return errclass.New(errclass.Fatal, "faultclient.marshal", err)
	}
	data = append(data, '\n')

	if err := c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second)); err != nil {
		c.reset()
		return errclass.New(errclass.Transient, "faultclient.setdeadline", err)
	}
	if _, err := c.rw.Write(data); err != nil {
		c.reset()
		return errclass.New(errclass.Transient, "faultclient.write", err)
	}
	if err := c.rw.Flush(); err != nil {
		c.reset()
		return errclass.New(errclass.Transient, "faultclient.flush", err)
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		c.reset()
		return errclass.New(errclass.Transient, "faultclient.setdeadline", err)
	}
	line, err := c.rw.ReadString('\n')
	if err != nil {
		c.reset()
		return errclass.New(errclass.Transient, "faultclient.read", err)
	}

	var resp alarmResponse
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return errclass.New(errclass.Malformed, "faultclient.unmarshal", err)
	}

	return classify(resp)
}

// classify maps the fault manager's response status onto the five-tier
// taxonomy plus a fine-grained Reason, matching the exact vocabulary
// pkg/alarmqueue switches on in its retry/drop table.
func classify(resp alarmResponse) error {
	switch resp.Status {
	case "ok", "":
		return nil
	case "not-connected", "communications-error", "pending":
		return errclass.NewReason(errclass.Transient, resp.Status, "faultclient.send", fmt.Errorf("%s", resp.Reason))
	case "entity-not-found":
		return errclass.NewReason(errclass.OperationFailed, "entity-not-found", "faultclient.send", fmt.Errorf("%s", resp.Reason))
	case "alarm-already-exists":
		return errclass.NewReason(errclass.OperationFailed, "alarm-already-exists", "faultclient.send", fmt.Errorf("%s", resp.Reason))
	case "invalid-request", "invalid-parameter", "attribute", "db-failure", "resource-unavailable", "no-mem":
		return errclass.NewReason(errclass.Malformed, resp.Status, "faultclient.send", fmt.Errorf("%s", resp.Reason))
	default:
		return errclass.NewReason(errclass.Malformed, resp.Status, "faultclient.send", fmt.Errorf("%s", resp.Reason))
	}
}

// Set satisfies alarmqueue.FaultClient.
func (c *Client) Set(e alarmqueue.Entry) error {
	return c.send(alarmItem{
		AlarmID: e.AlarmID, Hostname: e.Hostname, Operation: "set",
		Severity: e.Severity, Entity: e.Entity, Prefix: e.Prefix,
	})
}

// Clear satisfies alarmqueue.FaultClient.
func (c *Client) Clear(e alarmqueue.Entry) error {
	return c.send(alarmItem{
		AlarmID: e.AlarmID, Hostname: e.Hostname, Operation: "clear",
		Severity: e.Severity, Entity: e.Entity, Prefix: e.Prefix,
	})
}

// Msg satisfies alarmqueue.FaultClient.
func (c *Client) Msg(e alarmqueue.Entry) error {
	return c.send(alarmItem{
		AlarmID: e.AlarmID, Hostname: e.Hostname, Operation: "msg",
		Severity: e.Severity, Entity: e.Entity, Prefix: e.Prefix,
	})
}

// Close releases the underlying socket, if open.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.rw = nil
	return err
}
