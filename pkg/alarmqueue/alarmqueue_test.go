package alarmqueue

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cgts/mtce/pkg/errclass"
)

// scriptedClient returns the queued errors in order, nil once empty.
type scriptedClient struct {
	errs  []error
	calls int
}

func (c *scriptedClient) next() error {
	c.calls++
	if len(c.errs) == 0 {
		return nil
	}
	err := c.errs[0]
	c.errs = c.errs[1:]
	return err
}

func (c *scriptedClient) Set(Entry) error   { return c.next() }
func (c *scriptedClient) Clear(Entry) error { return c.next() }
func (c *scriptedClient) Msg(Entry) error   { return c.next() }

func entry(host string) Entry {
	return Entry{Hostname: host, AlarmID: "200.004", Operation: OpSet, Severity: "critical", Timestamp: time.Now()}
}

func TestDrainSuccessPopsHead(t *testing.T) {
	q := New(10, time.Second)
	q.Enqueue(entry("worker-0"))
	q.Enqueue(entry("worker-1"))

	client := &scriptedClient{}
	assert.Equal(t, OutcomeSuccess, q.Drain(client, time.Now()))
	assert.Equal(t, 1, q.Len())

	head, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, "worker-1", head.Hostname, "FIFO order preserved")
}

func TestTransientErrorHoldsHeadWithoutReorder(t *testing.T) {
	q := New(10, 5*time.Second)
	q.Enqueue(entry("worker-0"))
	q.Enqueue(entry("worker-1"))

	client := &scriptedClient{errs: []error{
		errclass.NewReason(errclass.Transient, "not-connected", "faultclient.set", errors.New("down")),
	}}
	now := time.Now()
	assert.Equal(t, OutcomeRetryHeld, q.Drain(client, now))
	assert.Equal(t, 2, q.Len(), "head stays in place")

	// Inside the hold-off window nothing is attempted.
	assert.Equal(t, OutcomeRetryHeld, q.Drain(client, now.Add(time.Second)))
	assert.Equal(t, 1, client.calls)

	// Past the hold-off the same head is retried and succeeds.
	assert.Equal(t, OutcomeSuccess, q.Drain(client, now.Add(6*time.Second)))
	head, _ := q.Peek()
	assert.Equal(t, "worker-1", head.Hostname)
}

func TestDropPolicyByErrorReason(t *testing.T) {
	cases := []struct {
		reason  string
		outcome Outcome
	}{
		{"entity-not-found", OutcomeDroppedNotFound},
		{"alarm-already-exists", OutcomeDroppedAlreadyExists},
		{"invalid-parameter", OutcomeDroppedInvalid},
		{"db-failure", OutcomeDroppedInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.reason, func(t *testing.T) {
			q := New(10, time.Second)
			q.Enqueue(entry("worker-0"))
			client := &scriptedClient{errs: []error{
				errclass.NewReason(errclass.OperationFailed, tc.reason, "faultclient.set", fmt.Errorf("%s", tc.reason)),
			}}
			assert.Equal(t, tc.outcome, q.Drain(client, time.Now()))
			assert.Equal(t, 0, q.Len(), "non-transient failures pop the head")
		})
	}
}

func TestOverflowDropsNewest(t *testing.T) {
	q := New(3, time.Second)
	for i := 0; i < 3; i++ {
		assert.False(t, q.Enqueue(entry(fmt.Sprintf("worker-%d", i))))
	}
	assert.True(t, q.Enqueue(entry("worker-overflow")), "overflow drops the newest entry")
	assert.Equal(t, 3, q.Len())

	head, _ := q.Peek()
	assert.Equal(t, "worker-0", head.Hostname, "older alarms survive")
}

func TestDrainEmptyQueue(t *testing.T) {
	q := New(10, time.Second)
	assert.Equal(t, OutcomeEmpty, q.Drain(&scriptedClient{}, time.Now()))
}
