package bmc

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProto is a protocolClient whose Execute blocks until
// released, so tests can observe the in-flight window.
type scriptedProto struct {
	release chan struct{}
	result  Result
	err     error
	calls   atomic.Int32
}

func (p *scriptedProto) Execute(ctx context.Context, cmd Command, extra ExtraInfo) (Result, error) {
	p.calls.Add(1)
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	return p.result, p.err
}

func TestWorkerSerializesCommands(t *testing.T) {
	proto := &scriptedProto{release: make(chan struct{})}
	w := NewWorker("worker-0", proto, ExtraInfo{})

	require.True(t, w.Done())
	require.NoError(t, w.Send(Command{Op: OpPowerStatus}))
	assert.False(t, w.Done())

	// Sending while a command is in flight is a programming error.
	assert.Error(t, w.Send(Command{Op: OpPowerOn}))

	// Recv reports RETRY until the worker publishes its result.
	_, status := w.Recv()
	assert.Equal(t, RecvRetry, status)

	close(proto.release)
	require.Eventually(t, func() bool {
		_, status := w.Recv()
		return status == RecvPass
	}, time.Second, time.Millisecond)
	assert.True(t, w.Done())
}

func TestWorkerReportsCommandError(t *testing.T) {
	proto := &scriptedProto{err: errors.New("chassis unreachable")}
	w := NewWorker("worker-0", proto, ExtraInfo{})

	require.NoError(t, w.Send(Command{Op: OpPowerOff}))
	var res Result
	var status RecvStatus
	require.Eventually(t, func() bool {
		res, status = w.Recv()
		return status != RecvRetry
	}, time.Second, time.Millisecond)
	assert.Equal(t, RecvError, status)
	assert.False(t, res.Success)
	assert.Equal(t, OpPowerOff, res.Op)
}

func TestKillAndWaitCancelsInFlight(t *testing.T) {
	proto := &scriptedProto{release: make(chan struct{})} // never released: only ctx cancel ends it
	w := NewWorker("worker-0", proto, ExtraInfo{})

	require.NoError(t, w.Send(Command{Op: OpPowerReset}))
	assert.True(t, w.KillAndWait(3), "kill/recv cycles must reap the cancelled command")
}

func TestKillIdleWorkerIsSafe(t *testing.T) {
	w := NewWorker("worker-0", &scriptedProto{}, ExtraInfo{})
	w.Kill() // no in-flight command
	assert.True(t, w.Done())
}
