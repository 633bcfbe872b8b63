package types

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func timeNow() time.Time { return time.Now() }

func TestDegradeMaskCountMatchesAssertedCauses(t *testing.T) {
	var m DegradeMask
	assert.True(t, m.Zero())
	assert.Equal(t, 0, m.Count())

	m.Set(DegradeHeartbeat)
	m.Set(DegradeConfig)
	m.Set(DegradeHeartbeat) // re-assert is idempotent
	assert.Equal(t, 2, m.Count())
	assert.True(t, m.IsSet(DegradeConfig))

	m.Clear(DegradeConfig)
	assert.Equal(t, 1, m.Count())
	m.Clear(DegradeHeartbeat)
	assert.True(t, m.Zero())
}

func TestRecomputeAvailability(t *testing.T) {
	h := NewHostRecord("worker-0", uuid.New(), NodeTypeWorker)
	h.Triad = Triad{Admin: AdminUnlocked, Oper: OperEnabled, Avail: AvailAvailable}

	h.Degrade.Set(DegradeSM)
	h.RecomputeAvailability()
	assert.Equal(t, AvailDegraded, h.Triad.Avail)

	h.Degrade.Clear(DegradeSM)
	h.RecomputeAvailability()
	assert.Equal(t, AvailAvailable, h.Triad.Avail)

	// A locked host's availability is never recomputed from the mask.
	h.Triad = Triad{Admin: AdminLocked, Oper: OperDisabled, Avail: AvailOnline}
	h.Degrade.Set(DegradeSM)
	h.RecomputeAvailability()
	assert.Equal(t, AvailOnline, h.Triad.Avail)
}

func TestNewHostRecordDefaults(t *testing.T) {
	h := NewHostRecord("worker-0", uuid.New(), NodeTypeWorker|NodeTypeStorage)

	assert.Equal(t, Triad{Admin: AdminLocked, Oper: OperDisabled, Avail: AvailOffline}, h.Triad)
	assert.Equal(t, ActionNone, h.Action)
	assert.True(t, h.NodeType.Has(NodeTypeWorker))
	assert.True(t, h.NodeType.Has(NodeTypeStorage))
	assert.False(t, h.NodeType.Has(NodeTypeController))
	for _, iface := range AllIfaces {
		require.NotNil(t, h.Liveness[iface])
	}
	assert.NotNil(t, h.Timers)
}

func TestWorkQueueOrderingAndSequence(t *testing.T) {
	h := NewHostRecord("worker-0", uuid.New(), NodeTypeWorker)

	first := h.EnqueueWork("state-update", nil)
	second := h.EnqueueWork("task-update", nil)
	assert.Less(t, first.Seq, second.Seq, "sequence numbers increase monotonically")

	e, ok := h.CompleteHeadWork()
	require.True(t, ok)
	assert.Equal(t, "state-update", e.Op)
	assert.Len(t, h.DoneQueue, 1)

	e, ok = h.CompleteHeadWork()
	require.True(t, ok)
	assert.Equal(t, "task-update", e.Op)

	_, ok = h.CompleteHeadWork()
	assert.False(t, ok, "empty work queue is reported, not panicked on")
}

func TestBMCSecretCacheTTL(t *testing.T) {
	h := NewHostRecord("worker-0", uuid.New(), NodeTypeWorker)

	_, ok := h.BMC.SecretCache(0, timeNow())
	assert.False(t, ok, "no secret cached yet")

	at := timeNow()
	h.BMC.SetSecretCache("s3cret", at)

	got, ok := h.BMC.SecretCache(10, at.Add(5))
	assert.True(t, ok)
	assert.Equal(t, "s3cret", got)

	_, ok = h.BMC.SecretCache(10, at.Add(11))
	assert.False(t, ok, "expired past the TTL")
}
