package bmc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cgts/mtce/pkg/types"
)

// scriptedPinger answers Ping from a queue, repeating the last answer
// once drained.
type scriptedPinger struct {
	answers []bool
}

func (p *scriptedPinger) Ping(context.Context, string) (bool, error) {
	if len(p.answers) == 0 {
		return false, nil
	}
	ok := p.answers[0]
	if len(p.answers) > 1 {
		p.answers = p.answers[1:]
	}
	return ok, nil
}

func bmcHost() *types.HostRecord {
	h := types.NewHostRecord("worker-0", uuid.New(), types.NodeTypeWorker)
	h.BMC.IP = net.ParseIP("10.0.0.5")
	h.BMC.Username = "admin"
	return h
}

// Access loss: accessible flag drops immediately, the warning alarm
// raises once the 2-minute boundary passes, and restoration clears it.
func TestAccessLossAlarmAtTwoMinuteBoundary(t *testing.T) {
	pinger := &scriptedPinger{answers: []bool{false}}
	a := NewArbiter("worker-0", pinger, nil, 2*time.Minute, 0)
	a.Stage = StageAccessible
	h := bmcHost()
	h.BMC.Accessible = true

	now := time.Now()
	event, err := a.Tick(context.Background(), h, now)
	require.NoError(t, err)
	assert.Equal(t, AccessEventLost, event)
	assert.False(t, h.BMC.Accessible)
	assert.Equal(t, StageAccessLoss, a.Stage)
	assert.Equal(t, types.BMCInfo{}, h.BMC.Info, "learned info is cleared on loss")

	// One minute in: still only pinging, no alarm yet.
	event, err = a.Tick(context.Background(), h, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, AccessEventNone, event)

	// Past two minutes: the warning alarm fires exactly once.
	event, err = a.Tick(context.Background(), h, now.Add(2*time.Minute+time.Second))
	require.NoError(t, err)
	assert.Equal(t, AccessEventAlarmRaise, event)
	event, _ = a.Tick(context.Background(), h, now.Add(3*time.Minute))
	assert.Equal(t, AccessEventNone, event, "alarm raises only once")

	// Ping restored: alarm clears and the arbiter restarts from the
	// secret fetch.
	pinger.answers = []bool{true}
	event, err = a.Tick(context.Background(), h, now.Add(4*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, AccessEventAlarmClear, event)
	assert.Equal(t, StageSecretFetch, a.Stage)
}

func TestArbiterIgnoresUnprovisionedBMC(t *testing.T) {
	a := NewArbiter("worker-0", &scriptedPinger{}, nil, 2*time.Minute, 0)
	h := types.NewHostRecord("worker-0", uuid.New(), types.NodeTypeWorker)

	event, err := a.Tick(context.Background(), h, time.Now())
	require.NoError(t, err)
	assert.Equal(t, AccessEventNone, event)
	assert.Equal(t, StagePingMonitor, a.Stage)
}

func TestPingMonitorAdvancesOnReachable(t *testing.T) {
	a := NewArbiter("worker-0", &scriptedPinger{answers: []bool{true}}, nil, 2*time.Minute, 0)
	h := bmcHost()

	_, err := a.Tick(context.Background(), h, time.Now())
	require.NoError(t, err)
	assert.Equal(t, StageSecretFetch, a.Stage)
}

func TestProtocolDiscoverySkippedWhenPinned(t *testing.T) {
	a := NewArbiter("worker-0", &scriptedPinger{answers: []bool{true}}, nil, 2*time.Minute, 0)
	a.Stage = StageProtocolDiscovery
	h := bmcHost()
	h.BMC.Protocol = "ipmi" // operator pinned the protocol

	_, err := a.Tick(context.Background(), h, time.Now())
	require.NoError(t, err)
	assert.Equal(t, StageInfoAcquisition, a.Stage)
	assert.Equal(t, "ipmi", h.BMC.Protocol)
}
