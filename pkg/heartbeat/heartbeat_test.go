package heartbeat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cgts/mtce/pkg/cluster"
	"github.com/cgts/mtce/pkg/constants"
	"github.com/cgts/mtce/pkg/types"
)

func TestPulseWireRoundTrip(t *testing.T) {
	msg := Message{
		Hostname: "worker-3",
		Seq:      1234,
		RRI:      7,
		Flags:    WithController(FlagPmondAlive, 1),
		Version:  1,
	}
	buf, err := Encode(msg)
	require.NoError(t, err)

	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, msg.Hostname, got.Hostname)
	assert.Equal(t, msg.Seq, got.Seq)
	assert.Equal(t, msg.RRI, got.RRI)
	assert.Equal(t, msg.Flags, got.Flags)
	assert.Equal(t, 1, ControllerOf(got.Flags))
	assert.False(t, got.IsReply)
}

func TestPulseDecodeRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		buf  []byte
	}{
		{"short", []byte("cgts pulse req:")},
		{"bad header", make([]byte, minMessageLen)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.buf)
			assert.Error(t, err)
		})
	}
}

func TestPulseDecodeRejectsPayloadWithVersionZero(t *testing.T) {
	msg := Message{Hostname: "worker-0", Seq: 1, Version: 0}
	buf, err := Encode(msg)
	require.NoError(t, err)
	// Tack a cluster payload onto a version-0 message.
	buf = append(buf, make([]byte, cluster.HistorySize)...)
	_, err = Decode(buf)
	assert.Error(t, err)
}

func TestHeaderTagsAreFifteenBytes(t *testing.T) {
	assert.Len(t, constants.PulseHeaderReq, headerLen)
	assert.Len(t, constants.PulseHeaderRsp, headerLen)
}

func TestClientEchoesSequenceAndLearnsRRI(t *testing.T) {
	c := NewClient("worker-1", time.Second)

	req := Message{
		Hostname: "worker-1", // addressed to this client: it learns the RRI
		Seq:      42,
		RRI:      9,
		Flags:    WithController(0, 1),
		Version:  1,
	}
	reply := c.OnRequest(req, FlagPmondAlive)

	assert.True(t, reply.IsReply)
	assert.Equal(t, "worker-1", reply.Hostname)
	assert.Equal(t, uint32(42), reply.Seq, "reply echoes the request sequence")
	assert.Equal(t, uint32(9), reply.RRI, "reply echoes the learned RRI")
	assert.Equal(t, 1, ControllerOf(reply.Flags), "attribution matches the requesting controller")

	// A request addressed to a different host must not overwrite the
	// learned value.
	other := req
	other.Hostname = "worker-2"
	other.RRI = 55
	reply = c.OnRequest(other, FlagPmondAlive)
	assert.Equal(t, uint32(9), reply.RRI, "RRI learned only from requests addressed to this host")
}

func TestAgentPeriodMissThresholds(t *testing.T) {
	a := NewAgent(0, []types.Iface{types.IfaceMgmt}, time.Second,
		Thresholds{Minor: 2, Major: 4, Fail: 6})
	a.RegisterHost("worker-0")
	a.SetMonitoring("worker-0", true)

	levels := []MissLevel{}
	for i := 0; i < 6; i++ {
		a.BeginPeriod()
		for _, level := range a.ClosePeriod(types.IfaceMgmt) {
			levels = append(levels, level)
		}
	}
	assert.Equal(t, []MissLevel{MissMinor, MissMajor, MissFail}, levels,
		"thresholds fire exactly once each as the streak grows")
}

func TestAgentReplyClearsPendingAndReportsRecovery(t *testing.T) {
	a := NewAgent(0, []types.Iface{types.IfaceMgmt}, time.Second,
		Thresholds{Minor: 2, Major: 4, Fail: 6})
	a.RegisterHost("worker-0")
	a.SetMonitoring("worker-0", true)

	a.BeginPeriod()
	recovered := a.OnReply(types.IfaceMgmt, "worker-0", 0)
	assert.False(t, recovered, "no prior misses: not a recovery")
	assert.Empty(t, a.ClosePeriod(types.IfaceMgmt))

	// Miss twice, then reply: recovery is reported.
	a.BeginPeriod()
	a.ClosePeriod(types.IfaceMgmt)
	a.BeginPeriod()
	a.ClosePeriod(types.IfaceMgmt)
	a.BeginPeriod()
	assert.True(t, a.OnReply(types.IfaceMgmt, "worker-0", 0))
	assert.Equal(t, 0, a.MissCount(types.IfaceMgmt, "worker-0"))
}

func TestAgentStopMonitoringSuppressesMisses(t *testing.T) {
	a := NewAgent(0, []types.Iface{types.IfaceMgmt}, time.Second,
		Thresholds{Minor: 1, Major: 2, Fail: 3})
	a.RegisterHost("worker-0")
	a.SetMonitoring("worker-0", true)

	a.BeginPeriod()
	a.SetMonitoring("worker-0", false)
	assert.Empty(t, a.ClosePeriod(types.IfaceMgmt), "a stopped host never accumulates misses")
	assert.Equal(t, 0, a.MonitoredHostCount(types.IfaceMgmt))
}

func TestPxebootSequenceRegressionIsRestart(t *testing.T) {
	m := NewPxebootMonitor(3, 10, 5)

	assert.Equal(t, TransitionNone, m.OnSequence(100))
	assert.Equal(t, TransitionNone, m.OnSequence(101))
	assert.Equal(t, TransitionRequestImmediate, m.OnSequence(5),
		"regression is a client restart, not loss")
	assert.Equal(t, 0, m.Miss)
	assert.Equal(t, 0, m.Loss)
}

func TestPxebootLossAndAlarmThresholds(t *testing.T) {
	m := NewPxebootMonitor(3, 5, 2)
	m.OnSequence(1)

	var transitions []Transition
	for i := 0; i < 5; i++ {
		transitions = append(transitions, m.OnCheckTimeout())
	}
	assert.Equal(t, []Transition{
		TransitionNone, TransitionNone, TransitionLoss, TransitionNone, TransitionAlarmRaise,
	}, transitions)
	assert.Equal(t, 1, m.Loss)
	assert.True(t, m.AlarmRaised)

	// Recovery clears the alarm after the configured advance count.
	assert.Equal(t, TransitionNone, m.OnSequence(2))
	assert.Equal(t, TransitionAlarmClear, m.OnSequence(3))
	assert.False(t, m.AlarmRaised)
}

func TestClientPeerViewStaleness(t *testing.T) {
	c := NewClient("worker-1", time.Millisecond)

	view := []cluster.HistorySnapshot{{Controller: 1, Network: types.IfaceMgmt, Count: 1}}
	c.OnRequest(Message{Hostname: "worker-1", Seq: 1, Version: 1, Flags: WithController(0, 1), ClusterView: view}, 0)

	// A request from the other controller embeds controller 1's cached view.
	reply := c.OnRequest(Message{Hostname: "worker-1", Seq: 2, Version: 1, Flags: WithController(0, 0)}, 0)
	require.Len(t, reply.ClusterView, 1)

	// After 2x network-history periods with no receipt the cache is
	// cleared.
	time.Sleep(3 * time.Millisecond * time.Duration(constants.HistoryRingSize))
	reply = c.OnRequest(Message{Hostname: "worker-1", Seq: 3, Version: 1, Flags: WithController(0, 0)}, 0)
	assert.Empty(t, reply.ClusterView)
}
