package hostfsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cgts/mtce/pkg/types"
)

func TestMtcAliveCodecRoundTrip(t *testing.T) {
	msg := MtcAliveMsg{
		Hostname: "worker-0",
		Service:  "mtcClient",
		Uptime:   3600,
		Health:   types.HealthHealthy,
		Seq:      99,
		OOB:      types.OOBFlags{Configured: true, Healthy: true},
	}
	buf, err := EncodeMtcAlive(msg)
	require.NoError(t, err)

	got, err := DecodeMtcAlive(buf)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestDecodeMtcAliveRejectsBadHeader(t *testing.T) {
	_, err := DecodeMtcAlive([]byte(`{"hostname":"worker-0"}`))
	assert.Error(t, err)
}

func TestDecodeMtcAliveRejectsMissingHostname(t *testing.T) {
	buf, err := EncodeMtcAlive(MtcAliveMsg{Service: "mtcClient"})
	require.NoError(t, err)
	_, err = DecodeMtcAlive(buf)
	assert.Error(t, err)
}

func TestCommandCodecRoundTrip(t *testing.T) {
	msg := MtcCommandMsg{Hostname: "worker-0", Service: "mtcClient", Command: CmdReboot, Params: []int64{1}}
	buf, err := EncodeCommand(msg)
	require.NoError(t, err)

	got, isAck, err := DecodeCommand(buf)
	require.NoError(t, err)
	assert.False(t, isAck)
	assert.Equal(t, msg, got)
}

func TestCommandAckRoundTrip(t *testing.T) {
	msg := MtcCommandMsg{Hostname: "worker-0", Service: "mtcClient", Command: CmdWipeDisk}
	buf, err := EncodeCommandAck(msg)
	require.NoError(t, err)

	got, isAck, err := DecodeCommand(buf)
	require.NoError(t, err)
	assert.True(t, isAck)
	assert.Equal(t, CmdWipeDisk, got.Command)
}

func TestEncodeCommandEnforcesParamCap(t *testing.T) {
	msg := MtcCommandMsg{Hostname: "worker-0", Command: CmdReset, Params: []int64{1, 2, 3, 4, 5}}
	_, err := EncodeCommand(msg)
	assert.Error(t, err, "commands carry at most a small fixed number of parameters")
}
