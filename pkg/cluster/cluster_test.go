package cluster

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cgts/mtce/pkg/types"
)

func TestHistoryRingRollover(t *testing.T) {
	h := newHistory(0, types.IfaceMgmt, 20)
	for i := 0; i < 25; i++ {
		h.Push(Entry{HostsEnabled: i, HostsResponding: i})
	}
	assert.Equal(t, 20, h.Len(), "entries saturate at the ring size")
	assert.Equal(t, 5, h.OldestEntryIndex(), "oldest index is the next write slot")
}

func TestVaultRecordPeriodAndValidate(t *testing.T) {
	v := NewVault(2, 3, 20, 100)
	require.NoError(t, v.RecordPeriod(0, types.IfaceMgmt, 5, 1))
	require.NoError(t, v.RecordPeriod(0, types.IfaceCluster, 5, 0))
	require.NoError(t, v.InjectPeerGap(1, types.IfaceMgmt))

	assert.Equal(t, 3, v.HistoryCount())
	assert.NoError(t, v.Validate())

	// A second record for an existing pair reuses its history.
	require.NoError(t, v.RecordPeriod(0, types.IfaceMgmt, 5, 0))
	assert.Equal(t, 3, v.HistoryCount())
}

func TestVaultRejectsOutOfRangeController(t *testing.T) {
	v := NewVault(2, 3, 20, 100)
	assert.Error(t, v.RecordPeriod(2, types.IfaceMgmt, 1, 0))
	assert.Error(t, v.RecordPeriod(-1, types.IfaceMgmt, 1, 0))
}

func TestVaultCapacityIsControllersTimesNetworks(t *testing.T) {
	v := NewVault(1, 2, 20, 100)
	require.NoError(t, v.RecordPeriod(0, types.IfaceMgmt, 1, 0))
	require.NoError(t, v.RecordPeriod(0, types.IfaceCluster, 1, 0))
	assert.Error(t, v.RecordPeriod(0, types.IfacePxeboot, 1, 0), "histories at capacity")
}

func TestStorage0Latch(t *testing.T) {
	h := newHistory(0, types.IfaceMgmt, 20)
	require.True(t, h.Storage0Responding)

	h.UpdateStorage0(false, 3)
	h.UpdateStorage0(false, 3)
	assert.True(t, h.Storage0Responding, "under threshold keeps the latch")
	h.UpdateStorage0(false, 3)
	assert.False(t, h.Storage0Responding, "threshold crossing drops the latch")

	h.UpdateStorage0(true, 3)
	assert.True(t, h.Storage0Responding, "one response restores")
}

func TestHistoriesWireRoundTrip(t *testing.T) {
	v := NewVault(2, 3, 20, 100)
	require.NoError(t, v.RecordPeriod(0, types.IfaceMgmt, 7, 2))
	require.NoError(t, v.RecordPeriod(1, types.IfaceCluster, 4, 0))
	v.Histories()[1].SMHeartbeatFail = true

	buf, err := EncodeHistories(v.Snapshots())
	require.NoError(t, err)
	assert.Equal(t, 2*HistorySize, len(buf))

	got, err := DecodeHistories(buf)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Controller)
	assert.Equal(t, types.IfaceMgmt, got[0].Network)
	assert.Equal(t, Entry{HostsEnabled: 7, HostsResponding: 5}, got[0].Entries[0])
	assert.True(t, got[1].SMHeartbeatFail)
}

func TestDecodeHistoriesRejectsPartialRecord(t *testing.T) {
	_, err := DecodeHistories(make([]byte, HistorySize+1))
	assert.Error(t, err)
}

func TestEncodePrefixByteLength(t *testing.T) {
	v := NewVault(2, 3, 20, 100)
	require.NoError(t, v.RecordPeriod(0, types.IfaceMgmt, 3, 0))
	require.NoError(t, v.RecordPeriod(0, types.IfaceCluster, 3, 1))

	buf, err := v.EncodePrefix()
	require.NoError(t, err)
	assert.Equal(t, headerSize+2*HistorySize, len(buf),
		"vault byte length equals header plus histories x history size")
}

func TestMergeSnapshotPopulatesPeerSection(t *testing.T) {
	v := NewVault(2, 3, 20, 100)
	snap := HistorySnapshot{
		Controller:         1,
		Network:            types.IfaceMgmt,
		Count:              2,
		OldestEntryIndex:   0,
		Storage0Responding: true,
	}
	snap.Entries[0] = Entry{HostsEnabled: 3, HostsResponding: 3}
	snap.Entries[1] = Entry{HostsEnabled: 3, HostsResponding: 2}

	require.NoError(t, v.MergeSnapshot(snap))
	require.Equal(t, 1, v.HistoryCount())
	h := v.Histories()[0]
	assert.Equal(t, 1, h.Controller)
	assert.Equal(t, 2, h.Len())
	assert.NoError(t, v.Validate())
}

// connRecorder captures what the SM reporter writes.
type connRecorder struct {
	written []byte
}

func (c *connRecorder) Write(p []byte) (int, error) {
	c.written = append(c.written, p...)
	return len(p), nil
}
func (c *connRecorder) Read(p []byte) (int, error)       { return 0, nil }
func (c *connRecorder) Close() error                     { return nil }
func (c *connRecorder) LocalAddr() net.Addr              { return nil }
func (c *connRecorder) RemoteAddr() net.Addr             { return nil }
func (c *connRecorder) SetDeadline(time.Time) error      { return nil }
func (c *connRecorder) SetReadDeadline(time.Time) error  { return nil }
func (c *connRecorder) SetWriteDeadline(time.Time) error { return nil }

func TestSMReporterFramesVaultPrefix(t *testing.T) {
	v := NewVault(2, 3, 20, 100)
	require.NoError(t, v.RecordPeriod(0, types.IfaceMgmt, 2, 0))

	conn := &connRecorder{}
	r := &SMReporter{addr: "/tmp/test.sock", dial: func(network, addr string) (net.Conn, error) {
		return conn, nil
	}}

	// Empty change reason: no delivery.
	require.NoError(t, r.ReportIfChanged(v, ""))
	assert.Empty(t, conn.written)

	require.NoError(t, r.ReportIfChanged(v, "heartbeat threshold crossed"))
	require.NotEmpty(t, conn.written)

	// 4-byte length prefix followed by exactly that many payload bytes.
	payloadLen := binary.BigEndian.Uint32(conn.written[:4])
	assert.Equal(t, int(payloadLen), len(conn.written)-4)
	assert.Equal(t, headerSize+1*HistorySize, int(payloadLen))
}
