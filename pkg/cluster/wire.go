package cluster

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cgts/mtce/pkg/constants"
	"github.com/cgts/mtce/pkg/types"
)

// HistorySnapshot is the wire-shaped view of one History embedded in a
// pulse reply's cluster payload or serialized to SM: a fixed-size
// record regardless of how many ring slots are actually populated, so
// "byte length = header + histories × sizeof(history)" holds exactly
// .
type HistorySnapshot struct {
	Controller         int
	Network            types.Iface
	Entries            [constants.HistoryRingSize]Entry
	Count              int // populated entries, saturates at ring size
	OldestEntryIndex   int
	Storage0Responding bool
	SMHeartbeatFail    bool
}

// Snapshot captures h as a fixed-size HistorySnapshot for wire framing.
func (h *History) Snapshot() HistorySnapshot {
	var s HistorySnapshot
	s.Controller = h.Controller
	s.Network = h.Network
	s.Count = len(h.entries)
	s.OldestEntryIndex = h.oldestEntryIndex
	s.Storage0Responding = h.Storage0Responding
	s.SMHeartbeatFail = h.SMHeartbeatFail
	copy(s.Entries[:], h.entries)
	return s
}

// Snapshots returns every history as a HistorySnapshot, in the same
// dense order as Histories().
func (v *Vault) Snapshots() []HistorySnapshot {
	out := make([]HistorySnapshot, len(v.histories))
	for i, h := range v.histories {
		out[i] = h.Snapshot()
	}
	return out
}

var networkCodes = map[types.Iface]byte{
	types.IfaceMgmt:    0,
	types.IfaceCluster: 1,
	types.IfacePxeboot: 2,
}

var networkNames = map[byte]types.Iface{
	0: types.IfaceMgmt,
	1: types.IfaceCluster,
	2: types.IfacePxeboot,
}

// HistorySize is the exact encoded byte length of one HistorySnapshot:
// controller(1) + network(1) + oldest-index(1) + count(1) + flags(1)
// + ring entries (HistoryRingSize × 8 bytes, two uint32 each).
const HistorySize = 1 + 1 + 1 + 1 + 1 + constants.HistoryRingSize*8

const (
	flagStorage0Responding byte = 1 << 0
	flagSMHeartbeatFail    byte = 1 << 1
)

// EncodeHistories serializes snapshots to the fixed-size wire layout
// used both by the pulse cluster payload and by SM delivery
// (byte length equals histories × sizeof(history)).
func EncodeHistories(snapshots []HistorySnapshot) ([]byte, error) {
	buf := make([]byte, 0, len(snapshots)*HistorySize)
	for _, s := range snapshots {
		code, ok := networkCodes[s.Network]
		if !ok {
			return nil, fmt.Errorf("cluster: unknown network %q", s.Network)
		}
		if s.Controller < 0 || s.Controller > 255 {
			return nil, fmt.Errorf("cluster: controller index %d out of byte range", s.Controller)
		}

		var flags byte
		if s.Storage0Responding {
			flags |= flagStorage0Responding
		}
		if s.SMHeartbeatFail {
			flags |= flagSMHeartbeatFail
		}

		rec := make([]byte, HistorySize)
		rec[0] = byte(s.Controller)
		rec[1] = code
		rec[2] = byte(s.OldestEntryIndex)
		rec[3] = byte(s.Count)
		rec[4] = flags

		off := 5
		for _, e := range s.Entries {
			binary.BigEndian.PutUint32(rec[off:off+4], uint32(e.HostsEnabled))
			binary.BigEndian.PutUint32(rec[off+4:off+8], uint32(e.HostsResponding))
			off += 8
		}
		buf = append(buf, rec...)
	}
	return buf, nil
}

// DecodeHistories parses a byte slice produced by EncodeHistories. Per
// the wire contract, a length not evenly divisible by HistorySize is
// malformed.
func DecodeHistories(buf []byte) ([]HistorySnapshot, error) {
	if len(buf)%HistorySize != 0 {
		return nil, fmt.Errorf("cluster: cluster payload length %d not a multiple of history size %d", len(buf), HistorySize)
	}
	n := len(buf) / HistorySize
	out := make([]HistorySnapshot, 0, n)
	for i := 0; i < n; i++ {
		rec := buf[i*HistorySize : (i+1)*HistorySize]
		network, ok := networkNames[rec[1]]
		if !ok {
			return nil, fmt.Errorf("cluster: unknown network code %d", rec[1])
		}
		s := HistorySnapshot{
			Controller:         int(rec[0]),
			Network:            network,
			OldestEntryIndex:   int(rec[2]),
			Count:              int(rec[3]),
			Storage0Responding: rec[4]&flagStorage0Responding != 0,
			SMHeartbeatFail:    rec[4]&flagSMHeartbeatFail != 0,
		}
		off := 5
		for j := range s.Entries {
			s.Entries[j] = Entry{
				HostsEnabled:    int(binary.BigEndian.Uint32(rec[off : off+4])),
				HostsResponding: int(binary.BigEndian.Uint32(rec[off+4 : off+8])),
			}
			off += 8
		}
		out = append(out, s)
	}
	return out, nil
}

// MergeSnapshot replaces the vault's history for (s.Controller,
// s.Network) with the contents of s — used to populate the
// peer-controller history section from pulse replies.
func (v *Vault) MergeSnapshot(s HistorySnapshot) error {
	h, err := v.historyOf(s.Controller, s.Network)
	if err != nil {
		return err
	}
	count := s.Count
	if count > len(s.Entries) {
		count = len(s.Entries)
	}
	h.entries = append(h.entries[:0], s.Entries[:count]...)
	h.oldestEntryIndex = s.OldestEntryIndex % h.ringSize
	h.Storage0Responding = s.Storage0Responding
	h.SMHeartbeatFail = s.SMHeartbeatFail
	return nil
}

// headerSize is the byte length of the serialized vault header
// (version, revision, magic, heartbeat period, storage-0 flag), used
// by both SM delivery framing and length-sanity checks.
const headerSize = 4 + 4 + 4 + 4 + 1

// EncodeHeader serializes the vault header fields.
func (v *Vault) EncodeHeader() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, v.Version)
	binary.Write(buf, binary.BigEndian, v.Revision)
	binary.Write(buf, binary.BigEndian, v.Magic)
	binary.Write(buf, binary.BigEndian, v.HeartbeatPeriodMsec)
	if v.Storage0Enabled {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// EncodePrefix serializes the header followed by every valid history,
// matching "the vault size in bytes is the prefix covering the valid
// histories only" and the exact byte-count invariant in
// exact byte-count contract: header_size + histories × history_size.
func (v *Vault) EncodePrefix() ([]byte, error) {
	body, err := EncodeHistories(v.Snapshots())
	if err != nil {
		return nil, err
	}
	out := append(v.EncodeHeader(), body...)
	return out, nil
}
