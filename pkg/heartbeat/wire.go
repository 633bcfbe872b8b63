// Package heartbeat implements the multicast pulse request/reply
// protocol between the agent (active controller) and every
// client: agent-side period close and miss detection,
// client-side reply-with-echo, RRI caching, and the embedded cluster
// payload. Wire framing rides on pkg/msgplane; pkg/cluster owns the
// vault these payloads are built from and drained into.
package heartbeat

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cgts/mtce/pkg/cluster"
	"github.com/cgts/mtce/pkg/constants"
)

// Flag bits within the pulse flags word.
const (
	FlagPmondAlive           uint32 = 1 << 0
	FlagClusterHostProvision uint32 = 1 << 1

	// CtrlxBit/CtrlxMask encode the originating controller index in the
	// upper bits of the flags word (a documented bit
	// range"). Bits 8-9 give room for up to 4 controllers, well above
	// the 2-controller deployments this daemon targets.
	CtrlxBit  = 8
	CtrlxMask = 0x3 << CtrlxBit
)

// ControllerOf extracts the originating controller index from a flags
// word.
func ControllerOf(flags uint32) int {
	return int((flags & CtrlxMask) >> CtrlxBit)
}

// WithController sets the controller index bits in flags, returning
// the combined word.
func WithController(flags uint32, controller int) uint32 {
	return (flags &^ CtrlxMask) | (uint32(controller)<<CtrlxBit)&CtrlxMask
}

const (
	headerLen      = 15 // exact byte length of PulseHeaderReq/Rsp
	maxHostnameLen = 64
)

// Message is a decoded pulse request or reply.
type Message struct {
	IsReply     bool
	Hostname    string
	Seq         uint32
	RRI         uint32
	Flags       uint32
	Version     uint8
	ClusterView []cluster.HistorySnapshot // present iff Version >= 1
}

// Encode serializes m into the exact wire layout:
// 15-byte header, null-terminated hostname (fixed maxHostnameLen
// field), seq, RRI, flags, version, optional cluster payload.
func Encode(m Message) ([]byte, error) {
	if len(m.Hostname) >= maxHostnameLen {
		return nil, fmt.Errorf("heartbeat: hostname %q exceeds %d bytes", m.Hostname, maxHostnameLen-1)
	}

	buf := new(bytes.Buffer)

	tag := constants.PulseHeaderReq
	if m.IsReply {
		tag = constants.PulseHeaderRsp
	}
	buf.WriteString(tag)

	hostField := make([]byte, maxHostnameLen)
	copy(hostField, m.Hostname)
	buf.Write(hostField)

	binary.Write(buf, binary.BigEndian, m.Seq)
	binary.Write(buf, binary.BigEndian, m.RRI)
	binary.Write(buf, binary.BigEndian, m.Flags)
	buf.WriteByte(m.Version)

	if m.Version >= 1 && len(m.ClusterView) > 0 {
		payload, err := cluster.EncodeHistories(m.ClusterView)
		if err != nil {
			return nil, fmt.Errorf("heartbeat: encode cluster payload: %w", err)
		}
		buf.Write(payload)
	}

	return buf.Bytes(), nil
}

// minMessageLen is the smallest valid encoding: header + hostname field
// + seq + RRI + flags + version.
const minMessageLen = headerLen + maxHostnameLen + 4 + 4 + 4 + 1

// Decode parses buf into a Message. Size mismatches,
// missing header, or version < 1 with a cluster payload present are
// treated as malformed" — all three are reported as errors here so the
// caller can drop-and-count uniformly.
func Decode(buf []byte) (Message, error) {
	var m Message

	if len(buf) < minMessageLen {
		return m, fmt.Errorf("heartbeat: short message: %d bytes", len(buf))
	}

	switch {
	case bytes.HasPrefix(buf, []byte(constants.PulseHeaderReq)):
		m.IsReply = false
	case bytes.HasPrefix(buf, []byte(constants.PulseHeaderRsp)):
		m.IsReply = true
	default:
		return m, fmt.Errorf("heartbeat: missing or unrecognized header")
	}

	off := headerLen
	hostField := buf[off : off+maxHostnameLen]
	if nul := bytes.IndexByte(hostField, 0); nul >= 0 {
		m.Hostname = string(hostField[:nul])
	} else {
		m.Hostname = string(hostField)
	}
	off += maxHostnameLen

	m.Seq = binary.BigEndian.Uint32(buf[off : off+4])
	off += 4
	m.RRI = binary.BigEndian.Uint32(buf[off : off+4])
	off += 4
	m.Flags = binary.BigEndian.Uint32(buf[off : off+4])
	off += 4
	m.Version = buf[off]
	off++

	rest := buf[off:]
	if len(rest) == 0 {
		return m, nil
	}
	if m.Version < 1 {
		return m, fmt.Errorf("heartbeat: cluster payload present with version < 1")
	}

	histories, err := cluster.DecodeHistories(rest)
	if err != nil {
		return m, fmt.Errorf("heartbeat: decode cluster payload: %w", err)
	}
	m.ClusterView = histories
	return m, nil
}

// HasValidHeader is a cheap pre-check used before a full Decode, so a
// mismatched header can be counted without paying for full parsing.
func HasValidHeader(buf []byte) bool {
	return bytes.HasPrefix(buf, []byte(constants.PulseHeaderReq)) ||
		bytes.HasPrefix(buf, []byte(constants.PulseHeaderRsp))
}
