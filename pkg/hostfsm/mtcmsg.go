package hostfsm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cgts/mtce/pkg/constants"
	"github.com/cgts/mtce/pkg/types"
)

// CommandCode enumerates the mtc-command codes.
type CommandCode string

const (
	CmdReboot           CommandCode = "reboot"
	CmdReset            CommandCode = "reset"
	CmdWipeDisk         CommandCode = "wipedisk"
	CmdLazyReboot       CommandCode = "lazy-reboot"
	CmdSync             CommandCode = "sync"
	CmdLocked           CommandCode = "locked"
	CmdUnlocked         CommandCode = "unlocked"
	CmdRequestMtcAlive  CommandCode = "request-mtcAlive"
	CmdGoEnabledRequest CommandCode = "goenabled-request"
)

const maxCommandParams = 4

// MtcAliveMsg is the JSON payload carried after the mtcAlive wire
// header: host/service name, uptime, health, oob flags.
type MtcAliveMsg struct {
	Hostname string             `json:"hostname"`
	Service  string             `json:"service"`
	Uptime   uint64             `json:"uptime"`
	Health   types.HealthSignal `json:"health"`
	OOB      types.OOBFlags     `json:"oob"`
	Seq      uint32             `json:"seq"`
}

// MtcCommandMsg is the JSON payload for a command message, carrying up
// to maxCommandParams integer parameters.
type MtcCommandMsg struct {
	Hostname string      `json:"hostname"`
	Service  string      `json:"service"`
	Command  CommandCode `json:"command"`
	Params   []int64     `json:"params,omitempty"`
}

// Validate enforces the fixed small parameter count.
func (m MtcCommandMsg) Validate() bool {
	return len(m.Params) <= maxCommandParams
}

// EncodeMtcAlive frames an mtcAlive message: the event header tag
// followed by the JSON payload (a JSON payload embedded
// after a small header").
func EncodeMtcAlive(m MtcAliveMsg) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("hostfsm: encode mtcAlive: %w", err)
	}
	return append([]byte(constants.HeaderMtcEvent), body...), nil
}

// DecodeMtcAlive parses a framed mtcAlive datagram. A missing header
// or bad JSON is malformed: log and drop.
func DecodeMtcAlive(buf []byte) (MtcAliveMsg, error) {
	var m MtcAliveMsg
	if !bytes.HasPrefix(buf, []byte(constants.HeaderMtcEvent)) {
		return m, fmt.Errorf("hostfsm: mtcAlive header mismatch")
	}
	if err := json.Unmarshal(buf[len(constants.HeaderMtcEvent):], &m); err != nil {
		return m, fmt.Errorf("hostfsm: decode mtcAlive: %w", err)
	}
	if m.Hostname == "" {
		return m, fmt.Errorf("hostfsm: mtcAlive missing hostname")
	}
	return m, nil
}

// EncodeCommand frames an mtc-command with the request header tag.
func EncodeCommand(m MtcCommandMsg) ([]byte, error) {
	if !m.Validate() {
		return nil, fmt.Errorf("hostfsm: command %s carries %d params, max %d", m.Command, len(m.Params), maxCommandParams)
	}
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("hostfsm: encode command: %w", err)
	}
	return append([]byte(constants.HeaderMtcRequest), body...), nil
}

// DecodeCommand parses a framed mtc-command datagram (request tag) or
// a client acknowledgment (reply tag); isAck reports which.
func DecodeCommand(buf []byte) (m MtcCommandMsg, isAck bool, err error) {
	switch {
	case bytes.HasPrefix(buf, []byte(constants.HeaderMtcRequest)):
		err = json.Unmarshal(buf[len(constants.HeaderMtcRequest):], &m)
	case bytes.HasPrefix(buf, []byte(constants.HeaderMtcReply)):
		isAck = true
		err = json.Unmarshal(buf[len(constants.HeaderMtcReply):], &m)
	default:
		return m, false, fmt.Errorf("hostfsm: command header mismatch")
	}
	if err != nil {
		return m, isAck, fmt.Errorf("hostfsm: decode command: %w", err)
	}
	if m.Hostname == "" {
		return m, isAck, fmt.Errorf("hostfsm: command missing hostname")
	}
	return m, isAck, nil
}

// EncodeCommandAck frames a client acknowledgment of cmd.
func EncodeCommandAck(m MtcCommandMsg) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("hostfsm: encode ack: %w", err)
	}
	return append([]byte(constants.HeaderMtcReply), body...), nil
}
