package cluster

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

// SMReporter serializes the vault prefix and delivers it to SM over a
// Unix domain stream socket whenever ReportIfChanged is called with a
// non-empty change reason. Framing is a 4-byte
// big-endian length prefix followed by the vault prefix bytes — the
// simplest framing consistent with "byte length = header + histories ×
// sizeof(history)" and symmetric with the HTTP collaborators' own
// explicit retry pattern.
type SMReporter struct {
	addr string
	dial func(network, addr string) (net.Conn, error)
}

// NewSMReporter creates a reporter dialing the SM socket at addr on
// every send (no persistent connection is required for what is, in
// practice, an infrequent "cluster changed" notification).
func NewSMReporter(addr string) *SMReporter {
	return &SMReporter{addr: addr, dial: net.Dial}
}

// ReportIfChanged serializes v's valid prefix and sends it to SM iff
// changeReason is non-empty (reports fire only when a change_reason
// string is non-empty").
func (r *SMReporter) ReportIfChanged(v *Vault, changeReason string) error {
	if changeReason == "" {
		return nil
	}
	if err := v.Validate(); err != nil {
		return fmt.Errorf("cluster: refusing to report invalid vault: %w", err)
	}

	payload, err := v.EncodePrefix()
	if err != nil {
		return fmt.Errorf("cluster: encode vault prefix: %w", err)
	}

	expected := headerSize + v.HistoryCount()*HistorySize
	if len(payload) != expected {
		return fmt.Errorf("cluster: encoded vault prefix length %d != expected %d", len(payload), expected)
	}

	conn, err := r.dial("unix", r.addr)
	if err != nil {
		return fmt.Errorf("cluster: dial SM socket %s: %w", r.addr, err)
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(2 * time.Second)); err != nil {
		return fmt.Errorf("cluster: set SM write deadline: %w", err)
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(payload)))
	if _, err := conn.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("cluster: write SM length prefix: %w", err)
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("cluster: write SM payload: %w", err)
	}
	return nil
}
