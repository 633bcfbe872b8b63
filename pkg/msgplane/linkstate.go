package msgplane

import (
	"encoding/binary"
	"fmt"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// nativeEndian assumes a little-endian target (x86_64, arm64), which
// covers every platform this daemon ships on; ifinfomsg is otherwise
// host-byte-order so there is no wire-format reason to special-case
// big-endian hosts here.
var nativeEndian = binary.LittleEndian

// LinkMonitor opens an AF_NETLINK/NETLINK_ROUTE socket and tracks
// "link up and running" per interface index by parsing RTM_NEWLINK and
// RTM_DELLINK messages. This is the minimal-dependency
// way to do it in Go: golang.org/x/sys/unix is already an indirect
// dependency of the copied tree (pulled in transitively), and a direct
// raw-socket parse avoids pulling in a heavier netlink framework for
// one flag per interface.
type LinkMonitor struct {
	fd int

	mu    sync.RWMutex
	state map[int]bool // ifindex -> up-and-running
}

// NewLinkMonitor opens the netlink socket and subscribes to link-state
// multicast group RTNLGRP_LINK.
func NewLinkMonitor() (*LinkMonitor, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW, unix.NETLINK_ROUTE)
	if err != nil {
		return nil, fmt.Errorf("msgplane: open netlink socket: %w", err)
	}
	addr := &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Groups: unix.RTMGRP_LINK,
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("msgplane: bind netlink socket: %w", err)
	}
	return &LinkMonitor{fd: fd, state: make(map[int]bool)}, nil
}

// Close releases the netlink socket.
func (m *LinkMonitor) Close() error {
	return unix.Close(m.fd)
}

// FD returns the raw file descriptor for inclusion in the engine's
// multiplex wait.
func (m *LinkMonitor) FD() int { return m.fd }

// LinkUpRunning reports the last-known "up and running" flag for
// ifindex, defaulting to false until a message has been observed.
func (m *LinkMonitor) LinkUpRunning(ifindex int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state[ifindex]
}

// Poll drains pending netlink messages and updates per-interface flags.
// Call this once per engine tick after the multiplex wait reports the
// netlink fd readable.
func (m *LinkMonitor) Poll() error {
	buf := make([]byte, unix.Getpagesize())
	for {
		n, _, err := unix.Recvfrom(m.fd, buf, unix.MSG_DONTWAIT)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return nil
			}
			return fmt.Errorf("msgplane: recv netlink: %w", err)
		}
		if n == 0 {
			return nil
		}
		msgs, err := syscall.ParseNetlinkMessage(buf[:n])
		if err != nil {
			return fmt.Errorf("msgplane: parse netlink message: %w", err)
		}
		m.apply(msgs)
	}
}

func (m *LinkMonitor) apply(msgs []syscall.NetlinkMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		switch msg.Header.Type {
		case unix.RTM_NEWLINK:
			ifi, up := parseIfinfomsg(msg.Data)
			if ifi != 0 {
				m.state[ifi] = up
			}
		case unix.RTM_DELLINK:
			ifi, _ := parseIfinfomsgIndex(msg.Data)
			if ifi != 0 {
				delete(m.state, ifi)
			}
		}
	}
}

// parseIfinfomsgIndex extracts only the interface index from an
// ifinfomsg, used on link deletion where the flags no longer matter.
func parseIfinfomsgIndex(data []byte) (int, bool) {
	if len(data) < 12 {
		return 0, false
	}
	index := int(nativeEndian.Uint32(data[4:8]))
	return index, true
}

// parseIfinfomsg extracts the interface index and the up-and-running
// flags (IFF_UP | IFF_RUNNING) from the fixed ifinfomsg header that
// prefixes an RTM_NEWLINK payload.
func parseIfinfomsg(data []byte) (ifindex int, upAndRunning bool) {
	if len(data) < 12 {
		return 0, false
	}
	index := int(nativeEndian.Uint32(data[4:8]))
	flags := nativeEndian.Uint32(data[8:12])
	up := flags&unix.IFF_UP != 0 && flags&unix.IFF_RUNNING != 0
	return index, up
}
