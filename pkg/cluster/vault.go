// Package cluster owns the Cluster Vault: a
// process-wide singleton, written only on the active controller, that
// aggregates per-(controller, network) heartbeat history rings and
// reports the valid prefix to SM whenever a change_reason fires. The
// vault is populated by pkg/heartbeat's period-close and drained by
// the SM reporter in this package.
package cluster

import (
	"fmt"

	"github.com/cgts/mtce/pkg/types"
)

// Entry is one ring slot: hosts enabled vs. responding during that
// heartbeat period.
type Entry struct {
	HostsEnabled    int
	HostsResponding int
}

// History is the ring of up to RingSize entries for one (controller,
// network) pair, plus the storage-0 and SM-heartbeat-fail flags
// specific to that history.
type History struct {
	Controller int
	Network    types.Iface

	entries          []Entry
	oldestEntryIndex int
	ringSize         int

	Storage0Responding bool
	SMHeartbeatFail    bool

	// storage0MissStreak counts consecutive storage-0 non-responses;
	// Storage0Responding flips false once this crosses the configured
	// threshold.
	storage0MissStreak int
}

func newHistory(controller int, network types.Iface, ringSize int) *History {
	if ringSize <= 0 {
		ringSize = 20
	}
	return &History{Controller: controller, Network: network, ringSize: ringSize, Storage0Responding: true}
}

// Push appends one entry, evicting the oldest once the ring is full.
// oldest_entry_index always points at the next write slot.
func (h *History) Push(e Entry) {
	if len(h.entries) < h.ringSize {
		h.entries = append(h.entries, e)
	} else {
		h.entries[h.oldestEntryIndex] = e
		h.oldestEntryIndex = (h.oldestEntryIndex + 1) % h.ringSize
	}
}

// Entries returns the current (unordered-by-age) ring contents for
// read access; callers that need chronological order should read
// oldest-first starting at OldestEntryIndex once the ring is full.
func (h *History) Entries() []Entry { return h.entries }

// OldestEntryIndex returns the next write slot.
func (h *History) OldestEntryIndex() int { return h.oldestEntryIndex }

// Len returns the number of populated entries, saturating at RingSize.
func (h *History) Len() int { return len(h.entries) }

// UpdateStorage0 applies one period's storage-0 responding observation,
// using a dedicated consecutive-miss threshold distinct from the
// regular per-host loss thresholds.
func (h *History) UpdateStorage0(responding bool, missThreshold int) {
	if responding {
		h.storage0MissStreak = 0
		h.Storage0Responding = true
		return
	}
	h.storage0MissStreak++
	if h.storage0MissStreak >= missThreshold {
		h.Storage0Responding = false
	}
}

// Vault is the process-wide cluster view singleton.
type Vault struct {
	Version             uint32
	Revision            uint32
	Magic               uint32
	HeartbeatPeriodMsec uint32
	Storage0Enabled     bool

	controllers int
	networkMax  int
	ringSize    int

	histories []*History
}

// Magic is the fixed vault magic value, arbitrary but stable across
// restarts so a stale on-disk/peer copy can be detected.
const Magic = 0x6374_7673 // "ctvs"

// NewVault creates an empty vault sized for the given controller and
// network counts.
func NewVault(controllers, networkMax, ringSize int, heartbeatPeriodMsec uint32) *Vault {
	return &Vault{
		Version:             1,
		Magic:               Magic,
		HeartbeatPeriodMsec: heartbeatPeriodMsec,
		controllers:         controllers,
		networkMax:          networkMax,
		ringSize:            ringSize,
	}
}

// historyOf returns the history for (controller, network), creating it
// if this is the first observation — histories index is dense in
// [0, histories_count) and each (controller, network) pair is unique
// .
func (v *Vault) historyOf(controller int, network types.Iface) (*History, error) {
	if controller < 0 || controller >= v.controllers {
		return nil, fmt.Errorf("cluster: controller index %d out of range [0,%d)", controller, v.controllers)
	}
	for _, h := range v.histories {
		if h.Controller == controller && h.Network == network {
			return h, nil
		}
	}
	if len(v.histories) >= v.controllers*v.networkMax {
		return nil, fmt.Errorf("cluster: histories at capacity (%d)", v.controllers*v.networkMax)
	}
	h := newHistory(controller, network, v.ringSize)
	v.histories = append(v.histories, h)
	return h, nil
}

// RecordPeriod updates the next entry for (controller, network) with
// (monitoredHosts, monitoredHosts-notResponding) at a period boundary
// .
func (v *Vault) RecordPeriod(controller int, network types.Iface, monitoredHosts, notResponding int) error {
	h, err := v.historyOf(controller, network)
	if err != nil {
		return err
	}
	h.Push(Entry{HostsEnabled: monitoredHosts, HostsResponding: monitoredHosts - notResponding})
	return nil
}

// InjectPeerGap records a (0,0) entry for the peer controller's
// histories when the peer is enabled but no reply arrived this period,
// so SM sees the gap rather than a silently-missing sample.
func (v *Vault) InjectPeerGap(peerController int, network types.Iface) error {
	h, err := v.historyOf(peerController, network)
	if err != nil {
		return err
	}
	h.Push(Entry{})
	return nil
}

// Histories returns every history currently tracked, in insertion
// (dense-index) order.
func (v *Vault) Histories() []*History { return v.histories }

// HistoryCount returns len(v.histories); invariant: ≤ controllers × networks.
func (v *Vault) HistoryCount() int { return len(v.histories) }

// Validate checks the vault's structural invariants.
func (v *Vault) Validate() error {
	if len(v.histories) > v.controllers*v.networkMax {
		return fmt.Errorf("cluster: histories_count %d exceeds controllers×networks %d", len(v.histories), v.controllers*v.networkMax)
	}
	seen := make(map[[2]interface{}]bool, len(v.histories))
	for _, h := range v.histories {
		key := [2]interface{}{h.Controller, h.Network}
		if seen[key] {
			return fmt.Errorf("cluster: duplicate history for (controller=%d, network=%s)", h.Controller, h.Network)
		}
		seen[key] = true

		if h.Len() > h.ringSize {
			return fmt.Errorf("cluster: history (%d,%s) entries %d exceeds ring size %d", h.Controller, h.Network, h.Len(), h.ringSize)
		}
		if h.oldestEntryIndex >= h.ringSize {
			return fmt.Errorf("cluster: history (%d,%s) oldest_entry_index %d >= ring size %d", h.Controller, h.Network, h.oldestEntryIndex, h.ringSize)
		}
		for _, e := range h.entries {
			if e.HostsResponding > e.HostsEnabled {
				return fmt.Errorf("cluster: history (%d,%s) hosts_responding %d > hosts_enabled %d", h.Controller, h.Network, e.HostsResponding, e.HostsEnabled)
			}
		}
	}
	return nil
}
