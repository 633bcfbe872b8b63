package heartbeat

import (
	"time"

	"github.com/cgts/mtce/pkg/types"
)

// MissLevel is the threshold crossed by a host's consecutive-miss
// streak on one network, signaled to the host FSM.
type MissLevel int

const (
	MissNone MissLevel = iota
	MissMinor
	MissMajor
	MissFail
)

// hostPeriodState is the agent's per-host, per-network bookkeeping for
// the period currently in progress.
type hostPeriodState struct {
	pending   bool // no reply seen yet this period
	monitored bool
	missCount int
	lossCount int
	rri       uint32
}

// Thresholds bundles the consecutive-miss thresholds that promote a
// host's miss streak to minor/major/fail, sourced from pkg/config.
type Thresholds struct {
	Minor int
	Major int
	Fail  int
}

// Agent is the active-controller side of the pulse protocol: it
// multicasts a request on each network at the configured period,
// tracks which hosts reply within the period, and on period close
// promotes misses into MissLevel signals for the host FSM.
type Agent struct {
	Controller int
	Networks   []types.Iface
	Period     time.Duration
	Thresholds Thresholds

	seq uint32

	// state[network][hostname]
	state map[types.Iface]map[string]*hostPeriodState
}

// NewAgent creates an Agent for the given networks and period.
func NewAgent(controller int, networks []types.Iface, period time.Duration, thresholds Thresholds) *Agent {
	state := make(map[types.Iface]map[string]*hostPeriodState, len(networks))
	for _, n := range networks {
		state[n] = make(map[string]*hostPeriodState)
	}
	return &Agent{Controller: controller, Networks: networks, Period: period, Thresholds: thresholds, state: state}
}

// RegisterHost ensures per-network bookkeeping exists for hostname,
// called when a Host Record is added.
func (a *Agent) RegisterHost(hostname string) {
	for _, n := range a.Networks {
		if _, ok := a.state[n][hostname]; !ok {
			a.state[n][hostname] = &hostPeriodState{}
		}
	}
}

// UnregisterHost drops bookkeeping for hostname, called on Delete.
func (a *Agent) UnregisterHost(hostname string) {
	for _, n := range a.Networks {
		delete(a.state[n], hostname)
	}
}

// SetMonitoring turns heartbeat monitoring for hostname on or off
// without dropping its registration. The enable handler stops
// heartbeat before reset progression and the recovery handler
// restarts it; a stopped host is never marked pending
// and its miss streak is reset.
func (a *Agent) SetMonitoring(hostname string, on bool) {
	for _, n := range a.Networks {
		s, ok := a.state[n][hostname]
		if !ok {
			continue
		}
		s.monitored = on
		if !on {
			s.pending = false
			s.missCount = 0
		}
	}
}

// Monitored reports whether hostname is currently being monitored on
// at least one network.
func (a *Agent) Monitored(hostname string) bool {
	for _, n := range a.Networks {
		if s, ok := a.state[n][hostname]; ok && s.monitored {
			return true
		}
	}
	return false
}

// BeginPeriod marks every monitored host pending on every network and
// returns the new monotonically increasing sequence number to
// multicast.
func (a *Agent) BeginPeriod() uint32 {
	a.seq++
	for _, hosts := range a.state {
		for _, s := range hosts {
			if s.monitored {
				s.pending = true
			}
		}
	}
	return a.seq
}

// OnReply clears the pending flag for the replying host on network and
// resets its miss streak ("the first word of the reply
// payload identifies the responding host; it is used to clear the
// pending flag"). It reports whether the host had been missing, so the
// caller can clear a previously-raised minor/major alarm on the next
// successful period.
func (a *Agent) OnReply(network types.Iface, hostname string, flags uint32) (recovered bool) {
	s, ok := a.state[network][hostname]
	if !ok {
		return false
	}
	recovered = s.missCount > 0
	s.pending = false
	s.missCount = 0
	_ = ControllerOf(flags) // agent attribution check is the caller's responsibility
	return recovered
}

// ClosePeriod ends the current period: every host still pending on
// network accumulates a consecutive miss, and the result is reported
// as a MissLevel transition once a threshold is newly crossed this
// call. Hosts not crossing a new threshold this call
// report MissNone.
func (a *Agent) ClosePeriod(network types.Iface) map[string]MissLevel {
	out := make(map[string]MissLevel)
	for hostname, s := range a.state[network] {
		if !s.pending {
			continue
		}
		s.missCount++
		s.lossCount++

		level := MissNone
		switch {
		case a.Thresholds.Fail > 0 && s.missCount == a.Thresholds.Fail:
			level = MissFail
		case a.Thresholds.Major > 0 && s.missCount == a.Thresholds.Major:
			level = MissMajor
		case a.Thresholds.Minor > 0 && s.missCount == a.Thresholds.Minor:
			level = MissMinor
		}
		if level != MissNone {
			out[hostname] = level
		}
	}
	return out
}

// MissCount returns the current consecutive-miss streak for hostname
// on network, for logging/diagnostics.
func (a *Agent) MissCount(network types.Iface, hostname string) int {
	s, ok := a.state[network][hostname]
	if !ok {
		return 0
	}
	return s.missCount
}

// NotRespondingCount returns how many registered hosts are still
// pending on network — used by pkg/cluster's RecordPeriod call
// (monitored_hosts, monitored_hosts - not_responding).
func (a *Agent) NotRespondingCount(network types.Iface) int {
	n := 0
	for _, s := range a.state[network] {
		if s.pending {
			n++
		}
	}
	return n
}

// MonitoredHostCount returns the number of hosts being monitored on
// network.
func (a *Agent) MonitoredHostCount(network types.Iface) int {
	n := 0
	for _, s := range a.state[network] {
		if s.monitored {
			n++
		}
	}
	return n
}
