package hostfsm

import (
	"context"
	"time"

	"github.com/cgts/mtce/pkg/bmc"
	"github.com/cgts/mtce/pkg/constants"
	"github.com/cgts/mtce/pkg/events"
	"github.com/cgts/mtce/pkg/heartbeat"
	"github.com/cgts/mtce/pkg/timers"
	"github.com/cgts/mtce/pkg/types"
)

// alwaysOnTick runs the handlers that are independent of the action in
// progress: the BMC arbiter, the offline/online monitors, the
// in-service and out-of-service test timers, and the degrade audit.
func (e *Engine) alwaysOnTick(ctx context.Context, h *types.HostRecord, now time.Time) {
	e.bmcTick(ctx, h, now)
	e.offlineMonitor(ctx, h, now)
	e.onlineMonitor(ctx, h)
	e.pxebootMonitorTick(h)
	e.inserviceTestTick(h, now)
	e.oosTestTick(h, now)
	e.degradeAudit(h)
}

// Pxeboot mtcAlive monitor thresholds: loss at 5 consecutive
// non-advances, alarm at 10, alarm clear after 5 consecutive advances.
const (
	pxebootLossThreshold      = 5
	pxebootLossAlarmThreshold = 10
	pxebootRecoveryThreshold  = 5
)

// pxebootMonitorTick drives the always-on pxeboot sequence monitor:
// each time its check timer rings without the sequence having advanced
// the monitor accumulates a miss, and loss/alarm transitions are acted
// on here.
func (e *Engine) pxebootMonitorTick(h *types.HostRecord) {
	if h.PxebootIP == nil {
		return
	}
	m := e.pxe[h.Hostname]
	if m == nil {
		return
	}
	period := 2 * e.cfg.Heartbeat.Period
	if period <= 0 {
		return
	}
	if !h.Timers.Armed(timers.PxebootTimer) && !h.Timers.Rung(timers.PxebootTimer) {
		h.Timers.Arm(timers.PxebootTimer, period)
		return
	}
	if !h.Timers.Drain(timers.PxebootTimer) {
		return
	}
	h.Timers.Arm(timers.PxebootTimer, period)

	lv := h.Liveness[types.IfacePxeboot]
	if lv != nil && lv.MtcAliveSeqLast != lv.MtcAliveSeqCmp {
		lv.MtcAliveSeqCmp = lv.MtcAliveSeqLast // sequence advanced this cycle
		return
	}

	switch m.OnCheckTimeout() {
	case heartbeat.TransitionLoss:
		if lv != nil {
			lv.LossCount = clampLoss(lv.LossCount + 1)
		}
		e.sendMtcCmd(h, types.IfacePxeboot, CmdRequestMtcAlive)
	case heartbeat.TransitionAlarmRaise:
		e.raiseAlarm(h, constants.AlarmIDPxebootMtcAlive, constants.SeverityMajor)
	}
}

func (e *Engine) bmcTick(ctx context.Context, h *types.HostRecord, now time.Time) {
	arb, ok := e.oob[h.Hostname]
	if !ok {
		return
	}
	event, err := arb.Tick(ctx, h, now)
	if err != nil {
		e.lg.Debug().Err(err).Str("hostname", h.Hostname).Msg("bmc arbiter tick")
	}
	switch event {
	case bmc.AccessEventAlarmRaise:
		e.raiseAlarm(h, constants.AlarmIDBMAccess, constants.SeverityWarning)
	case bmc.AccessEventAlarmClear:
		e.clearAlarm(h, constants.AlarmIDBMAccess)
	case bmc.AccessEventLost:
		e.lg.Info().Str("hostname", h.Hostname).Msg("bmc access lost")
	case bmc.AccessEventGained:
		e.lg.Info().Str("hostname", h.Hostname).Str("protocol", h.BMC.Protocol).Msg("bmc accessible")
		e.persistBMCState(h)
	}
}

// offlineMonitor declares a host offline once mtcAlive has been silent
// on every network past the offline window. It never overrides
// powered-off or not-installed, which are set by their own handlers.
func (e *Engine) offlineMonitor(ctx context.Context, h *types.HostRecord, now time.Time) {
	if !h.MtcAliveOnline {
		return
	}
	window := e.cfg.Timeout.Offline
	if window <= 0 {
		return
	}
	for _, iface := range []types.Iface{types.IfaceMgmt, types.IfaceCluster} {
		lv := h.Liveness[iface]
		if lv == nil || lv.LastSeen.IsZero() {
			continue
		}
		if now.Sub(lv.LastSeen) < window {
			return // at least one network is still alive
		}
	}
	h.MtcAliveOnline = false
	if h.Triad.Avail == types.AvailPoweredOff || h.Triad.Avail == types.AvailNotInstalled {
		return
	}
	if h.Triad.Oper == types.OperDisabled {
		h.Triad.Avail = types.AvailOffline
		e.reportState(ctx, h)
	}
}

// onlineMonitor promotes a locked-disabled-offline host to online once
// mtcAlive resumes: the host is reachable but not in service.
func (e *Engine) onlineMonitor(ctx context.Context, h *types.HostRecord) {
	if !h.MtcAliveOnline {
		return
	}
	if h.Triad.Admin == types.AdminLocked && h.Triad.Avail == types.AvailOffline {
		h.Triad.Avail = types.AvailOnline
		e.reportState(ctx, h)
	}
}

// inserviceTestTick re-arms the in-service test period and audits the
// health signal for unlocked-enabled hosts when it rings.
func (e *Engine) inserviceTestTick(h *types.HostRecord, now time.Time) {
	period := e.cfg.Timeout.InsvTestPeriod
	if period <= 0 {
		return
	}
	if !h.Timers.Armed(timers.InsvTestTimer) && !h.Timers.Rung(timers.InsvTestTimer) {
		h.Timers.Arm(timers.InsvTestTimer, period)
		return
	}
	if !h.Timers.Drain(timers.InsvTestTimer) {
		return
	}
	h.Timers.Arm(timers.InsvTestTimer, period)

	if h.Triad.Admin != types.AdminUnlocked || h.Triad.Oper != types.OperEnabled {
		return
	}
	if h.Health == types.HealthUnhealthy {
		h.Degrade.Set(types.DegradeResource)
	} else if h.Health == types.HealthHealthy {
		h.Degrade.Clear(types.DegradeResource)
	}
}

// oosTestTick re-arms the out-of-service test period for locked hosts.
func (e *Engine) oosTestTick(h *types.HostRecord, now time.Time) {
	period := e.cfg.Timeout.OosTestPeriod
	if period <= 0 || h.Triad.Admin != types.AdminLocked {
		return
	}
	if !h.Timers.Armed(timers.OosTestTimer) && !h.Timers.Rung(timers.OosTestTimer) {
		h.Timers.Arm(timers.OosTestTimer, period)
		return
	}
	if h.Timers.Drain(timers.OosTestTimer) {
		h.Timers.Arm(timers.OosTestTimer, period)
	}
}

// degradeAudit keeps availability consistent with the degrade mask for
// unlocked-enabled hosts.
func (e *Engine) degradeAudit(h *types.HostRecord) {
	if h.Triad.Admin != types.AdminUnlocked || h.Triad.Oper != types.OperEnabled {
		return
	}
	before := h.Triad.Avail
	h.RecomputeAvailability()
	if before != h.Triad.Avail {
		if h.Triad.Avail == types.AvailDegraded {
			e.publish(events.EventHostDegraded, h, "")
		} else {
			e.publish(events.EventHostAvailable, h, "")
		}
	}
}
