package hostfsm

import (
	"context"
	"strings"
	"time"

	"github.com/cgts/mtce/pkg/bmc"
	"github.com/cgts/mtce/pkg/constants"
	"github.com/cgts/mtce/pkg/timers"
	"github.com/cgts/mtce/pkg/types"
)

// powerCycleHandler drives power-cycle:
// power-off, a monitored cool-off, power-on with verification, and a
// hold-off soak. Exceeding the attempt cap leaves the host
// powered-down and blocks auto-recovery until manual action.
func (e *Engine) powerCycleHandler(ctx context.Context, h *types.HostRecord, now time.Time) TickResult {
	arb, ok := e.oob[h.Hostname]
	if !ok || h.BMC.IP == nil {
		e.setTask(ctx, h, "Power-Cycle failed: BMC not provisioned")
		return Fail
	}

	switch h.PowerCycleStage {

	case PowerCycleStart:
		h.PowerCycleAttempts++
		if cap := e.cfg.Timeout.PowerCycleMaxTries; cap > 0 && h.PowerCycleAttempts > cap {
			// Host stays powered-down; auto-recovery is blocked until an
			// operator intervenes.
			h.AR.Disabled = true
			h.AR.TaskString = "Power-Cycle: max retries; manual action required"
			e.setTask(ctx, h, h.AR.TaskString)
			e.raiseAlarm(h, constants.AlarmIDPowerCycle, constants.SeverityCritical)
			return Fail
		}
		if !arb.Accessible() {
			e.setTask(ctx, h, "Power-Cycle failed: BMC not accessible")
			return Fail
		}
		e.setTask(ctx, h, "Power-Cycling")
		if e.hb != nil {
			e.hb.SetMonitoring(h.Hostname, false)
		}
		h.PowerCycleStage = PowerCycleOff
		return Advance

	case PowerCycleOff:
		if !arb.Done() {
			return Wait
		}
		if err := arb.Send(h, bmc.Command{Op: bmc.OpPowerOff}); err != nil {
			e.setTask(ctx, h, "Power-Cycle failed: power-off send")
			return Fail
		}
		h.PowerCycleStage = PowerCycleOffCmndWait
		return Advance

	case PowerCycleOffCmndWait:
		res, status := arb.Recv()
		switch status {
		case bmc.RecvRetry:
			return Wait
		case bmc.RecvError:
			e.lg.Warn().Err(res.Err).Str("hostname", h.Hostname).Msg("power-cycle power-off failed")
			h.PowerCycleStage = PowerCycleStart
			return Advance
		}
		h.PowerCycleStage = PowerCycleOffWait
		return Advance

	case PowerCycleOffWait:
		if !arb.Done() {
			if res, status := arb.Recv(); status == bmc.RecvPass &&
				strings.EqualFold(res.Info.PowerState, "off") {
				h.Triad.Avail = types.AvailPoweredOff
				h.MtcAliveOnline = false
				h.Timers.Arm(timers.MtcTimer, e.cfg.Timeout.PowerCycleCooloff)
				h.PowerCycleStage = PowerCycleCoolOff
				return Advance
			}
			return Wait
		}
		_ = arb.Send(h, bmc.Command{Op: bmc.OpPowerStatus})
		return Wait

	case PowerCycleCoolOff:
		// Per-minute countdown for the operator's benefit.
		if remaining := h.Timers.Remaining(timers.MtcTimer, now); remaining > 0 {
			if int(remaining/time.Second)%60 == 0 {
				e.lg.Info().Str("hostname", h.Hostname).Dur("remaining", remaining).Msg("power-cycle cool-off")
			}
		}
		if h.Timers.Drain(timers.MtcTimer) {
			h.PowerCycleStage = PowerCycleOn
			return Advance
		}
		return Wait

	case PowerCycleOn:
		if !arb.Done() {
			return Wait
		}
		if err := arb.Send(h, bmc.Command{Op: bmc.OpPowerOn}); err != nil {
			h.PowerCycleStage = PowerCycleStart
			return Advance
		}
		h.PowerCycleStage = PowerCycleOnVerify
		return Advance

	case PowerCycleOnVerify:
		res, status := arb.Recv()
		switch status {
		case bmc.RecvRetry:
			return Wait
		case bmc.RecvError:
			e.lg.Warn().Err(res.Err).Str("hostname", h.Hostname).Msg("power-cycle power-on failed")
			h.PowerCycleStage = PowerCycleStart
			return Advance
		}
		_ = arb.Send(h, bmc.Command{Op: bmc.OpPowerStatus})
		h.PowerCycleStage = PowerCycleOnVerifyWait
		return Advance

	case PowerCycleOnVerifyWait:
		res, status := arb.Recv()
		if status == bmc.RecvRetry {
			return Wait
		}
		if status == bmc.RecvPass && strings.EqualFold(res.Info.PowerState, "on") {
			h.Triad.Avail = types.AvailOffline
			h.PowerCycleStage = PowerCycleOnWait
			h.Timers.Arm(timers.MtcAliveTimer, e.mtcAliveTimeout(h))
			return Advance
		}
		h.PowerCycleStage = PowerCycleStart
		return Advance

	case PowerCycleOnWait:
		if h.MtcAliveOnline {
			h.Timers.Cancel(timers.MtcAliveTimer)
			h.Timers.Arm(timers.MtcTimer, e.cfg.Timeout.PowerCycleHoldoff)
			h.PowerCycleStage = PowerCycleHoldoff
			return Advance
		}
		if h.Timers.Drain(timers.MtcAliveTimer) {
			h.PowerCycleStage = PowerCycleStart
			return Advance
		}
		return Wait

	case PowerCycleHoldoff:
		if h.Timers.Drain(timers.MtcTimer) {
			h.PowerCycleStage = PowerCycleDone
			return Advance
		}
		return Wait

	case PowerCycleDone:
		h.PowerCycleAttempts = 0
		e.clearAlarm(h, constants.AlarmIDPowerCycle)
		e.setTask(ctx, h, "Power-Cycle: Complete")
		e.reportState(ctx, h)
		return Complete

	default:
		e.lg.Error().Str("hostname", h.Hostname).Int("stage", int(h.PowerCycleStage)).Msg("power-cycle: invalid stage")
		e.setTask(ctx, h, "Power-Cycle failed")
		return Fail
	}
}
