package hostfsm

import (
	"context"
	"time"

	"github.com/cgts/mtce/pkg/bmc"
	"github.com/cgts/mtce/pkg/timers"
	"github.com/cgts/mtce/pkg/types"
)

const wipeAckTimeout = 1 * time.Minute

// reinstallHandler drives reinstall over
// either of two paths: BMC-provisioned (power-off, one-time netboot,
// power-on, wait offline then online) or BMC-absent (wipedisk command,
// ACK, wait offline then online). Losing BMC access mid-FSM aborts
// with a specific task message.
func (e *Engine) reinstallHandler(ctx context.Context, h *types.HostRecord, now time.Time) TickResult {
	usingBMC := h.ReinstallStage == ReinstallPowerOff ||
		h.ReinstallStage == ReinstallSetNetboot ||
		h.ReinstallStage == ReinstallPowerOn
	if usingBMC {
		if arb, ok := e.oob[h.Hostname]; !ok || !arb.Accessible() {
			e.setTask(ctx, h, "Reinstall failed: BMC access lost")
			return Fail
		}
	}

	switch h.ReinstallStage {

	case ReinstallStart:
		e.setTask(ctx, h, "Reinstalling")
		if arb, ok := e.oob[h.Hostname]; ok && arb.Accessible() {
			h.ReinstallStage = ReinstallPowerOff
		} else {
			h.ReinstallStage = ReinstallWipeDiskSend
		}
		return Advance

	case ReinstallPowerOff:
		arb := e.oob[h.Hostname]
		if !arb.Done() {
			return Wait
		}
		if err := arb.Send(h, bmc.Command{Op: bmc.OpPowerOff}); err != nil {
			e.setTask(ctx, h, "Reinstall failed: power-off")
			return Fail
		}
		h.ReinstallStage = ReinstallSetNetboot
		return Advance

	case ReinstallSetNetboot:
		arb := e.oob[h.Hostname]
		res, status := arb.Recv()
		if status == bmc.RecvRetry {
			return Wait
		}
		if status == bmc.RecvError {
			e.lg.Warn().Err(res.Err).Str("hostname", h.Hostname).Msg("reinstall power-off failed")
			e.setTask(ctx, h, "Reinstall failed: power-off")
			return Fail
		}
		if err := arb.Send(h, bmc.Command{Op: bmc.OpSetBootDevice, Params: map[string]string{"device": "pxe"}}); err != nil {
			e.setTask(ctx, h, "Reinstall failed: netboot")
			return Fail
		}
		h.ReinstallStage = ReinstallPowerOn
		return Advance

	case ReinstallPowerOn:
		arb := e.oob[h.Hostname]
		res, status := arb.Recv()
		if status == bmc.RecvRetry {
			return Wait
		}
		if status == bmc.RecvError {
			e.lg.Warn().Err(res.Err).Str("hostname", h.Hostname).Msg("reinstall netboot set failed")
			e.setTask(ctx, h, "Reinstall failed: netboot")
			return Fail
		}
		if err := arb.Send(h, bmc.Command{Op: bmc.OpPowerOn}); err != nil {
			e.setTask(ctx, h, "Reinstall failed: power-on")
			return Fail
		}
		h.Timers.Arm(timers.OfflineTimer, e.cfg.Timeout.ResetOffline)
		h.ReinstallStage = ReinstallOfflineWait
		return Advance

	case ReinstallWipeDiskSend:
		h.WipeAcked = false
		e.sendMtcCmd(h, types.IfaceMgmt, CmdWipeDisk)
		h.Timers.Arm(timers.MtcTimer, wipeAckTimeout)
		h.ReinstallStage = ReinstallWipeDiskAck
		return Advance

	case ReinstallWipeDiskAck:
		if h.WipeAcked {
			h.Timers.Cancel(timers.MtcTimer)
			h.Timers.Arm(timers.OfflineTimer, e.cfg.Timeout.ResetOffline)
			h.ReinstallStage = ReinstallOfflineWait
			return Advance
		}
		if h.Timers.Drain(timers.MtcTimer) {
			e.setTask(ctx, h, "Reinstall failed: wipedisk not acknowledged")
			return Fail
		}
		return Wait

	case ReinstallOfflineWait:
		if h.Triad.Avail == types.AvailOffline || !h.MtcAliveOnline {
			h.Timers.Cancel(timers.OfflineTimer)
			h.Triad.Avail = types.AvailNotInstalled
			e.reportState(ctx, h)
			h.Timers.Arm(timers.OnlineTimer, e.cfg.Timeout.Online)
			h.ReinstallStage = ReinstallOnlineWait
			return Advance
		}
		if h.Timers.Drain(timers.OfflineTimer) {
			e.setTask(ctx, h, "Reinstall failed: host did not go offline")
			return Fail
		}
		return Wait

	case ReinstallOnlineWait:
		if h.MtcAliveOnline {
			h.Timers.Cancel(timers.OnlineTimer)
			h.Triad.Avail = types.AvailOnline
			h.ReinstallStage = ReinstallDone
			return Advance
		}
		if h.Timers.Drain(timers.OnlineTimer) {
			e.setTask(ctx, h, "Reinstall failed: host did not come online")
			return Fail
		}
		return Wait

	case ReinstallDone:
		e.setTask(ctx, h, "Reinstall: Complete")
		e.reportState(ctx, h)
		return Complete

	default:
		e.lg.Error().Str("hostname", h.Hostname).Int("stage", int(h.ReinstallStage)).Msg("reinstall: invalid stage")
		e.setTask(ctx, h, "Reinstall failed")
		return Fail
	}
}
