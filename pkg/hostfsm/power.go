package hostfsm

import (
	"context"
	"strings"
	"time"

	"github.com/cgts/mtce/pkg/bmc"
	"github.com/cgts/mtce/pkg/timers"
	"github.com/cgts/mtce/pkg/types"
)

const powerMaxRetries = 3

// powerHandler drives power-on and power-off as mirrored sub-FSMs with
// explicit send/recv/query/verify stages.
// Power-off commits `powered-off` only after an explicit power-status
// query confirms it.
func (e *Engine) powerHandler(ctx context.Context, h *types.HostRecord, now time.Time) TickResult {
	arb, ok := e.oob[h.Hostname]
	if !ok || h.BMC.IP == nil {
		e.setTask(ctx, h, "Power action failed: BMC not provisioned")
		return Fail
	}

	switch h.PowerStage {

	case PowerStart:
		if !arb.Accessible() {
			e.setTask(ctx, h, "Power action failed: BMC not accessible")
			return Fail
		}
		h.CmdRetryCount = 0
		if h.Action == types.ActionPowerOff {
			e.setTask(ctx, h, "Powering Off")
			if e.hb != nil {
				e.hb.SetMonitoring(h.Hostname, false)
			}
			h.PowerStage = PowerOffSend
		} else {
			e.setTask(ctx, h, "Powering On")
			h.PowerStage = PowerOnSend
		}
		return Advance

	case PowerOffSend:
		return e.powerSend(h, arb, bmc.OpPowerOff, PowerOffRecv)
	case PowerOffRecv:
		return e.powerRecv(ctx, h, arb, PowerOffSend, PowerOffQuery)
	case PowerOffQuery:
		return e.powerSend(h, arb, bmc.OpPowerStatus, PowerOffVerify)
	case PowerOffVerify:
		res, status := arb.Recv()
		if status == bmc.RecvRetry {
			return Wait
		}
		if status == bmc.RecvPass && strings.EqualFold(res.Info.PowerState, "off") {
			h.Triad.Oper = types.OperDisabled
			h.Triad.Avail = types.AvailPoweredOff
			h.MtcAliveOnline = false
			h.PowerStage = PowerDone
			return Advance
		}
		// Not off yet (or query failed): re-query after a hold-off,
		// bounded by the shared retry cap.
		h.CmdRetryCount++
		if h.CmdRetryCount > powerMaxRetries {
			e.setTask(ctx, h, "Power-Off failed: power state not confirmed")
			return Fail
		}
		h.Timers.Arm(timers.MtcTimer, 10*time.Second)
		h.PowerStage = PowerOffQuery
		return Wait

	case PowerOnSend:
		return e.powerSend(h, arb, bmc.OpPowerOn, PowerOnRecv)
	case PowerOnRecv:
		return e.powerRecv(ctx, h, arb, PowerOnSend, PowerOnQuery)
	case PowerOnQuery:
		return e.powerSend(h, arb, bmc.OpPowerStatus, PowerOnVerify)
	case PowerOnVerify:
		res, status := arb.Recv()
		if status == bmc.RecvRetry {
			return Wait
		}
		if status == bmc.RecvPass && strings.EqualFold(res.Info.PowerState, "on") {
			// The host boots from here; availability stays offline until
			// mtcAlive resumes and the online monitor promotes it.
			h.Triad.Avail = types.AvailOffline
			h.PowerStage = PowerDone
			return Advance
		}
		h.CmdRetryCount++
		if h.CmdRetryCount > powerMaxRetries {
			e.setTask(ctx, h, "Power-On failed: power state not confirmed")
			return Fail
		}
		h.PowerStage = PowerOnQuery
		return Wait

	case PowerDone:
		if h.Action == types.ActionPowerOff {
			e.setTask(ctx, h, "Power-Off: Complete")
		} else {
			e.setTask(ctx, h, "Power-On: Complete")
		}
		e.reportState(ctx, h)
		return Complete

	default:
		e.lg.Error().Str("hostname", h.Hostname).Int("stage", int(h.PowerStage)).Msg("power: invalid stage")
		e.setTask(ctx, h, "Power action failed")
		return Fail
	}
}

// powerSend dispatches op once the worker is idle and advances to next.
func (e *Engine) powerSend(h *types.HostRecord, arb OOB, op bmc.CommandOp, next types.Stage) TickResult {
	if !arb.Done() {
		return Wait
	}
	if h.Timers.Armed(timers.MtcTimer) && !h.Timers.Drain(timers.MtcTimer) {
		return Wait
	}
	if err := arb.Send(h, bmc.Command{Op: op}); err != nil {
		return Wait
	}
	h.PowerStage = next
	return Advance
}

// powerRecv polls the in-flight command: pass advances to next, error
// retries from the matching send stage up to the shared cap.
func (e *Engine) powerRecv(ctx context.Context, h *types.HostRecord, arb OOB, retryStage, next types.Stage) TickResult {
	res, status := arb.Recv()
	switch status {
	case bmc.RecvRetry:
		return Wait
	case bmc.RecvError:
		h.CmdRetryCount++
		if h.CmdRetryCount > powerMaxRetries {
			e.lg.Warn().Err(res.Err).Str("hostname", h.Hostname).Msg("power command retries exhausted")
			e.setTask(ctx, h, "Power action failed")
			return Fail
		}
		h.PowerStage = retryStage
		return Advance
	}
	h.PowerStage = next
	return Advance
}
