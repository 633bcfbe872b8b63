package hostfsm

import (
	"context"
	"time"

	"github.com/cgts/mtce/pkg/bmc"
	"github.com/cgts/mtce/pkg/timers"
	"github.com/cgts/mtce/pkg/types"
)

const resetMaxRetries = 3

// resetRetryHoldoff spaces QUEUE retry attempts of the out-of-band
// reset command.
const resetRetryHoldoff = 10 * time.Second

// resetHandler drives an operator reset: an
// out-of-band reset that fails if the BMC is unprovisioned or the host
// never goes offline within the configured timeout.
func (e *Engine) resetHandler(ctx context.Context, h *types.HostRecord, now time.Time) TickResult {
	switch h.ResetStage {

	case ResetStart:
		arb, ok := e.oob[h.Hostname]
		if !ok || h.BMC.IP == nil {
			e.setTask(ctx, h, "Reset failed: BMC not provisioned")
			return Fail
		}
		if !arb.Accessible() {
			e.setTask(ctx, h, "Reset failed: BMC not accessible")
			return Fail
		}
		e.setTask(ctx, h, "Resetting")
		h.CmdRetryCount = 0
		h.ResetStage = ResetReqSend
		return Advance

	case ResetReqSend:
		arb := e.oob[h.Hostname]
		if !arb.Done() {
			return Wait
		}
		if err := arb.Send(h, bmc.Command{Op: bmc.OpPowerReset}); err != nil {
			e.setTask(ctx, h, "Reset failed")
			return Fail
		}
		h.ResetStage = ResetRespWait
		return Advance

	case ResetRespWait:
		arb := e.oob[h.Hostname]
		res, status := arb.Recv()
		switch status {
		case bmc.RecvRetry:
			return Wait
		case bmc.RecvError:
			h.CmdRetryCount++
			if h.CmdRetryCount > resetMaxRetries {
				e.lg.Warn().Err(res.Err).Str("hostname", h.Hostname).Msg("reset retries exhausted")
				e.setTask(ctx, h, "Reset failed")
				return Fail
			}
			h.Timers.Arm(timers.MtcTimer, resetRetryHoldoff)
			h.ResetStage = ResetQueueRetry
			return Advance
		}
		h.MtcAliveOnline = true // force the offline monitor to observe the drop
		h.Timers.Arm(timers.OfflineTimer, e.cfg.Timeout.ResetOffline)
		h.ResetStage = ResetOfflineWait
		return Advance

	case ResetQueueRetry:
		if h.Timers.Drain(timers.MtcTimer) {
			h.ResetStage = ResetReqSend
			return Advance
		}
		return Wait

	case ResetOfflineWait:
		if h.Triad.Avail == types.AvailOffline || !h.MtcAliveOnline {
			h.Timers.Cancel(timers.OfflineTimer)
			h.Triad.Avail = types.AvailOffline
			h.ResetStage = ResetDone
			return Advance
		}
		if h.Timers.Drain(timers.OfflineTimer) {
			e.setTask(ctx, h, "Reset failed: host did not go offline")
			return Fail
		}
		return Wait

	case ResetDone:
		e.setTask(ctx, h, "Reset: Complete")
		e.reportState(ctx, h)
		return Complete

	default:
		e.lg.Error().Str("hostname", h.Hostname).Int("stage", int(h.ResetStage)).Msg("reset: invalid stage")
		e.setTask(ctx, h, "Reset failed")
		return Fail
	}
}
