package hostfsm

import (
	"time"

	"github.com/cgts/mtce/pkg/alarmqueue"
	"github.com/cgts/mtce/pkg/constants"
	"github.com/cgts/mtce/pkg/events"
	"github.com/cgts/mtce/pkg/metrics"
	"github.com/cgts/mtce/pkg/types"
)

// raiseAlarm enqueues a set request and mirrors the severity locally.
// Re-raising at the same severity is a no-op so period-close storms do
// not flood the queue.
func (e *Engine) raiseAlarm(h *types.HostRecord, alarmID, severity string) {
	if h.Alarms[alarmID] == severity {
		return
	}
	h.Alarms[alarmID] = severity
	dropped := e.alarms.Enqueue(alarmqueue.Entry{
		Hostname:  h.Hostname,
		AlarmID:   alarmID,
		Operation: alarmqueue.OpSet,
		Severity:  severity,
		Entity:    "host=" + h.Hostname,
		Timestamp: time.Now(),
	})
	if dropped {
		metrics.AlarmQueueDropsTotal.WithLabelValues("overflow").Inc()
		e.lg.Warn().Str("hostname", h.Hostname).Str("alarm", alarmID).Msg("alarm queue full; set request dropped")
	}
	e.publish(events.EventAlarmRaised, h, alarmID)
}

// clearAlarm enqueues a clear request if the alarm is currently
// mirrored as raised.
func (e *Engine) clearAlarm(h *types.HostRecord, alarmID string) {
	if _, raised := h.Alarms[alarmID]; !raised {
		return
	}
	delete(h.Alarms, alarmID)
	dropped := e.alarms.Enqueue(alarmqueue.Entry{
		Hostname:  h.Hostname,
		AlarmID:   alarmID,
		Operation: alarmqueue.OpClear,
		Severity:  constants.SeverityCleared,
		Entity:    "host=" + h.Hostname,
		Timestamp: time.Now(),
	})
	if dropped {
		metrics.AlarmQueueDropsTotal.WithLabelValues("overflow").Inc()
	}
	e.publish(events.EventAlarmCleared, h, alarmID)
}

// clearAllAlarms enqueues clears for every mirrored alarm, used by the
// Delete handler.
func (e *Engine) clearAllAlarms(h *types.HostRecord) {
	for alarmID := range h.Alarms {
		e.clearAlarm(h, alarmID)
	}
}

// arTaskString maps an auto-recovery cause to its operator-readable
// disabled task string.
func arTaskString(cause types.ARCause) string {
	switch cause {
	case types.ARCauseConfig:
		return constants.TaskARDisabledConfig
	case types.ARCauseGoEnable:
		return constants.TaskARDisabledGoEnable
	case types.ARCauseHostServices:
		return constants.TaskARDisabledHostServices
	case types.ARCauseHeartbeat:
		return constants.TaskARDisabledHeartbeat
	case types.ARCauseLUKS:
		return constants.TaskARDisabledLUKS
	default:
		return "Auto recovery disabled, Lock/Unlock to retry"
	}
}

// arAlarmID maps an auto-recovery cause to the cause-appropriate
// alarm identifier.
func arAlarmID(cause types.ARCause) string {
	switch cause {
	case types.ARCauseConfig:
		return constants.AlarmIDConfig
	case types.ARCauseLUKS:
		return constants.AlarmIDLUKS
	case types.ARCauseHeartbeat:
		return constants.AlarmIDHeartbeatMgmt
	default:
		return constants.AlarmIDEnable
	}
}
