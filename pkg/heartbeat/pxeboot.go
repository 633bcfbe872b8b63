package heartbeat

// PxebootStage is the always-on pxeboot mtcAlive monitor FSM
// stage: a separate, always-on monitor distinct from the
// main pulse request/reply protocol, since pxeboot carries sequence
// numbers on an install-time channel rather than a periodic pulse.
type PxebootStage int

const (
	PxebootStageStart PxebootStage = iota
	PxebootStageSend
	PxebootStageMonitor
	PxebootStageWait
	PxebootStageCheck
	PxebootStageFail
)

// PxebootMonitor tracks one host's pxeboot mtcAlive sequence and
// derives miss/loss/alarm transitions.
type PxebootMonitor struct {
	Stage PxebootStage

	lastSeq     uint32
	haveSeq     bool
	Miss        int
	Loss        int
	AlarmRaised bool

	LossThreshold      int
	LossAlarmThreshold int
	RecoveryThreshold  int
	recoveryCount      int
}

// NewPxebootMonitor creates a monitor with the given thresholds.
func NewPxebootMonitor(lossThreshold, lossAlarmThreshold, recoveryThreshold int) *PxebootMonitor {
	return &PxebootMonitor{
		Stage:              PxebootStageStart,
		LossThreshold:      lossThreshold,
		LossAlarmThreshold: lossAlarmThreshold,
		RecoveryThreshold:  recoveryThreshold,
	}
}

// Transition is what the caller should do in response to one
// OnSequence call.
type Transition int

const (
	TransitionNone             Transition = iota
	TransitionRequestImmediate            // sequence regression: treat as client restart
	TransitionLoss                        // crossed the loss threshold
	TransitionAlarmRaise                  // crossed the higher loss-alarm threshold
	TransitionAlarmClear                  // recovered for RecoveryThreshold consecutive advances
)

// OnSequence processes one observed pxeboot mtcAlive sequence number.
// A regression (seq <= lastSeq after having seen one) is treated as a
// client restart, not a loss, and triggers a single immediate request
// rather than accumulating miss
// count.
func (m *PxebootMonitor) OnSequence(seq uint32) Transition {
	if !m.haveSeq {
		m.haveSeq = true
		m.lastSeq = seq
		m.Stage = PxebootStageMonitor
		return TransitionNone
	}

	if seq <= m.lastSeq {
		m.lastSeq = seq
		m.Miss = 0
		m.Stage = PxebootStageSend
		return TransitionRequestImmediate
	}

	m.lastSeq = seq
	m.Miss = 0
	m.recoveryCount++
	m.Stage = PxebootStageMonitor

	if m.AlarmRaised && m.recoveryCount >= m.RecoveryThreshold {
		m.AlarmRaised = false
		return TransitionAlarmClear
	}
	return TransitionNone
}

// OnCheckTimeout is called when the monitor's per-cycle wait timer
// rings without a new sequence having arrived: consecutive non-advance
// is a miss; crossing LossThreshold is a loss; crossing
// LossAlarmThreshold raises an alarm.
func (m *PxebootMonitor) OnCheckTimeout() Transition {
	m.Miss++
	m.recoveryCount = 0
	m.Stage = PxebootStageCheck

	if m.Miss == m.LossAlarmThreshold {
		m.AlarmRaised = true
		m.Stage = PxebootStageFail
		return TransitionAlarmRaise
	}
	if m.Miss == m.LossThreshold {
		m.Loss++
		m.Stage = PxebootStageFail
		return TransitionLoss
	}
	m.Stage = PxebootStageWait
	return TransitionNone
}
