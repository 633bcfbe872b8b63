// Package hostfsm implements the Host Maintenance FSM Engine:
// per-host action handlers dispatched one per tick, each a
// non-blocking step function returning a TickResult rather than
// suspending mid-step.
package hostfsm

// TickResult is what a handler step function returns to the engine's
// tick loop.
type TickResult int

const (
	// Advance means the handler moved to its next stage this tick and
	// may be called again next tick.
	Advance TickResult = iota
	// Wait means the handler is suspended pending a timer or event and
	// performed no stage transition this tick.
	Wait
	// Fail means the handler hit a failure path; the engine has already
	// recorded the failure (alarm, task string, AR consultation) and the
	// action is being unwound.
	Fail
	// Complete means the handler reached its terminal stage and the
	// engine should clear host.Action to ActionNone.
	Complete
)
