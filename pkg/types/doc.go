/*
Package types defines the maintenance core's data model: the per-host
record and the enums that make up its administrative/operational/
availability triad, its action and stage cursors, its liveness and
degrade bookkeeping, and its BMC sub-state.

# Ownership

A HostRecord is exclusively owned by the Host FSM Engine
(pkg/hostfsm.Engine). No other package stores a *HostRecord across
calls; collaborators receive narrow views or copies and report back
through typed results, never by reaching into engine memory.

# Enumeration pattern

All enums use typed string constants, e.g.:

	type AdminState string
	const (
		AdminLocked   AdminState = "locked"
		AdminUnlocked AdminState = "unlocked"
	)

Stage cursors are a single Stage (int) type shared by every handler;
each handler in pkg/hostfsm defines its own named constants in that
shared numeric space, matching the "struct of enums" translation
the engine expects.

# See also

  - pkg/hostfsm for the engine that owns and advances HostRecord
  - pkg/cluster for the process-wide Cluster Vault
  - pkg/alarmqueue for the Alarm Queue Entry type
*/
package types
