// Package errclass implements the five-tier error taxonomy shared by
// every external collaborator client (fault manager, inventory, SM,
// BMC): transient I/O, remote-service-unavailable, malformed/validation,
// operation failure, and fatal/programming. Collaborators classify their
// own errors into this taxonomy so callers (the alarm queue, the engine)
// switch on one vocabulary instead of each collaborator's raw errors.
package errclass

import "errors"

// Class is one of the five tiers.
type Class int

const (
	// Transient covers socket EAGAIN/EINTR, REST receive-retry, BMC
	// worker busy. Retry in place with a small hold-off.
	Transient Class = iota
	// RemoteUnavailable covers fault manager not connected, SM swact
	// pending, inventory 5xx. Apply per-subsystem back-off.
	RemoteUnavailable
	// Malformed covers bad pulse header, missing JSON key, wrong uuid,
	// invalid controller index. Log and drop; throttled counter.
	Malformed
	// OperationFailed covers reset/power-on/goenabled failure and
	// heartbeat loss. Consult the Auto-Recovery Controller.
	OperationFailed
	// Fatal covers invalid stage, empty work queue, double action.
	// Log at error, force a safe terminal stage; never abort the engine.
	Fatal
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case RemoteUnavailable:
		return "remote-unavailable"
	case Malformed:
		return "malformed"
	case OperationFailed:
		return "operation-failed"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with its classification. Reason is an
// optional fine-grained tag within a Class — e.g. a collaborator that
// returns multiple distinct Transient or Malformed outcomes (fault
// manager's not-connected vs. entity-not-found) can switch on Reason
// without inventing a new Class.
type Error struct {
	Class  Class
	Reason string
	Op     string // e.g. "faultclient.set", "invclient.updateTask"
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Class.String() + ": " + e.Op
	}
	return e.Class.String() + ": " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a classification and operation name. A nil err
// still yields a valid *Error so callers can classify a non-error
// condition (e.g. an HTTP status code) uniformly.
func New(class Class, op string, err error) *Error {
	return &Error{Class: class, Op: op, Err: err}
}

// NewReason is New with an additional fine-grained Reason tag.
func NewReason(class Class, reason, op string, err error) *Error {
	return &Error{Class: class, Reason: reason, Op: op, Err: err}
}

// ReasonOf extracts the Reason from err, or "" if unclassified or unset.
func ReasonOf(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ""
}

// ClassOf extracts the Class from err, defaulting to Fatal if err does
// not carry a classification (an unclassified error from a collaborator
// is itself a programming error — the collaborator must classify).
func ClassOf(err error) Class {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Class
	}
	return Fatal
}

// Is reports whether err is classified as class.
func Is(err error, class Class) bool {
	return ClassOf(err) == class
}
