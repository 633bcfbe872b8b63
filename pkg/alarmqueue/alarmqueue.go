// Package alarmqueue implements the bounded alarm request FIFO:
// tail-enqueue, head-dequeue, against a pkg/faultclient
// collaborator, with the exact retry/drop policy table keyed off
// pkg/errclass classifications.
package alarmqueue

import (
	"time"

	"github.com/cgts/mtce/pkg/errclass"
)

// Op is the alarm operation carried in an Entry.
type Op string

const (
	OpSet   Op = "set"
	OpClear Op = "clear"
	OpMsg   Op = "msg"
)

// Entry is one alarm request.
type Entry struct {
	Hostname  string
	AlarmID   string
	Operation Op
	Severity  string
	Entity    string
	Prefix    string
	Timestamp time.Time
}

// FaultClient is the collaborator contract the queue drains into. Set
// and Clear must classify every returned error via pkg/errclass so the
// queue can apply the retry/drop table without knowing the
// collaborator's wire format.
type FaultClient interface {
	Set(e Entry) error
	Clear(e Entry) error
	Msg(e Entry) error
}

// Queue is the bounded, ordered alarm request queue. Not safe for
// concurrent use by more than one goroutine; the engine is its only
// caller.
type Queue struct {
	cap     int
	holdoff time.Duration

	entries    []Entry
	retryUntil time.Time // single back-off timer gating the head
}

// New creates a Queue bounded at cap entries with the given retry
// hold-off applied to transient head failures.
func New(cap int, holdoff time.Duration) *Queue {
	if cap <= 0 {
		cap = 2000
	}
	return &Queue{cap: cap, holdoff: holdoff}
}

// Len returns the current queue depth.
func (q *Queue) Len() int { return len(q.entries) }

// Enqueue appends e to the tail. If the queue is already at capacity,
// the new (newest) entry is dropped instead — overflow discards
// newest, preserving older alarms.
func (q *Queue) Enqueue(e Entry) (dropped bool) {
	if len(q.entries) >= q.cap {
		return true
	}
	q.entries = append(q.entries, e)
	return false
}

// Outcome classifies what happened to the head entry on one Drain call.
type Outcome int

const (
	OutcomeEmpty                Outcome = iota
	OutcomeRetryHeld                    // transient: kept at head, hold-off armed
	OutcomeDroppedNotFound              // entity-not-found: popped, logged
	OutcomeDroppedAlreadyExists         // alarm-already-exists: popped, logged
	OutcomeDroppedInvalid               // invalid-request/param/attribute/db/resource/no-mem
	OutcomeSuccess                      // popped
)

// Drain attempts to deliver the head entry via client, applying the
// retry/drop policy table. It is a no-op (OutcomeEmpty)
// if the queue is empty or the single retry hold-off has not yet
// elapsed for a previously-retried head.
func (q *Queue) Drain(client FaultClient, now time.Time) Outcome {
	if len(q.entries) == 0 {
		return OutcomeEmpty
	}
	if !q.retryUntil.IsZero() && now.Before(q.retryUntil) {
		return OutcomeRetryHeld
	}

	head := q.entries[0]
	var err error
	switch head.Operation {
	case OpSet:
		err = client.Set(head)
	case OpClear:
		err = client.Clear(head)
	default:
		err = client.Msg(head)
	}

	if err == nil {
		q.pop()
		q.retryUntil = time.Time{}
		return OutcomeSuccess
	}

	switch errclass.ClassOf(err) {
	case errclass.Transient:
		q.retryUntil = now.Add(q.holdoff)
		return OutcomeRetryHeld
	case errclass.RemoteUnavailable:
		q.retryUntil = now.Add(q.holdoff)
		return OutcomeRetryHeld
	default:
		switch errclass.ReasonOf(err) {
		case "entity-not-found":
			q.pop()
			q.retryUntil = time.Time{}
			return OutcomeDroppedNotFound
		case "alarm-already-exists":
			q.pop()
			q.retryUntil = time.Time{}
			return OutcomeDroppedAlreadyExists
		default:
			q.pop()
			q.retryUntil = time.Time{}
			return OutcomeDroppedInvalid
		}
	}
}

func (q *Queue) pop() {
	if len(q.entries) == 0 {
		return
	}
	q.entries = q.entries[1:]
}

// Peek returns the head entry without removing it, for logging.
func (q *Queue) Peek() (Entry, bool) {
	if len(q.entries) == 0 {
		return Entry{}, false
	}
	return q.entries[0], true
}
