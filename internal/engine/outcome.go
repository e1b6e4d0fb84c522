package engine

import (
	"fmt"
	"time"
)

// OutcomeKind is the terminal state a command reached.
type OutcomeKind int

const (
	Applied OutcomeKind = iota + 1
	RejectedByPolicy
	RejectedByPlatform
	Deferred
)

func (k OutcomeKind) String() string {
	switch k {
	case Applied:
		return "applied"
	case RejectedByPolicy:
		return "rejected_by_policy"
	case RejectedByPlatform:
		return "rejected_by_platform"
	case Deferred:
		return "deferred"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is produced once per command and consumed by the response path.
type Outcome struct {
	Kind OutcomeKind
	// Reason is the user-facing explanation sent to the issuer.
	Reason string
	// RetryAfter is set on Deferred outcomes when the platform suggested a wait.
	RetryAfter time.Duration
	// Cause is the underlying error, if any. It is never shown to users.
	Cause error
}

// State is a step in a command's lifecycle.
type State int

const (
	StateReceived State = iota
	StateParsed
	StateAuthorized
	StateApplying
	StateDone
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateParsed:
		return "parsed"
	case StateAuthorized:
		return "authorized"
	case StateApplying:
		return "applying"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
