package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

var (
	// ErrMalformed marks a command that is recognized but structurally unusable.
	ErrMalformed = errors.New("malformed command")
	// ErrNotInGroup marks a title command sent outside a group chat.
	ErrNotInGroup = errors.New("command can only be used in groups")
	// ErrTitleTooLong marks a title over the platform's length limit.
	ErrTitleTooLong = errors.New("title too long")
	// ErrTitleInUse marks a title already held by another member of the chat.
	ErrTitleInUse = errors.New("title already in use")
	// ErrNotAdmin marks an issuer without administrator rights.
	ErrNotAdmin = errors.New("issuer is not an administrator")
	// ErrTargetIsBot marks a command aimed at the bot itself.
	ErrTargetIsBot = errors.New("target is the bot")
	// ErrShuttingDown marks work resolved early because the engine is stopping.
	ErrShuttingDown = errors.New("engine shutting down")
	// ErrAttemptsExhausted marks a mutation that hit the retry ceiling.
	ErrAttemptsExhausted = errors.New("retry attempts exhausted")
)

// ErrorKind classifies platform failures for the retry policy.
type ErrorKind int

const (
	// Permanent failures will not succeed on retry.
	Permanent ErrorKind = iota + 1
	// Transient failures (rate limits, timeouts) are expected to succeed later.
	Transient
)

func (k ErrorKind) String() string {
	switch k {
	case Permanent:
		return "permanent"
	case Transient:
		return "transient"
	default:
		return "unknown"
	}
}

// PlatformError is the classified error a Platform returns.
type PlatformError struct {
	Kind ErrorKind
	Op   string
	// RetryAfter is the wait the platform asked for, zero if none.
	RetryAfter time.Duration
	// Reason is a short user-safe description, e.g. "not enough rights".
	Reason string
	Err    error
}

func (e *PlatformError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s platform error: %s", e.Op, e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s: %s platform error: %v", e.Op, e.Kind, e.Err)
}

func (e *PlatformError) Unwrap() error { return e.Err }

// NewTransient wraps err as a retryable platform error.
func NewTransient(op string, retryAfter time.Duration, err error) *PlatformError {
	return &PlatformError{Kind: Transient, Op: op, RetryAfter: retryAfter, Err: err}
}

// NewPermanent wraps err as a terminal platform error.
func NewPermanent(op, reason string, err error) *PlatformError {
	return &PlatformError{Kind: Permanent, Op: op, Reason: reason, Err: err}
}

// classify resolves any error returned by a collaborator into a PlatformError.
// Unclassified errors come back with ok=false and are treated as internal.
func classify(err error) (*PlatformError, bool) {
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe, true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewTransient("", 0, err), true
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return NewTransient("", 0, err), true
	}

	return nil, false
}
