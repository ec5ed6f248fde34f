package wire

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitedError reports that the service rejected the call and supplied a
// delay after which it may be retried.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
}

// ConnectionError reports that the connection to the service could not be
// established or was lost mid-call.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failure: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IOError reports a read or write failure on an established connection.
type IOError struct {
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("i/o failure: %v", e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// TransportError reports a failure in the underlying transport layer, such
// as an unexpected web-socket close or a malformed frame.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// VerificationError reports that the log's proof did not verify: the
// identity recorded in the log does not match what this device expects.
// Never retried.
type VerificationError struct {
	Reason string
}

func (e *VerificationError) Error() string {
	return "verification failed: " + e.Reason
}

// ProtocolError reports a malformed or policy-violating response from the
// service. Never retried.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

// Retryable reports whether err belongs to the transient class: rate
// limiting, connection failure, I/O failure, or transport failure. Network
// flakiness must never be confused with an identity change, so these retry;
// everything else is terminal.
func Retryable(err error) bool {
	var (
		rl *RateLimitedError
		ce *ConnectionError
		io *IOError
		te *TransportError
	)
	return errors.As(err, &rl) || errors.As(err, &ce) || errors.As(err, &io) || errors.As(err, &te)
}

// RetryAfter extracts a server-directed retry delay from err, if it carries
// one.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
