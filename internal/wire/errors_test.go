package wire

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryableClassification(t *testing.T) {
	retryable := []error{
		&RateLimitedError{RetryAfter: time.Minute},
		&ConnectionError{Err: errors.New("refused")},
		&IOError{Err: errors.New("reset")},
		&TransportError{Err: errors.New("bad frame")},
	}
	for _, err := range retryable {
		assert.True(t, Retryable(err), "%T should be retryable", err)
		// Wrapping must not change the classification.
		assert.True(t, Retryable(fmt.Errorf("during check: %w", err)))
	}

	terminal := []error{
		&VerificationError{Reason: "key mismatch"},
		&ProtocolError{Reason: "bad body"},
		errors.New("something else"),
	}
	for _, err := range terminal {
		assert.False(t, Retryable(err), "%T should be terminal", err)
	}
	assert.False(t, Retryable(nil))
}

func TestRetryAfterExtraction(t *testing.T) {
	d, ok := RetryAfter(&RateLimitedError{RetryAfter: 42 * time.Second})
	require.True(t, ok)
	assert.Equal(t, 42*time.Second, d)

	d, ok = RetryAfter(fmt.Errorf("wrapped: %w", &RateLimitedError{RetryAfter: time.Second}))
	require.True(t, ok)
	assert.Equal(t, time.Second, d)

	_, ok = RetryAfter(&ConnectionError{Err: errors.New("refused")})
	assert.False(t, ok)
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")
	assert.ErrorIs(t, &ConnectionError{Err: inner}, inner)
	assert.ErrorIs(t, &IOError{Err: inner}, inner)
	assert.ErrorIs(t, &TransportError{Err: inner}, inner)
}
