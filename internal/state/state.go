// Package state models the persisted outcome of the local account's
// transparency self-check and the escalation policy applied when repeated
// self-checks fail.
package state

import (
	"errors"
	"fmt"
)

// ErrCorruptState is returned when a persisted raw value does not map to any
// known state. A bad stored value is data corruption and must surface, never
// default silently.
var ErrCorruptState = errors.New("corrupt self-check state")

// SelfCheck is the recorded outcome of the most recent self-check cycle.
// Absence (never yet checked) is represented out of band by the store, not
// as a zero value here.
type SelfCheck int

const (
	// Succeeded means the last self-check verified the local identity
	// against the log.
	Succeeded SelfCheck = 1
	// FailedOnce means exactly one consecutive self-check has failed.
	FailedOnce SelfCheck = 2
	// FailedRepeatedly means at least two consecutive self-checks have
	// failed and the user has not yet been warned.
	FailedRepeatedly SelfCheck = 3
	// FailedRepeatedlyAndWarned means the repeated-failure warning has been
	// shown to the user.
	FailedRepeatedlyAndWarned SelfCheck = 4
)

// String returns the state name for logging.
func (s SelfCheck) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case FailedOnce:
		return "failedOnce"
	case FailedRepeatedly:
		return "failedRepeatedly"
	case FailedRepeatedlyAndWarned:
		return "failedRepeatedlyAndWarned"
	default:
		return fmt.Sprintf("SelfCheck(%d)", int(s))
	}
}

// Raw returns the integer form persisted in the store.
func (s SelfCheck) Raw() int64 {
	return int64(s)
}

// FromRaw maps a stored integer back to a state. Unknown values return
// ErrCorruptState.
func FromRaw(raw int64) (SelfCheck, error) {
	switch SelfCheck(raw) {
	case Succeeded, FailedOnce, FailedRepeatedly, FailedRepeatedlyAndWarned:
		return SelfCheck(raw), nil
	default:
		return 0, fmt.Errorf("%w: raw value %d", ErrCorruptState, raw)
	}
}
