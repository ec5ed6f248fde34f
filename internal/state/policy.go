package state

import (
	"fmt"
	"time"
)

// RetryInterval is the shortened schedule applied after the first failure in
// an escalation cycle, so a transiently broken account recovers quickly.
const RetryInterval = 24 * time.Hour

// Transition describes the outcome of recording one self-check failure.
type Transition struct {
	// Next is the state to persist. Ignored when Clear is set.
	Next SelfCheck
	// Clear requests removal of the persisted state entirely, restarting
	// the escalation ladder from "never checked".
	Clear bool
	// NextInterval overrides the periodic schedule for the following check;
	// zero means the default interval applies.
	NextInterval time.Duration
	// RefreshManifest requests a re-fetch of the account manifest. A linked
	// device may have rotated material this device has not synced yet, which
	// makes the first failure in a cycle look like a substitution when it is
	// not one.
	RefreshManifest bool
}

// RecordFailure computes the escalation step for one failed self-check.
// present is false when no state has ever been recorded. conservative
// controls the post-warning branch: when set, a failure after the warning
// falls back to FailedRepeatedly instead of clearing.
//
// The ladder deliberately resets to absent after a third consecutive
// failure so the escalation restarts at FailedOnce rather than pinning the
// account in a warned state forever.
func RecordFailure(current SelfCheck, present, conservative bool) Transition {
	if !present || current == Succeeded {
		return Transition{
			Next:            FailedOnce,
			NextInterval:    RetryInterval,
			RefreshManifest: true,
		}
	}
	switch current {
	case FailedOnce:
		return Transition{Next: FailedRepeatedly}
	case FailedRepeatedly:
		return Transition{Clear: true}
	case FailedRepeatedlyAndWarned:
		if conservative {
			return Transition{Next: FailedRepeatedly}
		}
		return Transition{Clear: true}
	default:
		// Unknown values are rejected at load time by FromRaw; treat a
		// stray one like a fresh failure.
		return Transition{
			Next:            FailedOnce,
			NextInterval:    RetryInterval,
			RefreshManifest: true,
		}
	}
}

// ShouldWarn reports whether the repeated-failure warning is due. It is true
// exactly when the state is FailedRepeatedly and the warning has not been
// shown yet.
func ShouldWarn(current SelfCheck, present bool) bool {
	return present && current == FailedRepeatedly
}

// Warned returns the state after the warning has been surfaced. Calling it
// from any state other than FailedRepeatedly is a programming error.
func Warned(current SelfCheck, present bool) (SelfCheck, error) {
	if !present || current != FailedRepeatedly {
		return 0, fmt.Errorf("setWarned called in state %v (present=%v): warning is only valid from failedRepeatedly", current, present)
	}
	return FailedRepeatedlyAndWarned, nil
}
