package store

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"transparencyd/internal/identity"
	"transparencyd/internal/state"
)

// Collections. Scalar check state lives in one collection; schedule
// bookkeeping lives under its own namespace.
const (
	collectionCheck = "KeyTransparency"
	collectionCron  = "KeyTransparencyCron"
)

// Keys in collectionCheck.
const (
	keyEnabled        = "isEnabled"
	keySelfCheckState = "selfCheckState"
	keyFirstTimeEdu   = "shouldShowFirstTimeEducation"
	keyTreeHead       = "distinguishedTreeHead"
)

// Keys in collectionCron.
const (
	keyLastSelfCheck = "lastSelfCheckAt"
	keyNextInterval  = "nextCheckInterval"
)

// IsEnabled reads the opt-in flag. Absent means disabled.
func (tx *ReadTx) IsEnabled() (bool, error) {
	return tx.getBool(collectionCheck, keyEnabled)
}

// SetEnabled writes the opt-in flag. This only flips the flag; the cascade
// on disable is composed by the caller.
func (tx *WriteTx) SetEnabled(enabled bool) error {
	return tx.setBool(collectionCheck, keyEnabled, enabled)
}

// SelfCheckState reads the persisted self-check outcome. present is false
// when no outcome has ever been recorded. A stored value outside the known
// set returns state.ErrCorruptState.
func (tx *ReadTx) SelfCheckState() (st state.SelfCheck, present bool, err error) {
	raw, err := tx.getValue(collectionCheck, keySelfCheckState)
	if err != nil {
		return 0, false, err
	}
	if raw == nil {
		return 0, false, nil
	}
	if len(raw) != 8 {
		return 0, false, fmt.Errorf("%w: stored value is %d bytes", state.ErrCorruptState, len(raw))
	}
	st, err = state.FromRaw(int64(binary.BigEndian.Uint64(raw)))
	if err != nil {
		return 0, false, err
	}
	return st, true, nil
}

// SetSelfCheckState persists a self-check outcome.
func (tx *WriteTx) SetSelfCheckState(st state.SelfCheck) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(st.Raw()))
	return tx.setValue(collectionCheck, keySelfCheckState, buf[:])
}

// ClearSelfCheckState removes the recorded outcome, returning the account
// to the never-checked state.
func (tx *WriteTx) ClearSelfCheckState() error {
	return tx.deleteValue(collectionCheck, keySelfCheckState)
}

// ShouldShowFirstTimeEducation reads the one-time education flag. Absent
// means the education has not been shown yet and is due.
func (tx *ReadTx) ShouldShowFirstTimeEducation() (bool, error) {
	raw, err := tx.getValue(collectionCheck, keyFirstTimeEdu)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return true, nil
	}
	return len(raw) == 1 && raw[0] == 1, nil
}

// SetShouldShowFirstTimeEducation writes the one-time education flag.
func (tx *WriteTx) SetShouldShowFirstTimeEducation(show bool) error {
	return tx.setBool(collectionCheck, keyFirstTimeEdu, show)
}

// DistinguishedTreeHead reads the last validated log root. Returns nil when
// none has been recorded.
func (tx *ReadTx) DistinguishedTreeHead() ([]byte, error) {
	return tx.getValue(collectionCheck, keyTreeHead)
}

// SetDistinguishedTreeHead writes the last validated log root. Latest write
// wins; there is no application-level invariant beyond that.
func (tx *WriteTx) SetDistinguishedTreeHead(head []byte) error {
	return tx.setValue(collectionCheck, keyTreeHead, head)
}

// ClearDistinguishedTreeHead removes the recorded root.
func (tx *WriteTx) ClearDistinguishedTreeHead() error {
	return tx.deleteValue(collectionCheck, keyTreeHead)
}

// LastSelfCheck reads the schedule bookkeeping: the completion time of the
// last successful self-check schedule and an optional interval override for
// the next run (zero when the default interval applies). ok is false when
// no completion has been recorded.
func (tx *ReadTx) LastSelfCheck() (at time.Time, override time.Duration, ok bool, err error) {
	raw, err := tx.getValue(collectionCron, keyLastSelfCheck)
	if err != nil {
		return time.Time{}, 0, false, err
	}
	if raw == nil {
		return time.Time{}, 0, false, nil
	}
	if len(raw) != 8 {
		return time.Time{}, 0, false, fmt.Errorf("corrupt schedule timestamp: %d bytes", len(raw))
	}
	at = time.Unix(0, int64(binary.BigEndian.Uint64(raw)))

	rawIv, err := tx.getValue(collectionCron, keyNextInterval)
	if err != nil {
		return time.Time{}, 0, false, err
	}
	if len(rawIv) == 8 {
		override = time.Duration(binary.BigEndian.Uint64(rawIv))
	}
	return at, override, true, nil
}

// SetLastSelfCheck records a schedule completion. A zero override restores
// the default interval.
func (tx *WriteTx) SetLastSelfCheck(at time.Time, override time.Duration) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(at.UnixNano()))
	if err := tx.setValue(collectionCron, keyLastSelfCheck, buf[:]); err != nil {
		return err
	}
	if override <= 0 {
		return tx.deleteValue(collectionCron, keyNextInterval)
	}
	var iv [8]byte
	binary.BigEndian.PutUint64(iv[:], uint64(override))
	return tx.setValue(collectionCron, keyNextInterval, iv[:])
}

// SetNextCheckInterval overrides the interval before the next scheduled
// check without touching the completion timestamp.
func (tx *WriteTx) SetNextCheckInterval(override time.Duration) error {
	if override <= 0 {
		return tx.deleteValue(collectionCron, keyNextInterval)
	}
	var iv [8]byte
	binary.BigEndian.PutUint64(iv[:], uint64(override))
	return tx.setValue(collectionCron, keyNextInterval, iv[:])
}

// ClearSchedule removes all schedule bookkeeping, forcing the next
// scheduled run to treat a self-check as immediately due.
func (tx *WriteTx) ClearSchedule() error {
	if err := tx.deleteValue(collectionCron, keyLastSelfCheck); err != nil {
		return err
	}
	return tx.deleteValue(collectionCron, keyNextInterval)
}

// AccountData reads the opaque verification blob for an account. Returns
// nil when the account is not enrolled.
func (tx *ReadTx) AccountData(aci identity.ACI) ([]byte, error) {
	var blob []byte
	err := tx.tx.QueryRow(
		`SELECT blob FROM account_data WHERE account_id = ?`, aci[:],
	).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get account data: %w", err)
	}
	return blob, nil
}

// HasAccountData reports whether a verification blob exists for an account.
func (tx *ReadTx) HasAccountData(aci identity.ACI) (bool, error) {
	var one int
	err := tx.tx.QueryRow(
		`SELECT 1 FROM account_data WHERE account_id = ?`, aci[:],
	).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("probe account data: %w", err)
	}
	return true, nil
}

// SetAccountData writes the opaque verification blob for an account.
func (tx *WriteTx) SetAccountData(aci identity.ACI, blob []byte) error {
	if _, err := tx.tx.Exec(
		`INSERT OR REPLACE INTO account_data (account_id, blob) VALUES (?, ?)`,
		aci[:], blob,
	); err != nil {
		return fmt.Errorf("set account data: %w", err)
	}
	return nil
}

// DeleteAllAccountData removes every per-account verification blob.
func (tx *WriteTx) DeleteAllAccountData() error {
	if _, err := tx.tx.Exec(`DELETE FROM account_data`); err != nil {
		return fmt.Errorf("delete account data: %w", err)
	}
	return nil
}

// CountAccountData returns the number of enrolled accounts.
func (tx *ReadTx) CountAccountData() (int64, error) {
	var n int64
	if err := tx.tx.QueryRow(`SELECT COUNT(*) FROM account_data`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count account data: %w", err)
	}
	return n, nil
}

// getBool reads a stored boolean; absent reads as false.
func (tx *ReadTx) getBool(collection, key string) (bool, error) {
	raw, err := tx.getValue(collection, key)
	if err != nil {
		return false, err
	}
	return len(raw) == 1 && raw[0] == 1, nil
}

// setBool writes a boolean as a single byte.
func (tx *WriteTx) setBool(collection, key string, v bool) error {
	b := []byte{0}
	if v {
		b[0] = 1
	}
	return tx.setValue(collection, key, b)
}
