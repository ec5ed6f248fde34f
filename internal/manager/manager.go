// Package manager implements the transparency check orchestrator. It
// prepares check parameters from durable and host state, drives the log
// client with per-account serialization and unbounded retry of transient
// network failures, and owns every write to the persisted self-check state.
package manager

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"transparencyd/internal/identity"
	"transparencyd/internal/logging"
	"transparencyd/internal/metrics"
	"transparencyd/internal/state"
	"transparencyd/internal/store"
	"transparencyd/internal/taskqueue"
	"transparencyd/internal/wire"
)

// Defaults for the orchestrator options.
const (
	DefaultCheckInterval  = 3 * 24 * time.Hour
	DefaultBaseRetryDelay = 2 * time.Second
	DefaultMaxRetryDelay  = 5 * time.Minute
	DefaultJitterFactor   = 0.1
)

// ErrSelfCheckRequired is returned when a contact check is attempted while
// the local self-check is in a failed state. The check is refused before
// any network call; trusting checks on others requires a verified own
// identity first.
var ErrSelfCheckRequired = errors.New("contact check requires a successful self-check")

// ErrInvariant marks assertion-class failures: missing identity key
// material, corrupted username state, misuse of the API. These indicate a
// local data or code bug, never a network condition, and are never retried.
var ErrInvariant = errors.New("invariant violation")

// KeyProvider resolves identity keys.
type KeyProvider interface {
	// IdentityKeyFor returns the published identity key for an account, or
	// nil when none is known.
	IdentityKeyFor(tx *store.ReadTx, aci identity.ACI) (identity.IdentityKey, error)
	// LocalKeyPair returns the local account's identity key pair, or nil
	// when the device holds none.
	LocalKeyPair(tx *store.ReadTx) (*identity.KeyPair, error)
}

// RecipientLookup resolves an account to its phone number and delivery
// access key. Returns nil when the account is unknown.
type RecipientLookup interface {
	Lookup(tx *store.ReadTx, aci identity.ACI) (*identity.Recipient, error)
}

// UsernameManager reports the local account's username state.
type UsernameManager interface {
	LocalUsernameState(tx *store.ReadTx) (identity.UsernameState, error)
}

// Discoverability reports whether the local phone number may be used in
// lookups.
type Discoverability interface {
	IsDiscoverable(tx *store.ReadTx) (bool, error)
}

// ManifestRefresher re-fetches the account manifest from the service. Used
// after a first self-check failure, which may be a linked device's change
// this device has not synced yet.
type ManifestRefresher interface {
	RefreshAccountManifest(ctx context.Context) error
}

// DeviceState exposes the registration and connectivity gates for scheduled
// checks, and the local account identifiers.
type DeviceState interface {
	IsRegistered() bool
	IsConnected() bool
	// LocalIdentifiers returns the local account identifiers; ok is false
	// when the device is not provisioned.
	LocalIdentifiers(tx *store.ReadTx) (ids identity.LocalIdentifiers, ok bool, err error)
}

// SyncNotifier flags the local account record for upload to the host's
// settings sync, used when the opt-in flag changes.
type SyncNotifier interface {
	RecordPendingLocalAccountUpdate()
}

// Deps are the orchestrator's collaborators. All are required except Sync
// and Metrics, which may be nil.
type Deps struct {
	Store           *store.Store
	Connection      wire.ConnectionProvider
	LogStore        wire.LogStore
	Keys            KeyProvider
	Recipients      RecipientLookup
	Usernames       UsernameManager
	Discoverability Discoverability
	Manifest        ManifestRefresher
	Device          DeviceState
	Sync            SyncNotifier
	Metrics         *metrics.EngineMetrics
	Log             *logging.Logger
}

// Options tune the orchestrator.
type Options struct {
	// CheckInterval is the default period between scheduled self-checks.
	CheckInterval time.Duration

	// BaseRetryDelay seeds the exponential backoff for transient failures
	// that carry no server-directed delay.
	BaseRetryDelay time.Duration

	// MaxRetryDelay caps the exponential backoff.
	MaxRetryDelay time.Duration

	// JitterFactor randomly shortens the due interval by up to this
	// fraction so a fleet of devices does not check in lockstep.
	JitterFactor float64

	// ConservativeFailureReset keeps the warned state on the escalation
	// ladder instead of clearing it outright after a post-warning failure.
	ConservativeFailureReset bool
}

// DefaultOptions returns the standard option set.
func DefaultOptions() Options {
	return Options{
		CheckInterval:            DefaultCheckInterval,
		BaseRetryDelay:           DefaultBaseRetryDelay,
		MaxRetryDelay:            DefaultMaxRetryDelay,
		JitterFactor:             DefaultJitterFactor,
		ConservativeFailureReset: true,
	}
}

// Manager is the verification orchestrator.
type Manager struct {
	deps  Deps
	opts  Options
	queue *taskqueue.Keyed

	// sleep and now are injection points for tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
	randf func() float64
}

// New creates a Manager. Zero option fields take their defaults.
func New(deps Deps, opts Options) (*Manager, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: manager requires a store", ErrInvariant)
	case deps.Connection == nil:
		return nil, fmt.Errorf("%w: manager requires a connection provider", ErrInvariant)
	case deps.LogStore == nil:
		return nil, fmt.Errorf("%w: manager requires a log store", ErrInvariant)
	case deps.Keys == nil || deps.Recipients == nil || deps.Usernames == nil:
		return nil, fmt.Errorf("%w: manager requires identity collaborators", ErrInvariant)
	case deps.Discoverability == nil || deps.Manifest == nil || deps.Device == nil:
		return nil, fmt.Errorf("%w: manager requires device collaborators", ErrInvariant)
	}
	if deps.Log == nil {
		deps.Log = logging.Default().WithComponent("kt-manager")
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = DefaultCheckInterval
	}
	if opts.BaseRetryDelay <= 0 {
		opts.BaseRetryDelay = DefaultBaseRetryDelay
	}
	if opts.MaxRetryDelay <= 0 {
		opts.MaxRetryDelay = DefaultMaxRetryDelay
	}
	if opts.JitterFactor < 0 || opts.JitterFactor >= 1 {
		opts.JitterFactor = DefaultJitterFactor
	}

	return &Manager{
		deps:  deps,
		opts:  opts,
		queue: taskqueue.New(),
		sleep: sleepCtx,
		now:   time.Now,
		randf: rand.Float64,
	}, nil
}

// IsEnabled reads the opt-in flag.
func (m *Manager) IsEnabled(tx *store.ReadTx) (bool, error) {
	return tx.IsEnabled()
}

// SetEnabled flips the opt-in flag. Disabling cascades a full reset of all
// check state in the same transaction:
//   - the self-check outcome is cleared
//   - the distinguished tree head is cleared
//   - schedule bookkeeping is cleared, so a re-enable checks immediately
//   - every per-account verification blob is deleted
//
// When notifySync is set, the host's settings sync is flagged after the
// transaction commits.
func (m *Manager) SetEnabled(tx *store.WriteTx, enabled, notifySync bool) error {
	if err := tx.SetEnabled(enabled); err != nil {
		return err
	}
	if !enabled {
		if err := tx.ClearSelfCheckState(); err != nil {
			return err
		}
		if err := tx.ClearDistinguishedTreeHead(); err != nil {
			return err
		}
		if err := tx.ClearSchedule(); err != nil {
			return err
		}
		if err := tx.DeleteAllAccountData(); err != nil {
			return err
		}
		if m.deps.Metrics != nil {
			tx.AfterCommit(func() {
				m.deps.Metrics.SelfCheckState.Set(0)
				m.deps.Metrics.EnrolledAccounts.Set(0)
			})
		}
	}
	if notifySync && m.deps.Sync != nil {
		tx.AfterCommit(m.deps.Sync.RecordPendingLocalAccountUpdate)
	}
	return nil
}

// ShouldWarnSelfCheckFailed reports whether the repeated-failure warning is
// due. The host app owns actually displaying it.
func (m *Manager) ShouldWarnSelfCheckFailed(tx *store.ReadTx) (bool, error) {
	st, present, err := tx.SelfCheckState()
	if err != nil {
		return false, err
	}
	return state.ShouldWarn(st, present), nil
}

// SetWarnedSelfCheckFailed records that the warning has been shown. Calling
// it outside the failedRepeatedly state is a programming error.
func (m *Manager) SetWarnedSelfCheckFailed(tx *store.WriteTx) error {
	st, present, err := tx.SelfCheckState()
	if err != nil {
		return err
	}
	next, err := state.Warned(st, present)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvariant, err)
	}
	return tx.SetSelfCheckState(next)
}

// SetSelfCheckStateForTesting force-writes (or clears, when present is
// false) the persisted self-check state. Debug hook only.
func (m *Manager) SetSelfCheckStateForTesting(ctx context.Context, st state.SelfCheck, present bool) error {
	return m.deps.Store.Write(ctx, func(tx *store.WriteTx) error {
		if !present {
			return tx.ClearSelfCheckState()
		}
		return tx.SetSelfCheckState(st)
	})
}

// sleepCtx waits for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isCancellation reports whether err is a context cancellation rather than
// a check failure. Cancellation is never recorded as a verification
// failure. Callers must test wire.Retryable first: transient errors can
// wrap a deadline error from an HTTP client timeout and still demand a
// retry.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
