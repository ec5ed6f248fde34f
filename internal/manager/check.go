package manager

import (
	"context"
	"fmt"
	"time"

	"transparencyd/internal/identity"
	"transparencyd/internal/state"
	"transparencyd/internal/store"
	"transparencyd/internal/wire"
)

// PerformCheck runs one transparency check to completion. Checks for the
// same account are serialized through a keyed limiter so duplicate
// concurrent queries (and the inconsistent tree-head reads they can cause)
// never happen; checks for different accounts proceed independently.
//
// Transient errors from the wire client (rate limiting, connection, I/O and
// transport failures) are retried without an attempt bound, sleeping the
// server-directed delay when one is supplied and an exponential backoff
// otherwise. The loop is bounded only by caller cancellation. Any other
// error is terminal and propagates on the first attempt.
func (m *Manager) PerformCheck(ctx context.Context, params *CheckParams) error {
	if params == nil {
		return fmt.Errorf("%w: nil check params", ErrInvariant)
	}
	return m.queue.Run(ctx, params.ACI.String(), func(ctx context.Context) error {
		return m.checkWithRetry(ctx, params)
	})
}

func (m *Manager) checkWithRetry(ctx context.Context, params *CheckParams) error {
	start := m.now()
	defer func() {
		if mm := m.deps.Metrics; mm != nil {
			mm.ChecksTotal.Inc()
			mm.CheckDuration.ObserveDuration(m.now().Sub(start))
		}
	}()

	delay := m.opts.BaseRetryDelay
	for attempt := 1; ; attempt++ {
		err := m.dispatchCheck(ctx, params)
		if err == nil {
			return nil
		}
		// Retryability wins over cancellation shape: an HTTP client
		// timeout surfaces as a ConnectionError whose chain matches
		// context.DeadlineExceeded even though the caller's context is
		// still live, and such an error must be retried, not aborted.
		if !wire.Retryable(err) {
			if mm := m.deps.Metrics; mm != nil && !isCancellation(err) {
				mm.CheckFailuresTotal.Inc()
			}
			return err
		}
		if mm := m.deps.Metrics; mm != nil {
			mm.RetriesTotal.Inc()
		}

		wait := delay
		if after, ok := wire.RetryAfter(err); ok {
			wait = after
		} else {
			delay *= 2
			if delay > m.opts.MaxRetryDelay {
				delay = m.opts.MaxRetryDelay
			}
		}
		m.deps.Log.Warn("transparency check hit transient failure, will retry",
			"account", params.ACI, "attempt", attempt, "wait", wait, "err", err)
		if err := m.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// dispatchCheck performs a single protocol attempt. For the local account
// the existing verification blob decides between search (first enrollment)
// and monitor (re-verification); a self-check never requires a prior
// self-check. For any other account the persisted self-check state gates
// the call: absent state triggers a self-check first, a failure state
// refuses the check outright before any network traffic.
func (m *Manager) dispatchCheck(ctx context.Context, params *CheckParams) error {
	var (
		enrolled  bool
		selfState state.SelfCheck
		present   bool
	)
	err := m.deps.Store.Read(ctx, func(tx *store.ReadTx) error {
		var err error
		if enrolled, err = tx.HasAccountData(params.ACI); err != nil {
			return err
		}
		selfState, present, err = tx.SelfCheckState()
		return err
	})
	if err != nil {
		return err
	}

	if !params.IsLocalUser() {
		switch {
		case !present:
			if err := m.PrepareAndPerformSelfCheck(ctx, params.Local); err != nil {
				return fmt.Errorf("self-check before contact check: %w", err)
			}
		case selfState != state.Succeeded:
			return fmt.Errorf("%w: self-check state is %v", ErrSelfCheckRequired, selfState)
		}
	}

	client, err := m.deps.Connection.KeyTransparencyClient(ctx)
	if err != nil {
		// Only the caller's context decides cancellation here; a dial
		// timeout also unwraps to context.DeadlineExceeded but is a
		// transient connection failure.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &wire.ConnectionError{Err: err}
	}

	req := params.request()
	switch {
	case params.IsLocalUser() && enrolled:
		return client.Monitor(ctx, wire.MonitorSelf, req, m.deps.LogStore)
	case params.IsLocalUser():
		return client.Search(ctx, req, m.deps.LogStore)
	case enrolled:
		return client.Monitor(ctx, wire.MonitorOther, req, m.deps.LogStore)
	default:
		return client.Search(ctx, req, m.deps.LogStore)
	}
}

// PrepareAndPerformSelfCheck builds self-check parameters in a read
// snapshot, runs the check, and on success records the succeeded state and
// the schedule completion at the default interval. Any non-cancellation
// failure is recorded through the escalation policy before rethrowing;
// cancellation propagates unrecorded, since an aborted check is not
// evidence of a verification failure.
func (m *Manager) PrepareAndPerformSelfCheck(ctx context.Context, local identity.LocalIdentifiers) error {
	var params *CheckParams
	err := m.deps.Store.Read(ctx, func(tx *store.ReadTx) error {
		var err error
		params, err = m.PrepareSelfCheck(tx, local)
		return err
	})
	if err == nil {
		err = m.PerformCheck(ctx, params)
	}
	if err != nil {
		if isCancellation(err) {
			return err
		}
		if recErr := m.recordSelfCheckFailure(ctx); recErr != nil {
			m.deps.Log.Error("recording self-check failure failed", "err", recErr)
		}
		return err
	}

	return m.deps.Store.Write(ctx, func(tx *store.WriteTx) error {
		if err := tx.SetSelfCheckState(state.Succeeded); err != nil {
			return err
		}
		if err := tx.SetLastSelfCheck(m.now(), 0); err != nil {
			return err
		}
		if mm := m.deps.Metrics; mm != nil {
			enrolled, err := tx.CountAccountData()
			if err != nil {
				return err
			}
			tx.AfterCommit(func() {
				mm.SelfCheckState.Set(state.Succeeded.Raw())
				mm.EnrolledAccounts.Set(enrolled)
			})
		}
		return nil
	})
}

// recordSelfCheckFailure applies one step of the escalation ladder and its
// side effects: the schedule override for the next run, and (on the first
// failure of a cycle) an account-manifest refresh queued to run only after
// the state write has durably committed.
func (m *Manager) recordSelfCheckFailure(ctx context.Context) error {
	return m.deps.Store.Write(ctx, func(tx *store.WriteTx) error {
		current, present, err := tx.SelfCheckState()
		if err != nil {
			return err
		}

		tr := state.RecordFailure(current, present, m.opts.ConservativeFailureReset)
		if tr.Clear {
			if err := tx.ClearSelfCheckState(); err != nil {
				return err
			}
		} else {
			if err := tx.SetSelfCheckState(tr.Next); err != nil {
				return err
			}
		}
		if err := tx.SetLastSelfCheck(m.now(), tr.NextInterval); err != nil {
			return err
		}

		if mm := m.deps.Metrics; mm != nil {
			next := int64(0)
			if !tr.Clear {
				next = tr.Next.Raw()
			}
			tx.AfterCommit(func() {
				mm.SelfCheckFailuresTotal.Inc()
				mm.SelfCheckState.Set(next)
			})
		}

		if tr.RefreshManifest {
			tx.AfterCommit(func() {
				go func() {
					if err := m.deps.Manifest.RefreshAccountManifest(context.Background()); err != nil {
						m.deps.Log.Warn("account manifest refresh failed", "err", err)
					}
				}()
			})
		}
		return nil
	})
}

// SelfCheckDue reports whether a scheduled self-check is due, applying the
// jitter factor to the effective interval.
func (m *Manager) SelfCheckDue(tx *store.ReadTx) (bool, error) {
	at, override, ok, err := tx.LastSelfCheck()
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	interval := m.opts.CheckInterval
	if override > 0 {
		interval = override
	}
	jittered := interval - time.Duration(float64(interval)*m.opts.JitterFactor*m.randf())
	return m.now().Sub(at) >= jittered, nil
}
