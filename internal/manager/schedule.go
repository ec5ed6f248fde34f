package manager

import (
	"context"
	"fmt"

	"transparencyd/internal/cron"
	"transparencyd/internal/identity"
	"transparencyd/internal/store"
)

// RegisterSelfCheck registers the periodic self-check with the scheduler.
// The job reports itself non-retryable: all retrying happens inside
// PerformCheck, and a run that still fails should wait for its next
// scheduled slot.
func (m *Manager) RegisterSelfCheck(r *cron.Runner) {
	r.Register(cron.Job{
		Name:      "kt-self-check",
		Retryable: false,
		Run:       m.RunScheduledSelfCheck,
	})
}

// RunScheduledSelfCheck is the scheduled job body. It runs the self-check
// only when the device is registered and connected, checks are enabled, the
// device is provisioned with local identifiers, and the check is due.
func (m *Manager) RunScheduledSelfCheck(ctx context.Context) error {
	if !m.deps.Device.IsRegistered() || !m.deps.Device.IsConnected() {
		return nil
	}

	var (
		local identity.LocalIdentifiers
		run   bool
	)
	err := m.deps.Store.Read(ctx, func(tx *store.ReadTx) error {
		enabled, err := tx.IsEnabled()
		if err != nil || !enabled {
			return err
		}
		ids, ok, err := m.deps.Device.LocalIdentifiers(tx)
		if err != nil || !ok {
			return err
		}
		due, err := m.SelfCheckDue(tx)
		if err != nil || !due {
			return err
		}
		local, run = ids, true
		return nil
	})
	if err != nil || !run {
		return err
	}

	return m.PrepareAndPerformSelfCheck(ctx, local)
}

// ForceSelfCheck runs a self-check immediately, ignoring due-ness. Debug
// hook; still requires the device to be provisioned.
func (m *Manager) ForceSelfCheck(ctx context.Context) error {
	var (
		local identity.LocalIdentifiers
		ok    bool
	)
	err := m.deps.Store.Read(ctx, func(tx *store.ReadTx) error {
		var err error
		local, ok, err = m.deps.Device.LocalIdentifiers(tx)
		return err
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: device has no local identifiers", ErrInvariant)
	}
	return m.PrepareAndPerformSelfCheck(ctx, local)
}
