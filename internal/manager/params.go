package manager

import (
	"fmt"

	"transparencyd/internal/identity"
	"transparencyd/internal/store"
	"transparencyd/internal/wire"
)

// CheckParams is the ephemeral input for one check invocation. Built fresh
// for every check, never persisted.
type CheckParams struct {
	// ACI and IdentityKey identify the account being checked.
	ACI         identity.ACI
	IdentityKey identity.IdentityKey

	// E164 is the phone number and delivery access key; nil when the
	// account is not discoverable by number.
	E164 *wire.E164Info

	// UsernameHash is only ever populated for the local account.
	UsernameHash []byte

	// Local is a snapshot of the checking device's own identifiers.
	Local identity.LocalIdentifiers
}

// IsLocalUser reports whether the check targets the local account.
func (p *CheckParams) IsLocalUser() bool {
	return p.Local.Contains(p.ACI)
}

// request converts the params to a wire request.
func (p *CheckParams) request() wire.Request {
	return wire.Request{
		ACI:          p.ACI,
		IdentityKey:  p.IdentityKey,
		E164:         p.E164,
		UsernameHash: p.UsernameHash,
	}
}

// PrepareCheck assembles check parameters for another account against a
// read-only snapshot. It returns nil (with no error) when checks are
// disabled or when the identity key or recipient material for the target is
// missing; both misses are logged. Usernames are only ever verified for the
// local account, so none is included here.
//
// Self-checks use PrepareSelfCheck; passing a local identifier is a
// programming error.
func (m *Manager) PrepareCheck(tx *store.ReadTx, aci identity.ACI, local identity.LocalIdentifiers) (*CheckParams, error) {
	if local.Contains(aci) {
		return nil, fmt.Errorf("%w: PrepareCheck called for the local account", ErrInvariant)
	}

	enabled, err := tx.IsEnabled()
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, nil
	}

	key, err := m.deps.Keys.IdentityKeyFor(tx, aci)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		m.deps.Log.Warn("no identity key for account, cannot check", "account", aci)
		return nil, nil
	}

	rec, err := m.deps.Recipients.Lookup(tx, aci)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.E164 == "" || rec.AccessKey == nil {
		m.deps.Log.Warn("no phone or access key for account, cannot check", "account", aci)
		return nil, nil
	}

	return &CheckParams{
		ACI:         aci,
		IdentityKey: key,
		E164: &wire.E164Info{
			Number:    rec.E164,
			AccessKey: *rec.AccessKey,
		},
		Local: local,
	}, nil
}

// PrepareSelfCheck assembles check parameters for the local account. The
// identity key must come from the local key pair; its absence is an
// assertion-class failure. The phone number is included only when local
// discoverability is on (a self-check without it is a partial but valid
// verification). Of the four username states, only usernameAndLinkCorrupted
// prevents building valid parameters.
func (m *Manager) PrepareSelfCheck(tx *store.ReadTx, local identity.LocalIdentifiers) (*CheckParams, error) {
	kp, err := m.deps.Keys.LocalKeyPair(tx)
	if err != nil {
		return nil, err
	}
	if kp == nil || len(kp.PublicKey) == 0 {
		return nil, fmt.Errorf("%w: local identity key pair is missing", ErrInvariant)
	}

	params := &CheckParams{
		ACI:         local.ACI,
		IdentityKey: kp.IdentityKey(),
		Local:       local,
	}

	discoverable, err := m.deps.Discoverability.IsDiscoverable(tx)
	if err != nil {
		return nil, err
	}
	if discoverable {
		rec, err := m.deps.Recipients.Lookup(tx, local.ACI)
		if err != nil {
			return nil, err
		}
		if rec == nil || rec.E164 == "" || rec.AccessKey == nil {
			return nil, fmt.Errorf("%w: discoverable account is missing phone or access key material", ErrInvariant)
		}
		params.E164 = &wire.E164Info{
			Number:    rec.E164,
			AccessKey: *rec.AccessKey,
		}
	}

	us, err := m.deps.Usernames.LocalUsernameState(tx)
	if err != nil {
		return nil, err
	}
	switch us.Kind {
	case identity.UsernameUnset:
		// Checked without a username.
	case identity.UsernameAvailable, identity.UsernameLinkCorrupted:
		params.UsernameHash = us.Hash
	case identity.UsernameAndLinkCorrupted:
		return nil, fmt.Errorf("%w: username state is %v, cannot build check parameters", ErrInvariant, us.Kind)
	default:
		return nil, fmt.Errorf("%w: unknown username state %v", ErrInvariant, us.Kind)
	}

	return params, nil
}
