// Package account loads the daemon's local account material from a TOML
// file and exposes it through the collaborator interfaces the check engine
// consumes. The daemon only knows its own account; lookups for any other
// identifier report unknown.
package account

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/BurntSushi/toml"

	"transparencyd/internal/identity"
	"transparencyd/internal/logging"
	"transparencyd/internal/store"
)

// fileFormat is the on-disk account file.
type fileFormat struct {
	// AccountID is the account UUID, with or without dashes.
	AccountID string `toml:"account_id"`

	// E164 is the account's phone number.
	E164 string `toml:"e164"`

	// IdentityKeySeed is the hex Ed25519 seed (32 bytes).
	IdentityKeySeed string `toml:"identity_key_seed"`

	// ProfileKey is the hex 256-bit profile key; the delivery access key is
	// derived from it.
	ProfileKey string `toml:"profile_key"`

	// Discoverable controls whether the phone number joins self-checks.
	Discoverable bool `toml:"discoverable"`

	// UsernameHash is the hex hashed username, if any.
	UsernameHash string `toml:"username_hash"`
}

// LocalAccount is the device's own account material.
type LocalAccount struct {
	aci          identity.ACI
	e164         identity.E164
	keyPair      *identity.KeyPair
	accessKey    *identity.AccessKey
	discoverable bool
	username     identity.UsernameState

	log *logging.Logger
}

// LoadFile reads and validates an account file.
func LoadFile(path string, log *logging.Logger) (*LocalAccount, error) {
	var f fileFormat
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("read account file: %w", err)
	}

	aci, err := identity.ParseACI(f.AccountID)
	if err != nil {
		return nil, fmt.Errorf("account file: %w", err)
	}

	seed, err := hex.DecodeString(f.IdentityKeySeed)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("account file: identity_key_seed must be %d hex-encoded bytes", ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	kp := &identity.KeyPair{
		PublicKey:  priv.Public().(ed25519.PublicKey),
		PrivateKey: priv,
	}

	acct := &LocalAccount{
		aci:          aci,
		e164:         identity.E164(f.E164),
		keyPair:      kp,
		discoverable: f.Discoverable,
		log:          log,
	}

	if f.ProfileKey != "" {
		raw, err := hex.DecodeString(f.ProfileKey)
		if err != nil || len(raw) != 32 {
			return nil, fmt.Errorf("account file: profile_key must be 32 hex-encoded bytes")
		}
		var pk [32]byte
		copy(pk[:], raw)
		ak, err := identity.DeriveAccessKey(pk)
		if err != nil {
			return nil, err
		}
		acct.accessKey = &ak
	}

	if f.UsernameHash != "" {
		hash, err := hex.DecodeString(f.UsernameHash)
		if err != nil {
			return nil, fmt.Errorf("account file: username_hash is not valid hex")
		}
		acct.username = identity.UsernameState{Kind: identity.UsernameAvailable, Hash: hash}
	} else {
		acct.username = identity.UsernameState{Kind: identity.UsernameUnset}
	}

	return acct, nil
}

// ACI returns the local account identifier.
func (a *LocalAccount) ACI() identity.ACI { return a.aci }

// IdentityKeyFor reports the identity key for the local account and nothing
// else.
func (a *LocalAccount) IdentityKeyFor(tx *store.ReadTx, aci identity.ACI) (identity.IdentityKey, error) {
	if aci == a.aci {
		return a.keyPair.IdentityKey(), nil
	}
	return nil, nil
}

// LocalKeyPair returns the local identity key pair.
func (a *LocalAccount) LocalKeyPair(tx *store.ReadTx) (*identity.KeyPair, error) {
	return a.keyPair, nil
}

// Lookup resolves the local account's phone material and nothing else.
func (a *LocalAccount) Lookup(tx *store.ReadTx, aci identity.ACI) (*identity.Recipient, error) {
	if aci != a.aci || a.e164 == "" {
		return nil, nil
	}
	return &identity.Recipient{E164: a.e164, AccessKey: a.accessKey}, nil
}

// LocalUsernameState reports the configured username state.
func (a *LocalAccount) LocalUsernameState(tx *store.ReadTx) (identity.UsernameState, error) {
	return a.username, nil
}

// IsDiscoverable reports the configured discoverability.
func (a *LocalAccount) IsDiscoverable(tx *store.ReadTx) (bool, error) {
	return a.discoverable, nil
}

// IsRegistered reports whether account material is present.
func (a *LocalAccount) IsRegistered() bool {
	return a.keyPair != nil
}

// IsConnected always reports true: the daemon has no standing socket, and
// connection failures surface through the wire client's error taxonomy.
func (a *LocalAccount) IsConnected() bool {
	return true
}

// LocalIdentifiers returns this account's identifier snapshot.
func (a *LocalAccount) LocalIdentifiers(tx *store.ReadTx) (identity.LocalIdentifiers, bool, error) {
	if a.keyPair == nil {
		return identity.LocalIdentifiers{}, false, nil
	}
	return identity.LocalIdentifiers{ACI: a.aci, E164: a.e164}, true, nil
}

// RefreshAccountManifest logs the refresh request. A single-account daemon
// has no linked-device manifest to re-fetch; the hook exists so a host with
// one can plug its own refresher in.
func (a *LocalAccount) RefreshAccountManifest(ctx context.Context) error {
	if a.log != nil {
		a.log.Info("account manifest refresh requested")
	}
	return nil
}
