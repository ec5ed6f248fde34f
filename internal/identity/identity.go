// Package identity defines the account-identity types shared across the
// transparency check engine: account identifiers, identity keys, phone
// numbers with their delivery access keys, and local username state.
package identity

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"
)

// ACI is a raw account identifier (a 128-bit UUID).
type ACI [16]byte

// ParseACI parses a UUID string, with or without dashes, into an ACI.
func ParseACI(s string) (ACI, error) {
	var a ACI
	raw, err := hex.DecodeString(strings.ReplaceAll(s, "-", ""))
	if err != nil {
		return a, fmt.Errorf("parse account id: %w", err)
	}
	if len(raw) != len(a) {
		return a, fmt.Errorf("parse account id: want %d bytes, got %d", len(a), len(raw))
	}
	copy(a[:], raw)
	return a, nil
}

// String returns the canonical UUID text form.
func (a ACI) String() string {
	h := hex.EncodeToString(a[:])
	return h[0:8] + "-" + h[8:12] + "-" + h[12:16] + "-" + h[16:20] + "-" + h[20:32]
}

// IsZero reports whether the identifier is unset.
func (a ACI) IsZero() bool {
	return a == ACI{}
}

// E164 is a phone number in E.164 form ("+14155550100").
type E164 string

// AccessKey is the 128-bit unidentified-delivery access key paired with a
// phone number lookup.
type AccessKey [16]byte

// IdentityKey is a public identity key as published to the transparency log.
type IdentityKey []byte

// KeyPair is the local account's identity key pair.
type KeyPair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// IdentityKey returns the public half in wire form.
func (kp *KeyPair) IdentityKey() IdentityKey {
	if kp == nil || len(kp.PublicKey) == 0 {
		return nil
	}
	out := make(IdentityKey, len(kp.PublicKey))
	copy(out, kp.PublicKey)
	return out
}

// LocalIdentifiers is a snapshot of the checking device's own account
// identifiers, used to distinguish a self-check from a check of another
// account.
type LocalIdentifiers struct {
	ACI  ACI
	E164 E164
}

// Contains reports whether the given identifier belongs to the local account.
func (l LocalIdentifiers) Contains(aci ACI) bool {
	return aci == l.ACI
}

// Recipient is the result of a phone-number lookup for an account.
type Recipient struct {
	E164      E164
	AccessKey *AccessKey
}

// UsernameKind enumerates the local username states.
type UsernameKind int

const (
	// UsernameUnset means the local account has no username.
	UsernameUnset UsernameKind = iota
	// UsernameAvailable means a username and link are both intact.
	UsernameAvailable
	// UsernameLinkCorrupted means the username is intact but its share link
	// is broken; the username hash can still be verified.
	UsernameLinkCorrupted
	// UsernameAndLinkCorrupted means no usable username material exists.
	// Checks cannot be constructed in this state.
	UsernameAndLinkCorrupted
)

// String returns the state name for logging.
func (k UsernameKind) String() string {
	switch k {
	case UsernameUnset:
		return "unset"
	case UsernameAvailable:
		return "available"
	case UsernameLinkCorrupted:
		return "linkCorrupted"
	case UsernameAndLinkCorrupted:
		return "usernameAndLinkCorrupted"
	default:
		return fmt.Sprintf("UsernameKind(%d)", int(k))
	}
}

// UsernameState is the local account's username as reported by the host's
// username manager.
type UsernameState struct {
	Kind UsernameKind
	// Hash is the hashed username, set for Available and LinkCorrupted.
	Hash []byte
}
