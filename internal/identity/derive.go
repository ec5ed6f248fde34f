package identity

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// accessKeyInfo labels the HKDF expansion for delivery access keys.
const accessKeyInfo = "unidentified-delivery-access"

// DeriveAccessKey derives the unidentified-delivery access key from an
// account's 256-bit profile key. The derivation is deterministic: the same
// profile key always yields the same access key.
func DeriveAccessKey(profileKey [32]byte) (AccessKey, error) {
	var out AccessKey
	r := hkdf.New(sha256.New, profileKey[:], nil, []byte(accessKeyInfo))
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, fmt.Errorf("derive access key: %w", err)
	}
	return out, nil
}
