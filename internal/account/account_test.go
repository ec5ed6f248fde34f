package account

import (
	"crypto/ed25519"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transparencyd/internal/identity"
)

const (
	testAccountID = "9d0652a3-dcc3-4d11-975f-74d61598733f"
	testSeed      = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	testProfile   = "1f1e1d1c1b1a191817161514131211100f0e0d0c0b0a09080706050403020100"
)

func writeAccountFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "account.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeAccountFile(t, `
account_id = "`+testAccountID+`"
e164 = "+14155550100"
identity_key_seed = "`+testSeed+`"
profile_key = "`+testProfile+`"
discoverable = true
username_hash = "cafe"
`)

	a, err := LoadFile(path, nil)
	require.NoError(t, err)

	assert.Equal(t, testAccountID, a.ACI().String())
	assert.True(t, a.IsRegistered())
	assert.True(t, a.IsConnected())

	ids, ok, err := a.LocalIdentifiers(nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, identity.E164("+14155550100"), ids.E164)

	// The key pair derives from the seed.
	seed, _ := hex.DecodeString(testSeed)
	want := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	kp, err := a.LocalKeyPair(nil)
	require.NoError(t, err)
	assert.Equal(t, []byte(want), []byte(kp.PublicKey))

	disc, err := a.IsDiscoverable(nil)
	require.NoError(t, err)
	assert.True(t, disc)

	us, err := a.LocalUsernameState(nil)
	require.NoError(t, err)
	assert.Equal(t, identity.UsernameAvailable, us.Kind)
	assert.Equal(t, []byte{0xca, 0xfe}, us.Hash)
}

func TestLoadFileWithoutOptionalFields(t *testing.T) {
	path := writeAccountFile(t, `
account_id = "`+testAccountID+`"
identity_key_seed = "`+testSeed+`"
`)

	a, err := LoadFile(path, nil)
	require.NoError(t, err)

	us, err := a.LocalUsernameState(nil)
	require.NoError(t, err)
	assert.Equal(t, identity.UsernameUnset, us.Kind)

	// No phone number means no recipient record, even for the own account.
	rec, err := a.Lookup(nil, a.ACI())
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestLoadFileRejectsBadMaterial(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"bad account id", `
account_id = "nope"
identity_key_seed = "` + testSeed + `"
`},
		{"short seed", `
account_id = "` + testAccountID + `"
identity_key_seed = "0011"
`},
		{"bad profile key", `
account_id = "` + testAccountID + `"
identity_key_seed = "` + testSeed + `"
profile_key = "zz"
`},
		{"bad username hash", `
account_id = "` + testAccountID + `"
identity_key_seed = "` + testSeed + `"
username_hash = "not-hex"
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFile(writeAccountFile(t, tc.body), nil)
			assert.Error(t, err)
		})
	}
}

func TestLookupOnlyKnowsOwnAccount(t *testing.T) {
	path := writeAccountFile(t, `
account_id = "`+testAccountID+`"
e164 = "+14155550100"
identity_key_seed = "`+testSeed+`"
profile_key = "`+testProfile+`"
`)

	a, err := LoadFile(path, nil)
	require.NoError(t, err)

	rec, err := a.Lookup(nil, a.ACI())
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.NotNil(t, rec.AccessKey)

	// The access key derivation matches the profile key.
	var pk [32]byte
	raw, _ := hex.DecodeString(testProfile)
	copy(pk[:], raw)
	want, err := identity.DeriveAccessKey(pk)
	require.NoError(t, err)
	assert.Equal(t, want, *rec.AccessKey)

	rec, err = a.Lookup(nil, identity.ACI{0xff})
	require.NoError(t, err)
	assert.Nil(t, rec)

	key, err := a.IdentityKeyFor(nil, identity.ACI{0xff})
	require.NoError(t, err)
	assert.Nil(t, key)
}
