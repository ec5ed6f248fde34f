// Package wire defines the boundary to the key-transparency log service:
// the client interface the check engine drives, the pluggable store the
// client persists proof material through, and the error taxonomy that
// separates retryable network trouble from terminal verification failures.
package wire

import (
	"context"

	"transparencyd/internal/identity"
)

// MonitorMode distinguishes monitoring the local account from monitoring a
// contact. The log service applies different consistency requirements to
// the two.
type MonitorMode int

const (
	// MonitorSelf re-verifies the local account against its anchor.
	MonitorSelf MonitorMode = iota
	// MonitorOther re-verifies a contact against its anchor.
	MonitorOther
)

// String returns the mode name for logging.
func (m MonitorMode) String() string {
	if m == MonitorSelf {
		return "self"
	}
	return "other"
}

// E164Info pairs a phone number with the access key the log requires to
// query by number.
type E164Info struct {
	Number    identity.E164
	AccessKey identity.AccessKey
}

// Request carries the identity material for one search or monitor call.
// E164 and UsernameHash are optional; UsernameHash is only ever populated
// for the local account.
type Request struct {
	ACI          identity.ACI
	IdentityKey  identity.IdentityKey
	E164         *E164Info
	UsernameHash []byte
}

// LogStore is the durable state the client reads and writes while executing
// a call: the last distinguished tree head and the per-account verification
// blob. Each method is an independent operation; the client assumes no
// cross-call atomicity.
type LogStore interface {
	LastDistinguishedTreeHead(ctx context.Context) ([]byte, error)
	SetLastDistinguishedTreeHead(ctx context.Context, head []byte) error
	AccountData(ctx context.Context, aci identity.ACI) ([]byte, error)
	SetAccountData(ctx context.Context, aci identity.ACI, data []byte) error
}

// Client performs transparency-log operations. Search establishes the
// initial proof anchor for an account; Monitor incrementally re-verifies an
// account against a previously established anchor. Both block until the
// round trip and proof handling complete, and both persist resulting state
// through the given LogStore.
type Client interface {
	Search(ctx context.Context, req Request, store LogStore) error
	Monitor(ctx context.Context, mode MonitorMode, req Request, store LogStore) error
}

// ConnectionProvider yields a transparency client bound to the current chat
// connection. Implementations may return a new client per call.
type ConnectionProvider interface {
	KeyTransparencyClient(ctx context.Context) (Client, error)
}

// ProviderFunc adapts a function to ConnectionProvider.
type ProviderFunc func(ctx context.Context) (Client, error)

// KeyTransparencyClient implements ConnectionProvider.
func (f ProviderFunc) KeyTransparencyClient(ctx context.Context) (Client, error) {
	return f(ctx)
}
