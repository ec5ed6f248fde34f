// Package bridge adapts the durable check-state store to the shape the
// transparency-log client requires. Pure translation: each call is its own
// transaction and carries no business logic.
package bridge

import (
	"context"

	"transparencyd/internal/identity"
	"transparencyd/internal/store"
	"transparencyd/internal/wire"
)

// Bridge implements wire.LogStore over a store.Store.
type Bridge struct {
	store *store.Store
}

// New creates a bridge over the given store.
func New(s *store.Store) *Bridge {
	return &Bridge{store: s}
}

var _ wire.LogStore = (*Bridge)(nil)

// LastDistinguishedTreeHead implements wire.LogStore.
func (b *Bridge) LastDistinguishedTreeHead(ctx context.Context) ([]byte, error) {
	var head []byte
	err := b.store.Read(ctx, func(tx *store.ReadTx) error {
		var err error
		head, err = tx.DistinguishedTreeHead()
		return err
	})
	return head, err
}

// SetLastDistinguishedTreeHead implements wire.LogStore.
func (b *Bridge) SetLastDistinguishedTreeHead(ctx context.Context, head []byte) error {
	return b.store.Write(ctx, func(tx *store.WriteTx) error {
		return tx.SetDistinguishedTreeHead(head)
	})
}

// AccountData implements wire.LogStore.
func (b *Bridge) AccountData(ctx context.Context, aci identity.ACI) ([]byte, error) {
	var blob []byte
	err := b.store.Read(ctx, func(tx *store.ReadTx) error {
		var err error
		blob, err = tx.AccountData(aci)
		return err
	})
	return blob, err
}

// SetAccountData implements wire.LogStore.
func (b *Bridge) SetAccountData(ctx context.Context, aci identity.ACI, data []byte) error {
	return b.store.Write(ctx, func(tx *store.WriteTx) error {
		return tx.SetAccountData(aci, data)
	})
}
