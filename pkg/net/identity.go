package net

import (
	"crypto/rand"
	"fmt"

	"github.com/libp2p/go-libp2p/core/crypto"

	"github.com/basechain/node/pkg/storage"
)

// LoadOrCreateIdentity returns the node's persistent Ed25519 host key,
// generating and persisting one under the store's node_id key on first run.
// The persisted form is libp2p's protobuf private-key encoding, so the same
// peer id survives restarts.
func LoadOrCreateIdentity(store *storage.Node) (crypto.PrivKey, error) {
	raw, ok, err := store.GetNodeIdentity()
	if err != nil {
		return nil, fmt.Errorf("net: load identity: %w", err)
	}
	if ok {
		priv, err := crypto.UnmarshalPrivateKey(raw)
		if err != nil {
			return nil, fmt.Errorf("net: corrupt persisted identity: %w", err)
		}
		return priv, nil
	}

	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("net: generate identity: %w", err)
	}
	raw, err = crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("net: marshal identity: %w", err)
	}
	if err := store.PutNodeIdentity(raw); err != nil {
		return nil, fmt.Errorf("net: persist identity: %w", err)
	}
	return priv, nil
}
