// Package keystore manages the one-time decryption keys that bridge
// envelope creation and consumption. A key is issued to the client for a
// single envelope, held server-side under a short TTL, and destroyed on
// first use even if decryption then fails.
package keystore

import (
	"context"
	"crypto/ecdh"
)

// IssuedKey is the public half handed to a client for envelope encryption.
type IssuedKey struct {
	KeyID  string
	Public *ecdh.PublicKey
}

// Store issues and consumes single-use recipient keys.
type Store interface {
	// Issue mints a fresh X25519 keypair, stores the private half under a
	// short TTL, and returns the public half.
	Issue(ctx context.Context) (IssuedKey, error)

	// Consume atomically fetches and deletes the private key. A second
	// consume of the same key returns sentinel.ErrNotFound: the key is
	// gone whether or not the first decrypt succeeded. Expired keys
	// behave as absent.
	Consume(ctx context.Context, keyID string) (*ecdh.PrivateKey, error)
}
