package delivery

import (
	"context"
	"crypto/ecdh"
	"encoding/json"
	"sync"

	"communique/internal/witness"
	"communique/internal/witness/keystore"
	dErrors "communique/pkg/domain-errors"
)

// ConstituentAddress is the routing block carried inside the encrypted
// witness. It is decrypted per attempt, used to address the dispatch, and
// never written to any store or log.
type ConstituentAddress struct {
	Name     string `json:"name"`
	Street   string `json:"street"`
	City     string `json:"city"`
	State    string `json:"state"`
	Zip      string `json:"zip"`
	District string `json:"district"`
}

func parseAddress(secret []byte) (ConstituentAddress, error) {
	var addr ConstituentAddress
	if err := json.Unmarshal(secret, &addr); err != nil {
		return ConstituentAddress{}, dErrors.Wrap(err, dErrors.CodeInvariantViolation, "witness address block is malformed")
	}
	if addr.State == "" || addr.Zip == "" || addr.District == "" {
		return ConstituentAddress{}, dErrors.New(dErrors.CodeInvariantViolation, "witness address block is incomplete")
	}
	return addr, nil
}

// Opener recovers a witness from its envelope for delivery.
type Opener interface {
	Open(ctx context.Context, keyID string, envelope []byte) (witness.Witness, error)
}

// KeystoreOpener opens envelopes with keys held in the ephemeral keystore.
// The keystore destroys a key on first fetch, so the private half is cached
// in process until every attempt of the submission is done with it. A
// restart loses the cache, and the affected attempts fail terminally, which
// is the intended fate of a witness whose key is gone.
type KeystoreOpener struct {
	keys  keystore.Store
	codec *witness.Codec

	mu     sync.Mutex
	cached map[string][]byte
}

func NewKeystoreOpener(keys keystore.Store, codec *witness.Codec) *KeystoreOpener {
	return &KeystoreOpener{
		keys:   keys,
		codec:  codec,
		cached: make(map[string][]byte),
	}
}

func (o *KeystoreOpener) Open(ctx context.Context, keyID string, envelope []byte) (witness.Witness, error) {
	priv, err := o.privateKey(ctx, keyID)
	if err != nil {
		return witness.Witness{}, err
	}

	var env witness.Envelope
	if err := json.Unmarshal(envelope, &env); err != nil {
		return witness.Witness{}, witness.ErrDecryptionFailed
	}
	return o.codec.Decrypt(env, priv)
}

// Release drops the cached key once the submission has no further use for
// it. Safe to call for keys that were never cached.
func (o *KeystoreOpener) Release(keyID string) {
	o.mu.Lock()
	delete(o.cached, keyID)
	o.mu.Unlock()
}

func (o *KeystoreOpener) privateKey(ctx context.Context, keyID string) (*ecdh.PrivateKey, error) {
	o.mu.Lock()
	raw, ok := o.cached[keyID]
	o.mu.Unlock()
	if !ok {
		priv, err := o.keys.Consume(ctx, keyID)
		if err != nil {
			return nil, err
		}
		raw = priv.Bytes()
		o.mu.Lock()
		o.cached[keyID] = raw
		o.mu.Unlock()
	}
	return ecdh.X25519().NewPrivateKey(raw)
}
