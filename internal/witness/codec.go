package witness

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Envelope crypto errors. Both are fatal for the envelope they occur on:
// a failed decrypt is never retried, and an unsupported version requires the
// client to regenerate against the current key.
var (
	ErrDecryptionFailed   = errors.New("witness envelope decryption failed")
	ErrUnsupportedVersion = errors.New("witness envelope version not supported")
)

// Version tags the envelope format so recipient keys can rotate without
// breaking in-flight envelopes of the old version.
type Version uint8

// VersionV1 is X25519 ephemeral agreement + SHA-256 KDF + ChaCha20-Poly1305.
const VersionV1 Version = 1

// Envelope is the wire form of an encrypted witness. Each envelope carries
// its own ephemeral public key: compromise of one envelope's ephemeral key
// exposes nothing about any other envelope.
type Envelope struct {
	Version      Version `json:"v"`
	EphemeralPub []byte  `json:"epk"`
	Nonce        []byte  `json:"nonce"`
	Ciphertext   []byte  `json:"ct"`
}

// Codec encrypts witnesses for a recipient key and decrypts them server
// side. The accepted version set shrinks as keys rotate out.
type Codec struct {
	accepted map[Version]bool
}

// NewCodec builds a codec accepting the given envelope versions.
func NewCodec(accepted ...Version) *Codec {
	set := make(map[Version]bool, len(accepted))
	for _, v := range accepted {
		set[v] = true
	}
	return &Codec{accepted: set}
}

// Encrypt seals the witness for the recipient public key using a fresh
// X25519 ephemeral key and ChaCha20-Poly1305. The version byte is bound
// into the AEAD additional data, so downgrading an envelope's version tag
// breaks authentication.
func (c *Codec) Encrypt(w Witness, recipientPub *ecdh.PublicKey) (Envelope, error) {
	if err := w.Validate(); err != nil {
		return Envelope{}, err
	}

	ephemeral, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return Envelope{}, fmt.Errorf("generate ephemeral key: %w", err)
	}
	shared, err := ephemeral.ECDH(recipientPub)
	if err != nil {
		return Envelope{}, fmt.Errorf("key agreement: %w", err)
	}
	key := sha256.Sum256(shared)

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return Envelope{}, fmt.Errorf("create aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, fmt.Errorf("generate nonce: %w", err)
	}

	plaintext, err := json.Marshal(wireWitness{
		AddressSecret: w.AddressSecret,
		MerklePath:    w.MerklePath,
		NullifierSeed: w.NullifierSeed,
	})
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal witness: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, []byte{byte(VersionV1)})
	return Envelope{
		Version:      VersionV1,
		EphemeralPub: ephemeral.PublicKey().Bytes(),
		Nonce:        nonce,
		Ciphertext:   ciphertext,
	}, nil
}

// Decrypt opens an envelope with the recipient private key.
//
// Returns ErrUnsupportedVersion when the envelope's version has rotated out
// (without attempting the AEAD open), and ErrDecryptionFailed for any
// tampered or corrupted envelope.
func (c *Codec) Decrypt(env Envelope, recipientPriv *ecdh.PrivateKey) (Witness, error) {
	if !c.accepted[env.Version] {
		return Witness{}, ErrUnsupportedVersion
	}

	ephemeralPub, err := ecdh.X25519().NewPublicKey(env.EphemeralPub)
	if err != nil {
		return Witness{}, ErrDecryptionFailed
	}
	shared, err := recipientPriv.ECDH(ephemeralPub)
	if err != nil {
		return Witness{}, ErrDecryptionFailed
	}
	key := sha256.Sum256(shared)

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return Witness{}, ErrDecryptionFailed
	}
	if len(env.Nonce) != aead.NonceSize() {
		return Witness{}, ErrDecryptionFailed
	}

	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, []byte{byte(env.Version)})
	if err != nil {
		return Witness{}, ErrDecryptionFailed
	}

	var ww wireWitness
	if err := json.Unmarshal(plaintext, &ww); err != nil {
		return Witness{}, ErrDecryptionFailed
	}
	w := Witness{
		AddressSecret: ww.AddressSecret,
		MerklePath:    ww.MerklePath,
		NullifierSeed: ww.NullifierSeed,
	}
	if err := w.Validate(); err != nil {
		return Witness{}, ErrDecryptionFailed
	}
	return w, nil
}

type wireWitness struct {
	AddressSecret []byte   `json:"address_secret"`
	MerklePath    [][]byte `json:"merkle_path"`
	NullifierSeed []byte   `json:"nullifier_seed"`
}
