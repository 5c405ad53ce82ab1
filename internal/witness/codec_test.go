package witness

import (
	"crypto/ecdh"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/suite"

	id "communique/pkg/domain"
)

type CodecSuite struct {
	suite.Suite
	codec *Codec
	priv  *ecdh.PrivateKey
}

func TestCodecSuite(t *testing.T) {
	suite.Run(t, new(CodecSuite))
}

func (s *CodecSuite) SetupTest() {
	s.codec = NewCodec(VersionV1)
	var err error
	s.priv, err = ecdh.X25519().GenerateKey(rand.Reader)
	s.Require().NoError(err)
}

func sampleWitness() Witness {
	return Witness{
		AddressSecret: []byte("address-derived-secret"),
		MerklePath:    [][]byte{[]byte("left"), []byte("right"), []byte("left")},
		NullifierSeed: []byte{0x42, 0x13, 0x37},
	}
}

func (s *CodecSuite) TestRoundTrip() {
	w := sampleWitness()

	env, err := s.codec.Encrypt(w, s.priv.PublicKey())
	s.Require().NoError(err)
	s.Equal(VersionV1, env.Version)

	got, err := s.codec.Decrypt(env, s.priv)
	s.Require().NoError(err)
	s.Equal(w, got)
}

func (s *CodecSuite) TestEnvelopeIndependence() {
	// Two envelopes of the same witness must not share an ephemeral key
	// or nonce.
	w := sampleWitness()

	first, err := s.codec.Encrypt(w, s.priv.PublicKey())
	s.Require().NoError(err)
	second, err := s.codec.Encrypt(w, s.priv.PublicKey())
	s.Require().NoError(err)

	s.NotEqual(first.EphemeralPub, second.EphemeralPub)
	s.NotEqual(first.Nonce, second.Nonce)
	s.NotEqual(first.Ciphertext, second.Ciphertext)
}

func (s *CodecSuite) TestDecryptFailures() {
	w := sampleWitness()
	env, err := s.codec.Encrypt(w, s.priv.PublicKey())
	s.Require().NoError(err)

	s.Run("tampered ciphertext", func() {
		bad := env
		bad.Ciphertext = append([]byte(nil), env.Ciphertext...)
		bad.Ciphertext[0] ^= 0xff
		_, err := s.codec.Decrypt(bad, s.priv)
		s.ErrorIs(err, ErrDecryptionFailed)
	})

	s.Run("truncated ephemeral key", func() {
		bad := env
		bad.EphemeralPub = env.EphemeralPub[:16]
		_, err := s.codec.Decrypt(bad, s.priv)
		s.ErrorIs(err, ErrDecryptionFailed)
	})

	s.Run("wrong recipient key", func() {
		other, err := ecdh.X25519().GenerateKey(rand.Reader)
		s.Require().NoError(err)
		_, err = s.codec.Decrypt(env, other)
		s.ErrorIs(err, ErrDecryptionFailed)
	})

	s.Run("version downgrade breaks authentication", func() {
		bad := env
		bad.Version = Version(7)
		permissive := NewCodec(VersionV1, Version(7))
		_, err := permissive.Decrypt(bad, s.priv)
		s.ErrorIs(err, ErrDecryptionFailed)
	})
}

func (s *CodecSuite) TestVersionRotation() {
	// An envelope sealed under v1 must fail cleanly once the server only
	// accepts newer versions.
	env, err := s.codec.Encrypt(sampleWitness(), s.priv.PublicKey())
	s.Require().NoError(err)

	rotated := NewCodec(Version(2))
	_, err = rotated.Decrypt(env, s.priv)
	s.ErrorIs(err, ErrUnsupportedVersion)
}

func (s *CodecSuite) TestZeroSeedRejected() {
	w := sampleWitness()
	w.NullifierSeed = []byte{0, 0, 0, 0}

	_, err := s.codec.Encrypt(w, s.priv.PublicKey())
	s.Error(err)
}

func (s *CodecSuite) TestNullifierDerivation() {
	w := sampleWitness()
	action, err := id.ParseActionID("9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d")
	s.Require().NoError(err)

	first := w.DeriveNullifier(action)
	second := w.DeriveNullifier(action)
	s.Equal(first, second)

	_, err = id.ParseNullifier(first.String())
	s.NoError(err)

	other, err := id.ParseActionID("16fd2706-8baf-433b-82eb-8c7fada847da")
	s.Require().NoError(err)
	s.NotEqual(first, w.DeriveNullifier(other))
}
