package keystore

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"communique/pkg/platform/sentinel"
	"communique/pkg/requestcontext"
)

// InMemoryStore is a mutex-guarded key store for tests.
type InMemoryStore struct {
	mu   sync.Mutex
	keys map[string]memoryKey
	ttl  time.Duration
}

type memoryKey struct {
	priv      *ecdh.PrivateKey
	expiresAt time.Time
}

func NewMemory(ttl time.Duration) *InMemoryStore {
	return &InMemoryStore{
		keys: make(map[string]memoryKey),
		ttl:  ttl,
	}
}

func (s *InMemoryStore) Issue(ctx context.Context) (IssuedKey, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return IssuedKey{}, fmt.Errorf("generate ephemeral key: %w", err)
	}

	keyID := uuid.NewString()
	s.mu.Lock()
	s.keys[keyID] = memoryKey{
		priv:      priv,
		expiresAt: requestcontext.Now(ctx).Add(s.ttl),
	}
	s.mu.Unlock()
	return IssuedKey{KeyID: keyID, Public: priv.PublicKey()}, nil
}

func (s *InMemoryStore) Consume(ctx context.Context, keyID string) (*ecdh.PrivateKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[keyID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	delete(s.keys, keyID)
	if !requestcontext.Now(ctx).Before(key.expiresAt) {
		return nil, sentinel.ErrNotFound
	}
	return key.priv, nil
}
