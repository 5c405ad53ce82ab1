package keystore

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"communique/pkg/platform/sentinel"
)

// Redis key prefix for ephemeral witness keys.
const ephemeralKeyPrefix = "ekey:"

// RedisStore holds ephemeral private keys in Redis. GETDEL gives the
// single-use guarantee across instances; the TTL bounds the exposure window
// of keys that are issued but never consumed.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Issue(ctx context.Context) (IssuedKey, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return IssuedKey{}, fmt.Errorf("generate ephemeral key: %w", err)
	}

	keyID := uuid.NewString()
	if err := s.client.Set(ctx, ephemeralKeyPrefix+keyID, priv.Bytes(), s.ttl).Err(); err != nil {
		return IssuedKey{}, fmt.Errorf("store ephemeral key: %w", err)
	}
	return IssuedKey{KeyID: keyID, Public: priv.PublicKey()}, nil
}

func (s *RedisStore) Consume(ctx context.Context, keyID string) (*ecdh.PrivateKey, error) {
	raw, err := s.client.GetDel(ctx, ephemeralKeyPrefix+keyID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consume ephemeral key: %w", err)
	}

	priv, err := ecdh.X25519().NewPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("decode ephemeral key: %w", err)
	}
	return priv, nil
}
