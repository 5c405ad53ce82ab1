package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	id "communique/pkg/domain"
	"communique/pkg/platform/sentinel"
	"communique/pkg/requestcontext"
)

// Redis key prefix for session credentials.
const credentialKeyPrefix = "cred:pseudonym:"

// RedisCache is the production credential cache. Entries carry a Redis TTL
// matching their expiry, so a credential that is never read still vanishes
// from the store at end of life.
type RedisCache struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

type redisCredential struct {
	Pseudonym          string    `json:"pseudonym"`
	Tier               int       `json:"tier"`
	DistrictCommitment string    `json:"district_commitment,omitempty"`
	IssuedAt           time.Time `json:"issued_at"`
	ExpiresAt          time.Time `json:"expires_at"`
}

func (c *RedisCache) Put(ctx context.Context, cred SessionCredential) error {
	ttl := cred.ExpiresAt.Sub(requestcontext.Now(ctx))
	if ttl <= 0 {
		return sentinel.ErrExpired
	}
	payload, err := json.Marshal(redisCredential{
		Pseudonym:          cred.Pseudonym.String(),
		Tier:               int(cred.Tier),
		DistrictCommitment: cred.DistrictCommitment.String(),
		IssuedAt:           cred.IssuedAt,
		ExpiresAt:          cred.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	key := credentialKeyPrefix + cred.Pseudonym.String()
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, pseudonym id.Pseudonym) (SessionCredential, error) {
	key := credentialKeyPrefix + pseudonym.String()
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return SessionCredential{}, sentinel.ErrNotFound
	}
	if err != nil {
		return SessionCredential{}, fmt.Errorf("get credential: %w", err)
	}

	var rc redisCredential
	if err := json.Unmarshal(raw, &rc); err != nil {
		return SessionCredential{}, fmt.Errorf("unmarshal credential: %w", err)
	}
	cred := SessionCredential{
		Pseudonym:          id.Pseudonym(rc.Pseudonym),
		Tier:               id.TrustTier(rc.Tier),
		DistrictCommitment: id.DistrictCommitment(rc.DistrictCommitment),
		IssuedAt:           rc.IssuedAt,
		ExpiresAt:          rc.ExpiresAt,
	}
	// Redis TTL normally handles expiry; the explicit check covers clock
	// skew between the issuing instance and this reader.
	if cred.Expired(requestcontext.Now(ctx)) {
		return SessionCredential{}, sentinel.ErrNotFound
	}
	return cred, nil
}

func (c *RedisCache) Invalidate(ctx context.Context, pseudonym id.Pseudonym) error {
	key := credentialKeyPrefix + pseudonym.String()
	return c.client.Del(ctx, key).Err()
}
