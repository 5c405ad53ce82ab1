package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures process-level configuration so main stays lean.
type Config struct {
	Server       ServerConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	Delivery     DeliveryConfig
	Credential   CredentialConfig
	Proof        ProofConfig
	Verification VerificationConfig
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr          string
	JWTSigningKey string
}

// PostgresConfig captures the ledger database connection settings.
type PostgresConfig struct {
	DSN string
}

// RedisConfig captures Redis connection settings for the credential cache
// and the ephemeral key store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig captures the audit event stream settings.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

// DeliveryConfig bounds the delivery integration: per-call timeout, retry
// budget, and backoff shape are separate knobs on purpose.
type DeliveryConfig struct {
	CWCBaseURL       string
	CWCAPIKey        string
	CWCCampaignID    string
	EmailRelayURL    string
	EmailRelayAPIKey string
	EmailFromDomain  string
	CallTimeout      time.Duration
	MaxAttempts      int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	LeaseDuration    time.Duration
	PollInterval     time.Duration
	Workers          int
}

// CredentialConfig bounds session credential lifetimes.
type CredentialConfig struct {
	TTL time.Duration
	// MessageFreshness is the maximum credential age accepted for a
	// constituent message action.
	MessageFreshness time.Duration
}

// ProofConfig bounds client-facing proof generation and names the external
// proving module and district registry endpoints.
type ProofConfig struct {
	// ProveTimeout is generous: proving time is device dependent.
	ProveTimeout time.Duration
	ProverURL    string
	RegistryURL  string
}

// VerificationConfig names the external verification collaborators.
type VerificationConfig struct {
	PasskeyURL     string
	AttestorURL    string
	DocumentURL    string
	CommitmentSalt string
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Server: ServerConfig{
			Addr:          envOr("COMMUNIQUE_ADDR", ":8080"),
			JWTSigningKey: envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		},
		Postgres: PostgresConfig{
			DSN: envOr("POSTGRES_DSN", ""),
		},
		Redis: RedisConfig{
			URL:          envOr("REDIS_URL", ""),
			PoolSize:     envIntOr("REDIS_POOL_SIZE", 10),
			MinIdleConns: envIntOr("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDurationOr("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDurationOr("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDurationOr("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:    splitNonEmpty(envOr("KAFKA_BROKERS", "")),
			AuditTopic: envOr("KAFKA_AUDIT_TOPIC", "communique.audit"),
		},
		Delivery: DeliveryConfig{
			CWCBaseURL:       envOr("CWC_BASE_URL", ""),
			CWCAPIKey:        envOr("CWC_API_KEY", ""),
			CWCCampaignID:    envOr("CWC_CAMPAIGN_ID", "communique"),
			EmailRelayURL:    envOr("EMAIL_RELAY_URL", ""),
			EmailRelayAPIKey: envOr("EMAIL_RELAY_API_KEY", ""),
			EmailFromDomain:  envOr("EMAIL_FROM_DOMAIN", "mail.communique.example"),
			CallTimeout:    envDurationOr("DELIVERY_CALL_TIMEOUT", 30*time.Second),
			MaxAttempts:    envIntOr("DELIVERY_MAX_ATTEMPTS", 5),
			InitialBackoff: envDurationOr("DELIVERY_INITIAL_BACKOFF", 2*time.Second),
			MaxBackoff:     envDurationOr("DELIVERY_MAX_BACKOFF", 5*time.Minute),
			LeaseDuration:  envDurationOr("DELIVERY_LEASE_DURATION", 2*time.Minute),
			PollInterval:   envDurationOr("DELIVERY_POLL_INTERVAL", 5*time.Second),
			Workers:        envIntOr("DELIVERY_WORKERS", 4),
		},
		Credential: CredentialConfig{
			TTL:              envDurationOr("CREDENTIAL_TTL", 24*time.Hour),
			MessageFreshness: envDurationOr("CREDENTIAL_MESSAGE_FRESHNESS", time.Hour),
		},
		Proof: ProofConfig{
			ProveTimeout: envDurationOr("PROOF_PROVE_TIMEOUT", 60*time.Second),
			ProverURL:    envOr("PROVER_URL", ""),
			RegistryURL:  envOr("DISTRICT_REGISTRY_URL", ""),
		},
		Verification: VerificationConfig{
			PasskeyURL:     envOr("PASSKEY_SERVICE_URL", ""),
			AttestorURL:    envOr("ADDRESS_ATTESTOR_URL", ""),
			DocumentURL:    envOr("DOCUMENT_CHECK_URL", ""),
			CommitmentSalt: envOr("DISTRICT_COMMITMENT_SALT", "dev-salt-change-in-production"),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
