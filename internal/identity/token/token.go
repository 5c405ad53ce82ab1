// Package token mints and validates session credential tokens. A credential
// token is the wire form of a session credential: pseudonym, tier, and
// district commitment signed by the server, bounded by the credential TTL.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"communique/internal/platform/middleware"
	id "communique/pkg/domain"
	dErrors "communique/pkg/domain-errors"
)

// Claims represents the JWT claims for session credential tokens.
type Claims struct {
	Pseudonym          string `json:"pseudonym"`
	Tier               int    `json:"tier"`
	DistrictCommitment string `json:"district_commitment,omitempty"`
	jwt.RegisteredClaims
}

// Service handles credential token creation and validation.
type Service struct {
	signingKey []byte
	issuer     string
}

func NewService(signingKey string, issuer string) *Service {
	return &Service{
		signingKey: []byte(signingKey),
		issuer:     issuer,
	}
}

// Mint signs a credential token for the given pseudonym and tier.
func (s *Service) Mint(
	pseudonym id.Pseudonym,
	tier id.TrustTier,
	commitment id.DistrictCommitment,
	issuedAt time.Time,
	ttl time.Duration) (string, error) {
	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Pseudonym:          pseudonym.String(),
		Tier:               int(tier),
		DistrictCommitment: commitment.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
		},
	})

	signedToken, err := newToken.SignedString(s.signingKey)
	if err != nil {
		return "", err
	}
	return signedToken, nil
}

// ValidateToken parses and verifies a credential token. Expired or tampered
// tokens surface as CodeUnauthorized; the caller must re-verify.
func (s *Service) ValidateToken(tokenString string) (*middleware.CredentialClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "credential has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid credential")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid credential")
	}

	pseudonym, err := id.ParsePseudonym(claims.Pseudonym)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid credential")
	}
	tier, err := id.ParseTrustTier(claims.Tier)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid credential")
	}

	return &middleware.CredentialClaims{
		Pseudonym:          pseudonym,
		Tier:               tier,
		DistrictCommitment: id.DistrictCommitment(claims.DistrictCommitment),
	}, nil
}
