// Package session issues and verifies signed session credentials (HS256 JWTs).
package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rtchat/authserver/types"
)

// DefaultTTL is the lifetime of a session credential unless configured otherwise.
const DefaultTTL = 7 * 24 * time.Hour

var (
	// ErrRejected is returned for any credential that fails verification.
	ErrRejected = errors.New("session credential rejected")
	// ErrExpired is returned, wrapped in ErrRejected, once a credential's expiry has passed.
	ErrExpired = fmt.Errorf("%w: expired", ErrRejected)
	// ErrNoSecret is returned when a signer is built without a secret.
	ErrNoSecret = errors.New("signing secret is required")
)

// Identity is the set of account fields embedded in a credential.
type Identity struct {
	AccountID int64
	Email     string
	Role      types.Role
}

// Claims are the verified contents of a session credential.
type Claims struct {
	Identity
	CredentialID string
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Signer holds the process-wide signing secret.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner builds a Signer. A non-positive ttl selects DefaultTTL.
func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrNoSecret
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// TTL reports the default credential lifetime.
func (s *Signer) TTL() time.Duration {
	return s.ttl
}

// Issue signs a credential for identity valid for ttl (zero uses the signer default).
func (s *Signer) Issue(identity Identity, ttl time.Duration) (string, Claims, error) {
	if ttl == 0 {
		ttl = s.ttl
	}
	if identity.AccountID < 1 {
		return "", Claims{}, errors.New("account id is required")
	}
	if _, err := types.ParseRole(string(identity.Role)); err != nil {
		return "", Claims{}, err
	}

	issuedAt := s.now().Truncate(time.Second)
	claims := Claims{
		Identity:     identity,
		CredentialID: uuid.NewString(),
		IssuedAt:     issuedAt,
		ExpiresAt:    issuedAt.Add(ttl),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        claims.CredentialID,
			Subject:   strconv.FormatInt(identity.AccountID, 10),
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
		Email: identity.Email,
		Role:  string(identity.Role),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("sign credential: %w", err)
	}
	return signed, claims, nil
}

// Verify checks the signature and expiry of credential as of now. Nothing in
// the credential is trusted unless verification succeeds.
func (s *Signer) Verify(credential string, now time.Time) (Claims, error) {
	parsed := jwtClaims{}
	token, err := jwt.ParseWithClaims(credential, &parsed, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpired
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if !token.Valid {
		return Claims{}, ErrRejected
	}

	accountID, err := strconv.ParseInt(parsed.Subject, 10, 64)
	if err != nil || accountID < 1 {
		return Claims{}, fmt.Errorf("%w: invalid subject", ErrRejected)
	}
	role, err := types.ParseRole(parsed.Role)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	claims := Claims{
		Identity: Identity{
			AccountID: accountID,
			Email:     parsed.Email,
			Role:      role,
		},
		CredentialID: parsed.ID,
		ExpiresAt:    parsed.ExpiresAt.Time,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time
	}
	return claims, nil
}
