package authz

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

const (
	tokenIssuer   = "warden.core/authz"
	tokenAudience = "warden.executor"

	// keyInfo versions the derived signing key; bump on format changes.
	keyInfo = "warden/authz/token/v1"
)

var (
	// ErrTokenInvalid is returned for tokens that fail signature or claim
	// validation.
	ErrTokenInvalid = errors.New("authz: token invalid")
)

// TokenClaims are the signed claims of an authorization token. The JWT id is
// the authorization id and the subject is the intent id.
type TokenClaims struct {
	jwt.RegisteredClaims
}

// TokenSigner mints and verifies authorization tokens with a key derived
// from the master secret.
type TokenSigner struct {
	key []byte
	now func() time.Time
}

// NewTokenSigner derives the signing key from the master secret.
func NewTokenSigner(master []byte) (*TokenSigner, error) {
	if len(master) == 0 {
		return nil, errors.New("authz: master secret must not be empty")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("authz: deriving signing key: %w", err)
	}
	return &TokenSigner{key: key, now: time.Now}, nil
}

// WithClock overrides the verification clock for deterministic testing.
func (s *TokenSigner) WithClock(clock func() time.Time) *TokenSigner {
	s.now = clock
	return s
}

// Mint signs a token for the authorization.
func (s *TokenSigner) Mint(authorizationID, intentID string, grantedAt, expiresAt time.Time) (string, error) {
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        authorizationID,
			Subject:   intentID,
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{tokenAudience},
			IssuedAt:  jwt.NewNumericDate(grantedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// Verify parses and validates a token string, including expiry.
func (s *TokenSigner) Verify(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrTokenInvalid, t.Header["alg"])
		}
		return s.key, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
