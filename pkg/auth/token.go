package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned when a credential is absent, malformed,
// badly signed or expired
var ErrUnauthenticated = errors.New("unauthenticated")

// Verifier turns an opaque session credential into an Identity
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// SessionClaims is the JWT payload of a session token
type SessionClaims struct {
	UserID      string      `json:"id"`
	Email       string      `json:"email"`
	Name        string      `json:"name,omitempty"`
	AccountType AccountType `json:"accountType"`
	BusinessID  string      `json:"businessId,omitempty"`
	Teams       []TeamClaim `json:"teams,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HMAC signed session tokens
type JWTVerifier struct {
	method jwt.SigningMethod
	key    []byte
	expiry time.Duration
	now    func() time.Time
}

// NewHS256Verifier creates a verifier (and issuer) for HS256 session tokens
func NewHS256Verifier(secret string, expiry time.Duration) *JWTVerifier {
	return &JWTVerifier{
		method: jwt.SigningMethodHS256,
		key:    []byte(secret),
		expiry: expiry,
		now:    time.Now,
	}
}

// Issue signs a session token for the identity. The API never issues
// credentials itself; this backs local development and tests.
func (v *JWTVerifier) Issue(identity *Identity) (string, error) {
	now := v.now()
	claims := SessionClaims{
		UserID:      identity.UserID,
		Email:       identity.Email,
		Name:        identity.Name,
		AccountType: identity.AccountType,
		BusinessID:  identity.BusinessID,
		Teams:       identity.Teams,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(v.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(v.method, claims).SignedString(v.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry and maps the claims to an Identity
func (v *JWTVerifier) Verify(ctx context.Context, tokenString string) (*Identity, error) {
	if tokenString == "" {
		return nil, ErrUnauthenticated
	}

	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != v.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.key, nil
	}, jwt.WithTimeFunc(v.now), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}

	return &Identity{
		UserID:      userID,
		Email:       claims.Email,
		Name:        claims.Name,
		AccountType: claims.AccountType,
		BusinessID:  claims.BusinessID,
		Teams:       claims.Teams,
	}, nil
}
