// Package auth signs and verifies the sprite credential: a short-lived HS256
// token carrying the user identity and the gateway callback URL.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is the fixed issuer claim; verification rejects any other issuer.
const Issuer = "skyclaw-gateway"

// TokenTTL is the fixed credential validity window.
const TokenTTL = 24 * time.Hour

// ErrInvalidToken marks credentials that fail verification. Credential
// errors are fatal for the current request and never silently retried.
var ErrInvalidToken = errors.New("invalid or expired token")

// TokenPayload is the verified content of a sprite credential.
type TokenPayload struct {
	UserID     string
	GatewayURL string
	ExpiresAt  time.Time
}

type spriteClaims struct {
	UserID     string `json:"userId"`
	GatewayURL string `json:"gatewayUrl"`
	jwt.RegisteredClaims
}

// Signer mints and verifies sprite credentials with a shared secret.
type Signer struct {
	secret []byte
}

// NewSigner builds a signer from the shared secret.
func NewSigner(secret string) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("signing secret is required")
	}
	return &Signer{secret: []byte(secret)}, nil
}

// CreateToken mints a credential for a user with the gateway callback URL.
func (s *Signer) CreateToken(userID, gatewayURL string) (string, error) {
	now := time.Now()
	claims := spriteClaims{
		UserID:     userID,
		GatewayURL: gatewayURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign sprite token: %w", err)
	}
	return signed, nil
}

// VerifyToken checks the signature, expiry, and issuer, and returns the
// decoded payload.
func (s *Signer) VerifyToken(token string) (*TokenPayload, error) {
	var claims spriteClaims
	parsed, err := jwt.ParseWithClaims(
		token,
		&claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" {
		return nil, ErrInvalidToken
	}

	payload := &TokenPayload{
		UserID:     claims.UserID,
		GatewayURL: claims.GatewayURL,
	}
	if claims.ExpiresAt != nil {
		payload.ExpiresAt = claims.ExpiresAt.Time
	}
	return payload, nil
}
