// Package handler implements the sprite-side consumer: verify the
// activation credential, drain the pending inbox through the gateway,
// run each message through an agent session, deliver replies via the
// gateway tool endpoint, then persist the cursor and exit.
package handler

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"skyclaw/pkg/auth"
	"skyclaw/pkg/config"
)

// EnvToken names the environment variable carrying the sprite credential.
const EnvToken = "SKYCLAW_TOKEN"

const envJWTSecret = "JWT_SECRET"

// Credentials is the verified identity a handler run operates under.
type Credentials struct {
	UserID     string
	GatewayURL string
	Token      string
}

// LoadCredentials verifies SKYCLAW_TOKEN and extracts the user identity
// and gateway address embedded in it.
func LoadCredentials() (*Credentials, error) {
	token := strings.TrimSpace(os.Getenv(EnvToken))
	if token == "" {
		return nil, errors.New("SKYCLAW_TOKEN environment variable is required; generate one from the gateway: GET /api/token/{userId}")
	}

	secret := strings.TrimSpace(os.Getenv(envJWTSecret))
	if secret == "" {
		secret = config.DefaultJWTSecret
	}

	signer, err := auth.NewSigner(secret)
	if err != nil {
		return nil, err
	}

	payload, err := signer.VerifyToken(token)
	if err != nil {
		return nil, fmt.Errorf("invalid SKYCLAW_TOKEN: %w", err)
	}
	if payload.GatewayURL == "" {
		return nil, errors.New("SKYCLAW_TOKEN carries no gateway url")
	}

	return &Credentials{
		UserID:     payload.UserID,
		GatewayURL: strings.TrimRight(payload.GatewayURL, "/"),
		Token:      token,
	}, nil
}
