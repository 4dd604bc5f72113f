// Package auth resolves the scanning-station account behind a request.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
)

// ErrUnauthorized is returned when a credential is missing or rejected.
var ErrUnauthorized = errors.New("unauthorized")

// Verifier maps a bearer token to an account id.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// JWTVerifier accepts HS256 scanner tokens issued by Issue.
type JWTVerifier struct {
	SigningKey string
	Issuer     string
}

// Verify implements Verifier.
func (v JWTVerifier) Verify(_ context.Context, token string) (string, error) {
	claims, err := Parse(token, v.SigningKey, v.Issuer)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return "", ErrUnauthorized
	}
	return claims.Subject, nil
}

// FirebaseVerifier accepts Firebase ID tokens; the uid is the account id.
type FirebaseVerifier struct {
	client *fbauth.Client
}

// NewFirebaseVerifier builds a verifier from an initialised Firebase app.
func NewFirebaseVerifier(ctx context.Context, app *firebase.App) (*FirebaseVerifier, error) {
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth: %w", err)
	}
	return &FirebaseVerifier{client: client}, nil
}

// Verify implements Verifier.
func (v *FirebaseVerifier) Verify(ctx context.Context, token string) (string, error) {
	tok, err := v.client.VerifyIDToken(ctx, token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return tok.UID, nil
}

// SharedSecret reports whether given matches the configured secret. An empty
// configured secret never matches.
func SharedSecret(configured, given string) bool {
	if configured == "" || given == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(given)) == 1
}
