// Package auth abstracts the external identity provider. The service only
// needs a yes/no answer plus a subject for logging; token issuance,
// lockout and the rest of identity management live elsewhere.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
)

// ErrInvalidToken is returned for missing, malformed or unknown tokens.
var ErrInvalidToken = errors.New("auth: invalid token")

// TokenVerifier validates an admin bearer token and returns the caller's
// subject.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (subject string, err error)
}

// StaticVerifier accepts a single shared admin token from configuration.
// A verifier backed by the real identity provider implements the same
// interface.
type StaticVerifier struct {
	token string
}

func NewStaticVerifier(token string) *StaticVerifier {
	return &StaticVerifier{token: token}
}

var _ TokenVerifier = (*StaticVerifier)(nil)

func (v *StaticVerifier) Verify(_ context.Context, token string) (string, error) {
	// An unconfigured verifier rejects everything rather than letting
	// admin endpoints run open.
	if v.token == "" || token == "" {
		return "", ErrInvalidToken
	}
	if subtle.ConstantTimeCompare([]byte(v.token), []byte(token)) != 1 {
		return "", ErrInvalidToken
	}
	return "admin", nil
}
