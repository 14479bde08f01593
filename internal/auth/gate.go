package auth

import (
	"errors"
	"strings"
)

const bearerPrefix = "Bearer "

// Static errors.
var (
	// ErrAuthMissing indicates an absent or malformed Authorization header.
	ErrAuthMissing = errors.New("missing or invalid API key")
	// ErrAuthInvalid indicates a well-formed header whose token is unknown or expired.
	ErrAuthInvalid = errors.New("invalid or expired API key")
	// ErrSubscriptionKey indicates a token request with a wrong subscription key.
	ErrSubscriptionKey = errors.New("invalid subscription key")
)

// Gate admits or rejects requests to protected operations.
type Gate struct {
	store   *TokenStore
	enforce bool
}

// NewGate creates a gate backed by store. When enforce is false every
// request is admitted.
func NewGate(store *TokenStore, enforce bool) *Gate {
	return &Gate{store: store, enforce: enforce}
}

// Enforced reports whether the gate checks credentials at all.
func (g *Gate) Enforced() bool {
	return g.enforce
}

// Check admits a request carrying the given Authorization header value.
// It returns ErrAuthMissing unless the header is exactly "Bearer <token>"
// with a non-empty token, and ErrAuthInvalid if the token does not validate.
func (g *Gate) Check(authorization string) error {
	if !g.enforce {
		return nil
	}

	token, ok := strings.CutPrefix(authorization, bearerPrefix)
	if !ok || token == "" {
		return ErrAuthMissing
	}

	if !g.store.Validate(token) {
		return ErrAuthInvalid
	}

	return nil
}

// IssueToken exchanges a subscription key for a fresh token. With
// enforcement disabled any key, including none, is accepted.
func (g *Gate) IssueToken(subscriptionKey string) (string, error) {
	if g.enforce && !g.store.IsStaticKey(subscriptionKey) {
		return "", ErrSubscriptionKey
	}

	return g.store.Issue(), nil
}
