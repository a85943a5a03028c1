// Package session decides whether a WebSocket handshake carries a valid
// session. It is consulted only for namespaces that require auth.
package session

import (
	"context"
	"crypto/subtle"
	"errors"
)

// Validator reports whether sessionID identifies a live session. A non-nil
// error means the answer is unknown, not that the session is invalid.
type Validator interface {
	Validate(ctx context.Context, sessionID string) (bool, error)
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, sessionID string) (bool, error)

func (f ValidatorFunc) Validate(ctx context.Context, sessionID string) (bool, error) {
	return f(ctx, sessionID)
}

// TokenValidator accepts a fixed set of static tokens.
type TokenValidator struct {
	tokens [][]byte
}

// NewTokenValidator creates a validator accepting any of tokens. Empty
// tokens are ignored.
func NewTokenValidator(tokens ...string) *TokenValidator {
	v := &TokenValidator{}
	for _, t := range tokens {
		if t != "" {
			v.tokens = append(v.tokens, []byte(t))
		}
	}
	return v
}

func (v *TokenValidator) Validate(_ context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}
	ok := false
	for _, t := range v.tokens {
		// Compare against every token so timing does not leak which matched.
		if subtle.ConstantTimeCompare([]byte(sessionID), t) == 1 {
			ok = true
		}
	}
	return ok, nil
}

// Chain accepts a session if any validator accepts it. Errors are only
// returned when no validator accepted.
type Chain []Validator

func (c Chain) Validate(ctx context.Context, sessionID string) (bool, error) {
	var errs []error
	for _, v := range c {
		ok, err := v.Validate(ctx, sessionID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, errors.Join(errs...)
}

// DenyAll rejects every session. Used when a namespace requires auth but no
// validator is configured.
type DenyAll struct{}

func (DenyAll) Validate(context.Context, string) (bool, error) { return false, nil }
