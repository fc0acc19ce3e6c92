package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	xerrors "AgentEscrow/internal/errors"
)

// Common errors returned by the authentication subsystem.
var (
	ErrDisabled         = errors.New("authentication disabled")
	ErrInvalidToken     = errors.New("invalid token")
	ErrMissingToken     = errors.New("missing bearer token")
	ErrPermissionDenied = errors.New("permission denied")
)

// Scope is one entry of the token's scope claim.
type Scope string

const (
	ScopeDeliveriesRead Scope = "deliveries:read"
	ScopeEscrowRead     Scope = "escrow:read"
	// ScopeAdmin satisfies every other scope.
	ScopeAdmin Scope = "admin"
)

// ReadScopes are the scopes granted when a token request names none.
func ReadScopes() []Scope {
	return []Scope{ScopeDeliveriesRead, ScopeEscrowRead}
}

func known(s Scope) bool {
	switch s {
	case ScopeDeliveriesRead, ScopeEscrowRead, ScopeAdmin:
		return true
	}
	return false
}

// ParseScopes normalises raw scope names, dropping duplicates. Unknown names
// fail with a validation error listing each offender.
func ParseScopes(raw []string) ([]Scope, error) {
	out := make([]Scope, 0, len(raw))
	var bad []xerrors.FieldError
	for i, r := range raw {
		s := Scope(strings.ToLower(strings.TrimSpace(r)))
		if s == "" {
			continue
		}
		if !known(s) {
			bad = append(bad, xerrors.FieldError{Path: fmt.Sprintf("scope[%d]", i), Message: "unknown scope " + string(s)})
			continue
		}
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	if len(bad) > 0 {
		return nil, xerrors.New(xerrors.CodeValidation, "invalid scope", xerrors.WithFieldErrors(bad...))
	}
	return out, nil
}

func scopeStrings(scopes []Scope) []string {
	out := make([]string, len(scopes))
	for i, s := range scopes {
		out[i] = string(s)
	}
	return out
}

// Subject is the verified holder of an admin token.
type Subject struct {
	Username  string
	Scopes    []Scope
	ExpiresAt time.Time
}

// Allows reports whether the subject holds scope, directly or through ScopeAdmin.
func (s *Subject) Allows(scope Scope) bool {
	if s == nil {
		return false
	}
	return slices.Contains(s.Scopes, scope) || slices.Contains(s.Scopes, ScopeAdmin)
}

// Require fails with ErrPermissionDenied naming the first missing scope.
func (s *Subject) Require(scopes ...Scope) error {
	for _, scope := range scopes {
		if !s.Allows(scope) {
			return fmt.Errorf("%w: %s", ErrPermissionDenied, scope)
		}
	}
	return nil
}
