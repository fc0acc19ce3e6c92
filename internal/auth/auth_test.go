package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "AgentEscrow/internal/errors"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := NewService(Config{Secret: testSecret, TokenTTL: time.Hour})
	require.NoError(t, err)
	return s
}

func TestNewServiceRequiresSecret(t *testing.T) {
	_, err := NewService(Config{})
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = NewService(Config{Secret: "short"})
	assert.Error(t, err)
}

func TestIssueAndAuthenticate(t *testing.T) {
	s := newTestService(t)
	token, err := s.Issue("ops", []Scope{ScopeDeliveriesRead})
	require.NoError(t, err)

	subject, err := s.AuthenticateRequest("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "ops", subject.Username)
	assert.True(t, subject.Allows(ScopeDeliveriesRead))
	assert.False(t, subject.Allows(ScopeEscrowRead))
	assert.ErrorIs(t, subject.Require(ScopeEscrowRead), ErrPermissionDenied)
	assert.WithinDuration(t, time.Now().Add(time.Hour), subject.ExpiresAt, 5*time.Second)
}

func TestIssueDefaultsToReadScopes(t *testing.T) {
	s := newTestService(t)
	token, err := s.Issue("ops", nil)
	require.NoError(t, err)
	subject, err := s.AuthenticateRequest("bearer " + token)
	require.NoError(t, err)
	assert.ElementsMatch(t, ReadScopes(), subject.Scopes)

	_, err = s.Issue("ops", []Scope{"escrow:write"})
	assert.True(t, xerrors.HasCode(err, xerrors.CodeValidation))
}

func TestAdminScopeSatisfiesEverything(t *testing.T) {
	subject := &Subject{Username: "root", Scopes: []Scope{ScopeAdmin}}
	assert.NoError(t, subject.Require(ScopeDeliveriesRead, ScopeEscrowRead))

	var nobody *Subject
	assert.False(t, nobody.Allows(ScopeEscrowRead))
}

func TestParseScopes(t *testing.T) {
	scopes, err := ParseScopes([]string{" Escrow:Read ", "escrow:read", "", "admin"})
	require.NoError(t, err)
	assert.Equal(t, []Scope{ScopeEscrowRead, ScopeAdmin}, scopes)

	_, err = ParseScopes([]string{"deliveries:read", "root", "escrow:*"})
	require.Error(t, err)
	fields := xerrors.FieldErrors(err)
	require.Len(t, fields, 2)
	assert.Equal(t, "scope[1]", fields[0].Path)
	assert.Equal(t, "scope[2]", fields[1].Path)
}

func TestAuthenticateRejects(t *testing.T) {
	s := newTestService(t)

	_, err := s.AuthenticateRequest("")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = s.AuthenticateRequest("Bearer not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewService(Config{Secret: "ffffffffffffffffffffffffffffffff"})
	require.NoError(t, err)
	foreign, err := other.Issue("ops", ReadScopes())
	require.NoError(t, err)
	_, err = s.AuthenticateRequest("Bearer " + foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	s.now = func() time.Time { return time.Now().Add(-3 * time.Hour) }
	expired, err := s.Issue("ops", ReadScopes())
	require.NoError(t, err)
	s.now = time.Now
	_, err = s.AuthenticateRequest("Bearer " + expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "ops", "iss": DefaultIssuer})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = s.AuthenticateRequest("Bearer " + unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	s := newTestService(t)
	var seen string
	handler := s.Middleware(Guard{Scopes: []Scope{ScopeEscrowRead}})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = Username(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/escrows/tx", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := do("")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, string(xerrors.CodeUnauthenticated), body["code"])

	limited, err := s.Issue("viewer", []Scope{ScopeDeliveriesRead})
	require.NoError(t, err)
	rec = do(limited)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), string(xerrors.CodeForbidden))
	assert.Empty(t, seen)

	full, err := s.Issue("ops", ReadScopes())
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, do(full).Code)
	assert.Equal(t, "ops", seen)
}
