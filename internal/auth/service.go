package auth

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	xerrors "AgentEscrow/internal/errors"
	"AgentEscrow/pkg/logger"
)

// DefaultIssuer is the iss claim of admin tokens.
const DefaultIssuer = "escrowd"

// Config configures admin token signing and verification.
type Config struct {
	// Secret is the HS256 key. Empty disables the admin API.
	Secret    string
	Issuer    string
	TokenTTL  time.Duration
	ClockSkew time.Duration
}

// Service issues and verifies admin bearer tokens.
type Service struct {
	secret []byte
	issuer string
	ttl    time.Duration
	skew   time.Duration
	now    func() time.Time
	audit  *slog.Logger
}

type claims struct {
	Scope []string `json:"scope"`
	jwt.RegisteredClaims
}

// NewService builds the token service.
func NewService(cfg Config) (*Service, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, ErrDisabled
	}
	if len(secret) < 16 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "admin secret must be at least 16 bytes")
	}
	s := &Service{
		secret: []byte(secret),
		issuer: cfg.Issuer,
		ttl:    cfg.TokenTTL,
		skew:   cfg.ClockSkew,
		now:    time.Now,
		audit:  logger.Audit(),
	}
	if s.issuer == "" {
		s.issuer = DefaultIssuer
	}
	if s.ttl <= 0 {
		s.ttl = 12 * time.Hour
	}
	if s.skew <= 0 {
		s.skew = 2 * time.Minute
	}
	return s, nil
}

// Issue signs a token for username. An empty scope list grants ReadScopes.
func (s *Service) Issue(username string, scopes []Scope) (string, error) {
	if strings.TrimSpace(username) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "username is required")
	}
	if len(scopes) == 0 {
		scopes = ReadScopes()
	}
	for _, scope := range scopes {
		if !known(scope) {
			return "", xerrors.New(xerrors.CodeValidation, "unknown scope "+string(scope))
		}
	}
	now := s.now()
	expires := now.Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Scope: scopeStrings(scopes),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUnknown, err, "sign admin token")
	}
	s.audit.Info("admin token issued",
		slog.String("user", username),
		slog.Any("scope", scopes),
		slog.Time("expires_at", expires))
	return signed, nil
}

// AuthenticateRequest verifies an Authorization header value.
func (s *Service) AuthenticateRequest(authorization string) (*Subject, error) {
	raw := extractBearer(authorization)
	if raw == "" {
		return nil, ErrMissingToken
	}
	var c claims
	token, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithLeeway(s.skew),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || c.Subject == "" {
		return nil, ErrInvalidToken
	}
	subject := &Subject{Username: c.Subject}
	if c.ExpiresAt != nil {
		subject.ExpiresAt = c.ExpiresAt.Time
	}
	// Unknown scopes are dropped so tokens from other versions still parse.
	for _, v := range c.Scope {
		if scope := Scope(strings.ToLower(strings.TrimSpace(v))); known(scope) {
			subject.Scopes = append(subject.Scopes, scope)
		}
	}
	return subject, nil
}

func extractBearer(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
