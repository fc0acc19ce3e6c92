package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	xerrors "AgentEscrow/internal/errors"
)

// Guard is the scopes a route group requires and its audit event name.
type Guard struct {
	Scopes []Scope
	// Event defaults to the request path.
	Event string
}

// Middleware checks the bearer token and scopes and writes one audit record
// per admitted request.
func (s *Service) Middleware(g Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := s.AuthenticateRequest(r.Header.Get("Authorization"))
			if err != nil {
				if !errors.Is(err, ErrMissingToken) {
					w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				} else {
					w.Header().Set("WWW-Authenticate", `Bearer realm="escrowd"`)
				}
				deny(w, http.StatusUnauthorized, xerrors.CodeUnauthenticated, err)
				s.audit.Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"error", err.Error(),
				)
				return
			}
			if err := subject.Require(g.Scopes...); err != nil {
				deny(w, http.StatusForbidden, xerrors.CodeForbidden, err)
				s.audit.Warn("permission_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"user", subject.Username,
					"error", err.Error(),
				)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			ctx := WithSubject(r.Context(), subject)
			next.ServeHTTP(rec, r.WithContext(ctx))

			event := g.Event
			if event == "" {
				event = r.URL.Path
			}
			s.audit.Info("api_request",
				"event", event,
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"user", Username(ctx),
			)
		})
	}
}

// deny writes the admin API's {code, error} body.
func deny(w http.ResponseWriter, status int, code xerrors.Code, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":  string(code),
		"error": err.Error(),
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
