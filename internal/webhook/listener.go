package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	xerrors "AgentEscrow/internal/errors"
	"AgentEscrow/internal/observability/alerting"
	"AgentEscrow/internal/observability/metrics"
	"AgentEscrow/pkg/logger"
)

// MaxBodyBytes bounds the accepted request body.
const MaxBodyBytes int64 = 1 << 20

// Dispatcher receives accepted events. Dispatch must hand the event off and
// return quickly; handling happens elsewhere.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event) error
}

// Handler processes one delivery event.
type Handler func(ctx context.Context, ev Event) error

// Async runs handler on its own goroutine for every event. Handler failures
// are logged.
func Async(handler Handler) Dispatcher {
	return asyncDispatcher{handler: handler}
}

type asyncDispatcher struct {
	handler Handler
}

func (a asyncDispatcher) Dispatch(_ context.Context, ev Event) error {
	go func() {
		if err := a.handler(context.Background(), ev); err != nil {
			logger.Named("webhook").Error("delivery handler failed",
				slog.String("transaction_id", ev.TransactionID),
				slog.String("error", err.Error()))
		}
	}()
	return nil
}

// ListenerOptions configures a Listener.
type ListenerOptions struct {
	// Secret enables signature checks. Empty runs the listener unverified.
	Secret string
	// Limit and Burst throttle incoming requests. Zero Limit disables it.
	Limit rate.Limit
	Burst int
	// Alerts receives the unverified-mode warning.
	Alerts alerting.Dispatcher
}

// Listener is the buyer-side endpoint receiving seller delivery pushes.
type Listener struct {
	verifier   Verifier
	dispatcher Dispatcher
	limiter    *rate.Limiter
	log        *slog.Logger
}

// NewListener builds a listener. Running without a secret is allowed but
// logged once and raised as an operator alert.
func NewListener(dispatcher Dispatcher, opts ListenerOptions) (*Listener, error) {
	if dispatcher == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "webhook listener requires a dispatcher")
	}
	l := &Listener{
		verifier:   Verifier{Secret: opts.Secret},
		dispatcher: dispatcher,
		log:        logger.Named("webhook"),
	}
	if opts.Limit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(opts.Limit, burst)
	}
	if !l.verifier.Enabled() {
		l.log.Warn("webhook listener running without a signing secret; deliveries will be accepted unverified")
		if opts.Alerts != nil {
			event := alerting.Event{
				Code:       xerrors.CodePreconditionNotMet,
				Message:    "webhook listener running without signature verification",
				Severity:   xerrors.SeverityWarning,
				Subject:    "webhook",
				OccurredAt: time.Now().UTC(),
			}
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := opts.Alerts.Notify(ctx, event); err != nil {
					l.log.Error("failed to raise unverified webhook alert", slog.String("error", err.Error()))
				}
			}()
		}
	}
	return l, nil
}

// Verified reports whether the listener checks signatures.
func (l *Listener) Verified() bool { return l.verifier.Enabled() }

// ServeHTTP implements http.Handler.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if l.limiter != nil && !l.limiter.Allow() {
		metrics.ObserveWebhook("throttled")
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many requests"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.ObserveWebhook("malformed")
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}

	res := l.verifier.Verify(body, r.Header.Get(SignatureHeader))
	if res.Status == Rejected {
		metrics.ObserveWebhook(string(Rejected))
		logger.Audit().Warn("webhook rejected",
			slog.String("remote", r.RemoteAddr),
			slog.String("reason", res.Reason))
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
		return
	}

	ev, err := ParseEvent(body)
	if err != nil {
		metrics.ObserveWebhook("malformed")
		resp := map[string]any{"error": "malformed event"}
		if fields := xerrors.FieldErrors(err); len(fields) > 0 {
			resp["details"] = fields
		}
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}
	ev.Verified = res.Status == Verified

	if err := l.dispatcher.Dispatch(r.Context(), ev); err != nil {
		l.log.Error("failed to dispatch webhook event",
			slog.String("transaction_id", ev.TransactionID),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event not accepted"})
		return
	}
	metrics.ObserveWebhook(string(res.Status))
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "verified": ev.Verified})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
