package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	xerrors "AgentEscrow/internal/errors"
)

// Sender pushes signed delivery events to a buyer's callback URL.
type Sender struct {
	Secret string
	Client *http.Client
}

// Push signs ev with the sender secret and POSTs it to url.
func (s Sender) Push(ctx context.Context, url string, ev Event) error {
	if strings.TrimSpace(url) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "callback url is required")
	}
	if ev.Event == "" {
		ev.Event = EventDelivered
	}
	if ev.DeliveredAt.IsZero() {
		ev.DeliveredAt = time.Now().UTC()
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode event")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(s.Secret) != "" {
		req.Header.Set(SignatureHeader, Sign(s.Secret, body))
	}

	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return xerrors.Wrap(xerrors.CodeTimeout, err, "webhook push timed out")
		}
		return xerrors.Wrap(xerrors.CodeNetworkError, err, "webhook push failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return xerrors.New(xerrors.CodeUnauthenticated, "receiver rejected the webhook signature")
	case resp.StatusCode == http.StatusTooManyRequests:
		return xerrors.New(xerrors.CodeRateLimited, "receiver throttled the webhook",
			xerrors.WithRetryAfter(xerrors.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now(), time.Second)))
	case resp.StatusCode >= 500:
		return xerrors.New(xerrors.CodeNetworkError, fmt.Sprintf("receiver returned HTTP %d", resp.StatusCode))
	default:
		return xerrors.New(xerrors.CodeValidation, fmt.Sprintf("receiver returned HTTP %d", resp.StatusCode))
	}
}
