package webhook

import (
	"encoding/json"
	"strings"
	"time"

	xerrors "AgentEscrow/internal/errors"
)

// EventDelivered is the only event type sellers push.
const EventDelivered = "service.delivered"

// Event is a seller's delivery notification.
type Event struct {
	Event           string          `json:"event"`
	TransactionID   string          `json:"transactionId"`
	ServiceID       string          `json:"serviceId"`
	ResponsePayload json.RawMessage `json:"responsePayload"`
	DeliveredAt     time.Time       `json:"deliveredAt"`
	// Verified is set by the listener, never read from the wire.
	Verified bool `json:"-"`
}

// Validate checks the fields every handler relies on.
func (e Event) Validate() error {
	var fields []xerrors.FieldError
	if e.Event != EventDelivered {
		fields = append(fields, xerrors.FieldError{Path: "event", Message: "unsupported event " + e.Event})
	}
	if strings.TrimSpace(e.TransactionID) == "" {
		fields = append(fields, xerrors.FieldError{Path: "transactionId", Message: "required"})
	}
	if e.DeliveredAt.IsZero() {
		fields = append(fields, xerrors.FieldError{Path: "deliveredAt", Message: "required"})
	}
	if len(fields) > 0 {
		return xerrors.New(xerrors.CodeValidation, "malformed webhook event", xerrors.WithFieldErrors(fields...))
	}
	return nil
}

// ParseEvent decodes and validates a raw request body.
func ParseEvent(body []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, xerrors.Wrap(xerrors.CodeValidation, err, "webhook body is not a JSON event")
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}
