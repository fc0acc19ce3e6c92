package inbox

import (
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "AgentEscrow/internal/errors"
	"AgentEscrow/internal/webhook"
)

// Status is the processing state of a delivery record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Delivery is a received seller delivery notification.
type Delivery struct {
	ID            string          `json:"id"`
	TransactionID string          `json:"transaction_id"`
	ServiceID     string          `json:"service_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Verified      bool            `json:"verified"`
	DeliveredAt   int64           `json:"delivered_at"`
	Status        Status          `json:"status"`
	Attempts      int             `json:"attempts"`
	MaxRetries    int             `json:"max_retries"`
	LastError     string          `json:"last_error,omitempty"`
	ErrorCode     string          `json:"error_code,omitempty"`
	Outcome       string          `json:"outcome,omitempty"`
	CreatedAt     int64           `json:"created_at"`
	UpdatedAt     int64           `json:"updated_at"`
}

var idNamespace = uuid.MustParse("6f1c3e0a-4b7d-4f2e-9a51-0d3c8e2b7a94")

// DeliveryID derives the idempotency key for a transaction and delivery time.
// Redelivering the same event yields the same id.
func DeliveryID(transactionID string, deliveredAt time.Time) string {
	key := strings.TrimSpace(transactionID) + "|" + deliveredAt.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(idNamespace, []byte(key)).String()
}

// FromEvent converts an accepted webhook event into a pending delivery.
func FromEvent(ev webhook.Event, maxRetries int) *Delivery {
	return &Delivery{
		ID:            DeliveryID(ev.TransactionID, ev.DeliveredAt),
		TransactionID: ev.TransactionID,
		ServiceID:     ev.ServiceID,
		Payload:       append(json.RawMessage(nil), ev.ResponsePayload...),
		Verified:      ev.Verified,
		DeliveredAt:   ev.DeliveredAt.Unix(),
		Status:        StatusPending,
		MaxRetries:    maxRetries,
	}
}

var (
	// ErrDeliveryNotFound means no record has the ID.
	ErrDeliveryNotFound = xerrors.New(CodeDeliveryNotFound, "delivery not found")
	// ErrDeliveryConflict means the record's state forbids the operation.
	ErrDeliveryConflict = xerrors.New(CodeDeliveryConflict, "delivery conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrDeliveryCompleted means the record already succeeded.
	ErrDeliveryCompleted = xerrors.New(CodeDeliveryCompleted, "delivery already handled", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrDeliveryExhausted means no retries remain.
	ErrDeliveryExhausted = xerrors.New(CodeDeliveryExhausted, "delivery retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodeDeliveryNotFound   xerrors.Code = "DELIVERY_NOT_FOUND"
	CodeDeliveryConflict   xerrors.Code = "DELIVERY_CONFLICT"
	CodeDeliveryCompleted  xerrors.Code = "DELIVERY_COMPLETED"
	CodeDeliveryExhausted  xerrors.Code = "DELIVERY_RETRIES_EXHAUSTED"
	CodeDeliveryPublish    xerrors.Code = "DELIVERY_PUBLISH_FAILED"
	CodeDeliveryProcessing xerrors.Code = "DELIVERY_PROCESSING_FAILED"
)

func init() {
	xerrors.Register(CodeDeliveryNotFound, xerrors.Attributes{
		Message:  "delivery not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeDeliveryConflict, xerrors.Attributes{
		Message:  "delivery conflict",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeDeliveryCompleted, xerrors.Attributes{
		Message:  "delivery already handled",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeDeliveryExhausted, xerrors.Attributes{
		Message:  "delivery retries exhausted",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeDeliveryPublish, xerrors.Attributes{
		Message:   "failed to publish delivery",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeDeliveryProcessing, xerrors.Attributes{
		Message:   "delivery handling failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

// IsDeliveryError reports whether err carries target's code.
func IsDeliveryError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	switch {
	case stdErrors.Is(err, ErrDeliveryNotFound):
		return target == CodeDeliveryNotFound
	case stdErrors.Is(err, ErrDeliveryConflict):
		return target == CodeDeliveryConflict
	case stdErrors.Is(err, ErrDeliveryCompleted):
		return target == CodeDeliveryCompleted
	case stdErrors.Is(err, ErrDeliveryExhausted):
		return target == CodeDeliveryExhausted
	}
	return false
}

// IsValidStatus reports whether s is a known status.
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

func cloneDelivery(d *Delivery) *Delivery {
	clone := *d
	if d.Payload != nil {
		clone.Payload = append(json.RawMessage(nil), d.Payload...)
	}
	return &clone
}
