package inbox

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	xerrors "AgentEscrow/internal/errors"
	"AgentEscrow/internal/webhook"
	"AgentEscrow/pkg/logger"
)

// DefaultMaxRetries bounds handler attempts per delivery.
const DefaultMaxRetries = 3

// Service accepts delivery notifications and answers queries about them.
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// NewService builds a Service. maxRetries <= 0 uses DefaultMaxRetries.
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries}
}

// Accept persists the event and queues it. A transaction and delivery time
// pair is queued only once.
func (s *Service) Accept(ctx context.Context, ev webhook.Event) (*Delivery, error) {
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "delivery service is not initialized")
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	d := FromEvent(ev, s.maxRetries)
	existing, err := s.store.Get(ctx, d.ID)
	switch {
	case err == nil:
		if existing.Status == StatusFailed && existing.ErrorCode == string(CodeDeliveryPublish) {
			return existing, s.publish(ctx, existing)
		}
		return existing, nil
	case !stdErrors.Is(err, ErrDeliveryNotFound):
		return nil, err
	}

	if err := s.store.Create(ctx, d); err != nil {
		if stdErrors.Is(err, ErrDeliveryConflict) {
			return s.store.Get(ctx, d.ID)
		}
		return nil, err
	}
	if err := s.publish(ctx, d); err != nil {
		return nil, err
	}
	logger.Audit().Info("delivery notification queued",
		slog.String("delivery_id", d.ID),
		slog.String("transaction_id", d.TransactionID),
		slog.Bool("verified", d.Verified),
	)
	return d, nil
}

func (s *Service) publish(ctx context.Context, d *Delivery) error {
	if err := s.producer.Publish(ctx, d.ID); err != nil {
		logger.L().Error("queue delivery failed", slog.Any("error", err), slog.String("delivery_id", d.ID))
		wrapped := xerrors.Wrap(CodeDeliveryPublish, err, "publish delivery to queue")
		_ = s.store.MarkFailed(ctx, d.ID, CodeDeliveryPublish, wrapped.Error(), false)
		return wrapped
	}
	return nil
}

// Dispatch implements webhook.Dispatcher.
func (s *Service) Dispatch(ctx context.Context, ev webhook.Event) error {
	_, err := s.Accept(ctx, ev)
	return err
}

// Get returns one record.
func (s *Service) Get(ctx context.Context, id string) (*Delivery, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "delivery store is not initialized")
	}
	return s.store.Get(ctx, id)
}

// List returns the records matching opts.
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Delivery, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "delivery store is not initialized")
	}
	return s.store.List(ctx, BuildListOptions(opts...))
}

func (s *Service) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	if s.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "delivery store is not initialized")
	}
	return s.store.Stats(ctx, BuildListOptions(opts...))
}

// Close closes the producer and the store.
func (s *Service) Close() error {
	var errs []error
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return stdErrors.Join(errs...)
}

// WaitUntilHandled polls until the record succeeds or fails terminally.
func (s *Service) WaitUntilHandled(ctx context.Context, id string, interval time.Duration) (*Delivery, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		d, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if d.Status == StatusSucceeded || (d.Status == StatusFailed && d.Attempts >= d.MaxRetries) {
			return d, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

var _ webhook.Dispatcher = (*Service)(nil)
