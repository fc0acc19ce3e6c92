package inbox

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	xerrors "AgentEscrow/internal/errors"
	"AgentEscrow/internal/observability/alerting"
	"AgentEscrow/internal/observability/metrics"
	"AgentEscrow/pkg/logger"
)

// Executor handles a claimed delivery and returns the outcome stored on it.
type Executor interface {
	Handle(ctx context.Context, d Delivery) (string, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, d Delivery) (string, error)

// Handle implements Executor.
func (f ExecutorFunc) Handle(ctx context.Context, d Delivery) (string, error) { return f(ctx, d) }

// Processor consumes delivery IDs and runs them through an Executor with
// retries and alerts.
type Processor struct {
	executor      Executor
	store         Store
	consumer      Consumer
	producer      Producer
	workerCount   int
	depthInterval time.Duration
	logger        *slog.Logger
	alerter       alerting.Dispatcher
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithProcessorLogger sets the debug logger.
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = l }
}

// WithWorkerCount sets the number of consumer goroutines.
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher sets where terminal failures are reported.
func WithAlertDispatcher(d alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) { p.alerter = d }
}

// WithDepthInterval sets how often the pending gauge refreshes. Zero disables it.
func WithDepthInterval(interval time.Duration) ProcessorOption {
	return func(p *Processor) { p.depthInterval = interval }
}

// NewProcessor builds a Processor.
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:      executor,
		store:         store,
		consumer:      consumer,
		producer:      producer,
		workerCount:   1,
		depthInterval: 15 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start consumes until ctx is cancelled.
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "no delivery consumer configured")
	}
	if p.depthInterval > 0 && p.store != nil {
		go p.reportDepth(ctx)
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, id string) error {
	if p.store == nil || p.executor == nil || p.producer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "processor is not initialized")
	}
	d, err := p.store.Claim(ctx, id)
	if err != nil {
		if stdErrors.Is(err, ErrDeliveryNotFound) || stdErrors.Is(err, ErrDeliveryCompleted) ||
			stdErrors.Is(err, ErrDeliveryExhausted) || stdErrors.Is(err, ErrDeliveryConflict) {
			p.logDebug("delivery skipped", slog.String("delivery_id", id), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("claim delivery failed", slog.Any("error", err), slog.String("delivery_id", id))
		p.emitAlert(ctx, &Delivery{ID: id}, CodeDeliveryProcessing, err, "claim")
		return err
	}

	outcome, execErr := p.executor.Handle(ctx, *d)
	if execErr != nil {
		return p.handleFailure(ctx, d, execErr)
	}

	if err := p.store.MarkSucceeded(ctx, d.ID, outcome); err != nil {
		logger.L().Error("cannot mark delivery succeeded", slog.Any("error", err), slog.String("delivery_id", d.ID))
		return err
	}
	metrics.ObserveDelivery(string(StatusSucceeded))
	logger.Audit().Info("delivery handled",
		slog.String("delivery_id", d.ID),
		slog.String("transaction_id", d.TransactionID),
		slog.Bool("verified", d.Verified),
		slog.String("outcome", outcome),
	)
	return nil
}

func (p *Processor) handleFailure(ctx context.Context, d *Delivery, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeDeliveryProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := d.Attempts >= d.MaxRetries || !retryable

	if err := p.store.MarkFailed(ctx, d.ID, code, execErr.Error(), terminal); err != nil {
		logger.L().Error("cannot mark delivery failed", slog.Any("error", err), slog.String("delivery_id", d.ID))
		return err
	}
	metrics.ObserveDelivery(string(StatusFailed))
	logger.Audit().Warn("delivery failed",
		slog.String("delivery_id", d.ID),
		slog.String("transaction_id", d.TransactionID),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", d.Attempts),
		slog.Int("max_retries", d.MaxRetries),
	)

	if terminal {
		stage := "terminal"
		if !retryable {
			stage = "non_retryable"
		}
		p.emitAlert(ctx, d, code, execErr, stage)
		return nil
	}
	if pubErr := p.producer.Publish(ctx, d.ID); pubErr != nil {
		wrapped := xerrors.Wrap(CodeDeliveryPublish, pubErr, "requeue delivery "+d.ID)
		p.emitAlert(ctx, d, CodeDeliveryPublish, wrapped, "requeue")
		return wrapped
	}
	p.logDebug("delivery requeued", slog.String("delivery_id", d.ID), slog.Int("attempts", d.Attempts))
	return nil
}

func (p *Processor) reportDepth(ctx context.Context) {
	ticker := time.NewTicker(p.depthInterval)
	defer ticker.Stop()
	for {
		stats, err := p.store.Stats(ctx, ListOptions{Statuses: []Status{StatusPending, StatusFailed}})
		if err == nil {
			metrics.SetPendingDeliveries(stats.Pending + stats.Failed)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Processor) logDebug(msg string, attrs ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, attrs...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, d *Delivery, code xerrors.Code, cause error, stage string) {
	if p.alerter == nil || d == nil {
		return
	}
	event := alerting.FromError("delivery:"+d.ID, cause)
	event.Code = code
	event.Attempts = d.Attempts
	event.MaxRetries = d.MaxRetries
	if event.Metadata == nil {
		event.Metadata = map[string]string{}
	}
	event.Metadata["stage"] = stage
	if d.TransactionID != "" {
		event.Metadata["transaction_id"] = d.TransactionID
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("alert notification failed",
			slog.Any("error", err),
			slog.String("delivery_id", d.ID),
			slog.String("stage", stage),
		)
	}
}
