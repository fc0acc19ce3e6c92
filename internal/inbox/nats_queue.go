package inbox

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	xerrors "AgentEscrow/internal/errors"
	"AgentEscrow/pkg/logger"
)

// NATSConfig holds the NATS connection settings.
type NATSConfig struct {
	URL     string
	Subject string
	Group   string
	Timeout time.Duration
}

// NATSQueue distributes delivery IDs through a NATS queue group shared by
// every instance.
type NATSQueue struct {
	conn    *nats.Conn
	subject string
	group   string
}

// NewNATSQueue connects to the NATS server.
func NewNATSQueue(cfg NATSConfig) (*NATSQueue, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "NATS URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	log := logger.Named("inbox.nats")
	conn, err := nats.Connect(cfg.URL,
		nats.Name("escrowd-inbox"),
		nats.Timeout(timeout),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "connect NATS")
	}
	subject := cfg.Subject
	if subject == "" {
		subject = "escrowd.deliveries"
	}
	group := cfg.Group
	if group == "" {
		group = "escrowd"
	}
	return &NATSQueue{conn: conn, subject: subject, group: group}, nil
}

// Publish sends the delivery ID to the subject.
func (q *NATSQueue) Publish(_ context.Context, deliveryID string) error {
	if q == nil || q.conn == nil {
		return xerrors.New(xerrors.CodeQueueFailure, "NATS queue is not initialized")
	}
	if err := q.conn.Publish(q.subject, []byte(deliveryID)); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "publish delivery to NATS")
	}
	return nil
}

// Consume subscribes with the queue group and hands IDs to workerCount
// workers. IDs whose handler fails are republished.
func (q *NATSQueue) Consume(ctx context.Context, workerCount int, fn ConsumeFunc) error {
	if q == nil || q.conn == nil {
		return xerrors.New(xerrors.CodeQueueFailure, "NATS queue is not initialized")
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	msgs := make(chan *nats.Msg, workerCount*64)
	sub, err := q.conn.ChanQueueSubscribe(q.subject, q.group, msgs)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "subscribe to NATS subject")
	}
	defer sub.Unsubscribe()

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg := <-msgs:
					if msg == nil {
						continue
					}
					id := string(msg.Data)
					if err := fn(ctx, id); err != nil && ctx.Err() == nil {
						_ = q.conn.Publish(q.subject, msg.Data)
					}
				}
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Close drains the connection.
func (q *NATSQueue) Close() error {
	if q == nil || q.conn == nil {
		return nil
	}
	if err := q.conn.Drain(); err != nil {
		q.conn.Close()
		return err
	}
	return nil
}
