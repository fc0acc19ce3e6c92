package inbox

import "context"

// ConsumeFunc handles one delivery ID taken from a queue.
type ConsumeFunc func(ctx context.Context, deliveryID string) error

// Producer publishes delivery IDs.
type Producer interface {
	Publish(ctx context.Context, deliveryID string) error
	Close() error
}

// Consumer runs workers over published delivery IDs.
type Consumer interface {
	Consume(ctx context.Context, workerCount int, fn ConsumeFunc) error
	Close() error
}

// Queue is both ends of a delivery queue.
type Queue interface {
	Producer
	Consumer
}
