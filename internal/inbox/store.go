package inbox

import (
	"context"

	xerrors "AgentEscrow/internal/errors"
)

// Store persists delivery records.
type Store interface {
	Create(ctx context.Context, d *Delivery) error
	Get(ctx context.Context, id string) (*Delivery, error)
	Claim(ctx context.Context, id string) (*Delivery, error)
	MarkSucceeded(ctx context.Context, id string, outcome string) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error
	List(ctx context.Context, opts ListOptions) ([]*Delivery, error)
	Stats(ctx context.Context, opts ListOptions) (Stats, error)
	Close() error
}
