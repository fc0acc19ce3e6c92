package inbox

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "AgentEscrow/internal/errors"
)

// MemoryStore keeps delivery records in memory for single-instance
// deployments and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	deliveries map[string]*Delivery
	now        func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{deliveries: make(map[string]*Delivery), now: time.Now}
}

// Create implements Store.
func (m *MemoryStore) Create(_ context.Context, d *Delivery) error {
	if d == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "delivery is required")
	}
	if d.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "delivery ID is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deliveries[d.ID]; ok {
		return ErrDeliveryConflict
	}
	now := m.now().Unix()
	if d.CreatedAt == 0 {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	m.deliveries[d.ID] = cloneDelivery(d)
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (*Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deliveries[id]
	if !ok {
		return nil, ErrDeliveryNotFound
	}
	return cloneDelivery(d), nil
}

// Claim marks the record running and counts an attempt.
func (m *MemoryStore) Claim(_ context.Context, id string) (*Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return nil, ErrDeliveryNotFound
	}
	switch d.Status {
	case StatusSucceeded:
		return cloneDelivery(d), ErrDeliveryCompleted
	case StatusRunning:
		return cloneDelivery(d), ErrDeliveryConflict
	}
	if d.Attempts >= d.MaxRetries {
		return cloneDelivery(d), ErrDeliveryExhausted
	}
	d.Status = StatusRunning
	d.Attempts++
	d.LastError = ""
	d.ErrorCode = ""
	d.UpdatedAt = m.now().Unix()
	return cloneDelivery(d), nil
}

// MarkSucceeded stores the result and completes the record.
func (m *MemoryStore) MarkSucceeded(_ context.Context, id string, outcome string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrDeliveryNotFound
	}
	d.Status = StatusSucceeded
	d.Outcome = outcome
	d.LastError = ""
	d.ErrorCode = ""
	d.UpdatedAt = m.now().Unix()
	return nil
}

// MarkFailed records a failure. terminal exhausts the remaining retries.
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrDeliveryNotFound
	}
	d.Status = StatusFailed
	d.LastError = lastError
	d.ErrorCode = string(code)
	if terminal && d.Attempts < d.MaxRetries {
		d.Attempts = d.MaxRetries
	}
	d.UpdatedAt = m.now().Unix()
	return nil
}

// List returns the records matching opts.
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Delivery, 0, len(m.deliveries))
	for _, d := range m.deliveries {
		if !matchesListFilters(d, opts) {
			continue
		}
		results = append(results, cloneDelivery(d))
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if opts.Order == SortByUpdatedAsc {
			if a.UpdatedAt == b.UpdatedAt {
				if a.CreatedAt == b.CreatedAt {
					return a.ID < b.ID
				}
				return a.CreatedAt < b.CreatedAt
			}
			return a.UpdatedAt < b.UpdatedAt
		}
		if a.UpdatedAt == b.UpdatedAt {
			if a.CreatedAt == b.CreatedAt {
				return a.ID > b.ID
			}
			return a.CreatedAt > b.CreatedAt
		}
		return a.UpdatedAt > b.UpdatedAt
	})

	if opts.Offset >= len(results) {
		return []*Delivery{}, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats counts matching records per status and their update range.
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	stats := Stats{}
	for _, d := range m.deliveries {
		if !matchesListFilters(d, opts) {
			continue
		}
		stats.Total++
		switch d.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusSucceeded:
			stats.Succeeded++
		case StatusFailed:
			stats.Failed++
		}
		if d.UpdatedAt > stats.NewestUpdatedAt {
			stats.NewestUpdatedAt = d.UpdatedAt
		}
		if stats.OldestUpdatedAt == 0 || (d.UpdatedAt != 0 && d.UpdatedAt < stats.OldestUpdatedAt) {
			stats.OldestUpdatedAt = d.UpdatedAt
		}
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

func matchesListFilters(d *Delivery, opts ListOptions) bool {
	if len(opts.Statuses) > 0 {
		matched := false
		for _, status := range opts.Statuses {
			if d.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if opts.UpdatedGTE > 0 && d.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && d.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	if opts.Verified != nil && d.Verified != *opts.Verified {
		return false
	}
	if opts.TransactionID != "" && d.TransactionID != opts.TransactionID {
		return false
	}
	return true
}

var _ Store = (*MemoryStore)(nil)
