package idempotency

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/gmartell/paycore/pkg/errors"
)

type memoryEntry struct {
	state          State
	owner          string
	result         json.RawMessage
	leaseExpiresAt time.Time
}

// MemoryStore is an in-process Store for tests and single-node setups.
// The clock is injectable so lease expiry can be exercised without sleeping.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]*memoryEntry
	leaseTTL time.Duration
	now      func() time.Time
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore(leaseTTL time.Duration, now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		entries:  map[string]*memoryEntry{},
		leaseTTL: leaseTTL,
		now:      now,
	}
}

func (m *MemoryStore) Reserve(ctx context.Context, key string) (*Reservation, error) {
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if ok {
		switch {
		case entry.state == StateCompleted:
			return &Reservation{State: StateCompleted, Result: entry.result}, nil
		case entry.leaseExpiresAt.After(m.now()):
			return &Reservation{State: StateInProgress}, nil
		}
	}

	owner := uuid.NewString()
	m.entries[key] = &memoryEntry{
		state:          StateInProgress,
		owner:          owner,
		leaseExpiresAt: m.now().Add(m.leaseTTL),
	}
	return &Reservation{State: StateAcquired, Owner: owner}, nil
}

func (m *MemoryStore) Complete(ctx context.Context, key, owner string, result json.RawMessage) error {
	if key == "" || owner == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "idempotency key and owner are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok || entry.owner != owner {
		return nil
	}
	entry.state = StateCompleted
	entry.result = append(json.RawMessage(nil), result...)
	return nil
}

func (m *MemoryStore) Release(ctx context.Context, key, owner string) error {
	if key == "" || owner == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "idempotency key and owner are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if ok && entry.owner == owner && entry.state == StateInProgress {
		delete(m.entries, key)
	}
	return nil
}
