package gateway

import "sync"

// orderLocks serializes submissions per order id. Entries are refcounted and
// removed once the last holder releases, so the map does not grow with the
// order space.
type orderLocks struct {
	mu      sync.Mutex
	entries map[string]*orderLock
}

type orderLock struct {
	mu   sync.Mutex
	refs int
}

func newOrderLocks() *orderLocks {
	return &orderLocks{entries: map[string]*orderLock{}}
}

// acquire blocks until the order lock is held and returns the release func.
func (l *orderLocks) acquire(orderID string) func() {
	l.mu.Lock()
	entry, ok := l.entries[orderID]
	if !ok {
		entry = &orderLock{}
		l.entries[orderID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, orderID)
		}
		l.mu.Unlock()
	}
}
