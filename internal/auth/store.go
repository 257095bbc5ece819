package auth

import (
	"context"
	"sync"
)

// Store persists the authenticated flag per scope and notifies every
// subscriber of that scope when it changes, whichever context changed it.
type Store interface {
	Get(ctx context.Context, scope string) (bool, error)
	Set(ctx context.Context, scope string, authenticated bool) error
	// Subscribe returns a channel receiving each new flag value for scope.
	// The channel is closed when ctx is done.
	Subscribe(ctx context.Context, scope string) (<-chan bool, error)
	Close() error
}

// subscriberBuffer is how many unread changes a slow subscriber may lag
// behind before older ones are dropped. Only the latest value matters.
const subscriberBuffer = 4

// MemoryStore keeps flags in process memory.
type MemoryStore struct {
	key string

	mu     sync.RWMutex
	flags  map[string]bool
	subs   map[string]map[chan bool]struct{}
	closed bool
}

// NewMemoryStore creates a MemoryStore; storageKey prefixes every scope.
func NewMemoryStore(storageKey string) *MemoryStore {
	return &MemoryStore{
		key:   storageKey,
		flags: make(map[string]bool),
		subs:  make(map[string]map[chan bool]struct{}),
	}
}

func (m *MemoryStore) Get(_ context.Context, scope string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flags[storageKey(m.key, scope)], nil
}

func (m *MemoryStore) Set(_ context.Context, scope string, authenticated bool) error {
	k := storageKey(m.key, scope)

	m.mu.Lock()
	defer m.mu.Unlock()

	if authenticated {
		m.flags[k] = true
	} else {
		// logout removes the key rather than storing false
		delete(m.flags, k)
	}
	// Delivery never blocks, so it is safe under the lock that also guards
	// channel close.
	for ch := range m.subs[k] {
		deliverLatest(ch, authenticated)
	}
	return nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, scope string) (<-chan bool, error) {
	k := storageKey(m.key, scope)
	ch := make(chan bool, subscriberBuffer)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(ch)
		return ch, nil
	}
	if m.subs[k] == nil {
		m.subs[k] = make(map[chan bool]struct{})
	}
	m.subs[k][ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		if _, ok := m.subs[k][ch]; ok {
			delete(m.subs[k], ch)
			if len(m.subs[k]) == 0 {
				delete(m.subs, k)
			}
			close(ch)
		}
		m.mu.Unlock()
	}()

	return ch, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for k, set := range m.subs {
		for ch := range set {
			close(ch)
		}
		delete(m.subs, k)
	}
	return nil
}

func storageKey(prefix, scope string) string {
	return prefix + ":" + scope
}

// deliverLatest sends v without blocking, dropping the oldest pending value
// when the buffer is full.
func deliverLatest(ch chan bool, v bool) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
