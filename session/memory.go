package session

import (
	"context"
	"sync"
	"time"
)

// InMemory keeps conversation history in process memory. Used in tests and
// single-node setups without redis.
type InMemory struct {
	mu      sync.Mutex
	opts    Options
	turns   map[string][]Turn
	touched map[string]time.Time
}

// NewInMemory builds an in-process history store.
func NewInMemory(opts Options) *InMemory {
	return &InMemory{
		opts:    opts.withDefaults(),
		turns:   make(map[string][]Turn),
		touched: make(map[string]time.Time),
	}
}

func (m *InMemory) Append(_ context.Context, userID string, turn Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(userID)
	list := append(m.turns[userID], turn)
	if len(list) > m.opts.HistoryLimit {
		list = list[len(list)-m.opts.HistoryLimit:]
	}
	m.turns[userID] = list
	m.touched[userID] = time.Now()
	return nil
}

func (m *InMemory) History(_ context.Context, userID string) ([]Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(userID)
	list := m.turns[userID]
	out := make([]Turn, len(list))
	copy(out, list)
	return out, nil
}

func (m *InMemory) Clear(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.turns, userID)
	delete(m.touched, userID)
	return nil
}

func (m *InMemory) expireLocked(userID string) {
	if m.opts.TTL <= 0 {
		return
	}
	if last, ok := m.touched[userID]; ok && time.Since(last) > m.opts.TTL {
		delete(m.turns, userID)
		delete(m.touched, userID)
	}
}
