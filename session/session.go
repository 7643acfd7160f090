// Package session keeps short-lived per-user conversation history so
// follow-up questions can be answered in context.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Turn is one exchange in a conversation.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store interface for conversation history management.
type Store interface {
	Append(ctx context.Context, userID string, turn Turn) error
	History(ctx context.Context, userID string) ([]Turn, error)
	Clear(ctx context.Context, userID string) error
}

type StoreType string

const (
	InMemoryStore StoreType = "inmemory"
	RedisStore    StoreType = "redis"
)

// Options bound how much history a store retains.
type Options struct {
	// HistoryLimit is the number of most recent turns kept per user.
	HistoryLimit int
	// TTL expires a user's history after inactivity. Zero means no expiry.
	TTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 12
	}
	return o
}

// NewStore builds a history store. The redis client may be nil for the
// in-memory store.
func NewStore(storeType StoreType, client *redis.Client, opts Options) (Store, error) {
	switch storeType {
	case InMemoryStore:
		return NewInMemory(opts), nil
	case RedisStore:
		if client == nil {
			return nil, fmt.Errorf("redis store requires a client")
		}
		return NewRedis(client, opts), nil
	default:
		return nil, fmt.Errorf("unsupported store type: %s", storeType)
	}
}
