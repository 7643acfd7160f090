package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis stores conversation history as a JSON list per user, trimmed to the
// configured number of turns and expired after inactivity.
type Redis struct {
	client *redis.Client
	opts   Options
}

// NewRedis builds a redis-backed history store.
func NewRedis(client *redis.Client, opts Options) *Redis {
	return &Redis{client: client, opts: opts.withDefaults()}
}

func historyKey(userID string) string {
	return "session:history:" + userID
}

func (r *Redis) Append(ctx context.Context, userID string, turn Turn) error {
	payload, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}
	key := historyKey(userID)
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.LTrim(ctx, key, int64(-r.opts.HistoryLimit), -1)
	if r.opts.TTL > 0 {
		pipe.Expire(ctx, key, r.opts.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append session turn: %w", err)
	}
	return nil
}

func (r *Redis) History(ctx context.Context, userID string) ([]Turn, error) {
	raw, err := r.client.LRange(ctx, historyKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load session history: %w", err)
	}
	turns := make([]Turn, 0, len(raw))
	for _, item := range raw {
		var turn Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			// Skip rows written by an older format rather than failing
			// the whole conversation.
			continue
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

func (r *Redis) Clear(ctx context.Context, userID string) error {
	return r.client.Del(ctx, historyKey(userID)).Err()
}
