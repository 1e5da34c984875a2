package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyTTL keeps the key a little longer than the window so a read right at the
// boundary still sees the timestamp and decides on it.
const keyTTL = Window + time.Hour

// RedisStore keeps last-inbound timestamps in Redis as unix milliseconds.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "chat:last_inbound:"}
}

func (s *RedisStore) key(clientID string) string {
	return s.prefix + clientID
}

func (s *RedisStore) SetLastInbound(ctx context.Context, clientID string, at time.Time) error {
	if err := s.client.Set(ctx, s.key(clientID), at.UnixMilli(), keyTTL).Err(); err != nil {
		return fmt.Errorf("session: record inbound for %s: %w", clientID, err)
	}
	return nil
}

func (s *RedisStore) GetLastInbound(ctx context.Context, clientID string) (*time.Time, error) {
	v, err := s.client.Get(ctx, s.key(clientID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: read last inbound for %s: %w", clientID, err)
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("session: bad timestamp %q for %s: %w", v, clientID, err)
	}
	at := time.UnixMilli(ms).UTC()
	return &at, nil
}
