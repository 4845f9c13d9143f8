package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// sessionKeyPrefix namespaces wizard sessions in a shared Redis instance.
const sessionKeyPrefix = "tallerbot:session:"

// RedisStore is a SessionStore backed by Redis, for deployments running more
// than one bot instance. The key TTL doubles as the idle timeout: every Put
// refreshes it, so an abandoned wizard disappears on its own.
type RedisStore struct {
	client      *redis.Client
	idleTimeout time.Duration
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client *redis.Client, idleTimeout time.Duration) *RedisStore {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &RedisStore{client: client, idleTimeout: idleTimeout}
}

// Get returns the live session for a user, or (nil, nil) if none exists.
func (r *RedisStore) Get(ctx context.Context, userID string) (*Session, error) {
	raw, err := r.client.Get(ctx, sessionKeyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		slog.Error("RedisStore Get failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to fetch session for %s: %w", userID, err)
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		slog.Error("RedisStore Get unmarshal failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to decode session for %s: %w", userID, err)
	}
	return &sess, nil
}

// Put stores or overwrites the session for its user, refreshing the TTL.
func (r *RedisStore) Put(ctx context.Context, session *Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session for %s: %w", session.UserID, err)
	}
	if err := r.client.Set(ctx, sessionKeyPrefix+session.UserID, raw, r.idleTimeout).Err(); err != nil {
		slog.Error("RedisStore Put failed", "error", err, "userID", session.UserID)
		return fmt.Errorf("failed to store session for %s: %w", session.UserID, err)
	}
	return nil
}

// Delete removes the session for a user. Deleting an absent session is a no-op.
func (r *RedisStore) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, sessionKeyPrefix+userID).Err(); err != nil {
		slog.Error("RedisStore Delete failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete session for %s: %w", userID, err)
	}
	return nil
}
