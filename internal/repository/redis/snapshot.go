package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/freeeve/world-conflict/internal/repository"
)

// Key patterns for Redis game data.
func snapshotKey(gameID string) string { return "game:" + gameID + ":snapshot" }
func timerKey(gameID string) string    { return "game:" + gameID + ":timer" }

const (
	fieldData    = "data"
	fieldVersion = "version"
)

// Get returns the snapshot bytes and version of a game.
func (c *Client) Get(ctx context.Context, gameID string) ([]byte, int64, error) {
	vals, err := c.rdb.HMGet(ctx, snapshotKey(gameID), fieldData, fieldVersion).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("get snapshot: %w", err)
	}
	data, ok := vals[0].(string)
	if !ok {
		return nil, 0, repository.ErrNotFound
	}
	raw, _ := vals[1].(string)
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("parse snapshot version %q: %w", raw, err)
	}
	return []byte(data), version, nil
}

// Put writes a snapshot under optimistic locking: the version is read under
// WATCH and the write is applied in MULTI, so a concurrent writer makes the
// transaction fail with ErrVersionConflict.
func (c *Client) Put(ctx context.Context, gameID string, data []byte, expected int64) (int64, error) {
	key := snapshotKey(gameID)
	var next int64
	err := c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, fieldVersion).Int64()
		if errors.Is(err, redis.Nil) {
			current = 0
		} else if err != nil {
			return fmt.Errorf("read snapshot version: %w", err)
		}
		if expected != repository.AnyVersion && current != expected {
			return repository.ErrVersionConflict
		}
		next = current + 1
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fieldData, data, fieldVersion, next)
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
		return next, nil
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, repository.ErrVersionConflict):
		return 0, repository.ErrVersionConflict
	default:
		return 0, fmt.Errorf("put snapshot: %w", err)
	}
}

// Delete removes all Redis data for a game.
func (c *Client) Delete(ctx context.Context, gameID string) error {
	return c.rdb.Del(ctx, snapshotKey(gameID), timerKey(gameID)).Err()
}

// List returns the ids of every stored game.
func (c *Client) List(ctx context.Context) ([]string, error) {
	var ids []string
	iter := c.rdb.Scan(ctx, 0, snapshotKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(key, "game:"), ":snapshot"))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan snapshots: %w", err)
	}
	return ids, nil
}

// turnGracePeriod is the extra time after the displayed deadline before the
// turn is ended, giving players a few seconds of leeway.
const turnGracePeriod = 5 * time.Second

// SetTimer creates a timer key with a TTL. When the key expires, Redis
// keyspace notifications trigger the automatic end of the turn.
func (c *Client) SetTimer(ctx context.Context, gameID string, deadline time.Time) error {
	ttl := time.Until(deadline) + turnGracePeriod
	if ttl <= 0 {
		ttl = time.Second
	}
	return c.rdb.Set(ctx, timerKey(gameID), deadline.Unix(), ttl).Err()
}

// ClearTimer removes the timer for a game.
func (c *Client) ClearTimer(ctx context.Context, gameID string) error {
	return c.rdb.Del(ctx, timerKey(gameID)).Err()
}

// GameIDFromTimerKey extracts the game id from an expired timer key.
func GameIDFromTimerKey(key string) (string, bool) {
	if !strings.HasPrefix(key, "game:") || !strings.HasSuffix(key, ":timer") {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(key, "game:"), ":timer")
	if id == "" || strings.Contains(id, ":") {
		return "", false
	}
	return id, true
}

var (
	_ repository.SnapshotStore = (*Client)(nil)
	_ repository.TurnTimer     = (*Client)(nil)
)
