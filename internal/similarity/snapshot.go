package similarity

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// RedisSnapshot persists index entries in a Redis list, one JSON document per
// entry in insertion order.
type RedisSnapshot struct {
	rdb goredis.UniversalClient
	key string
}

// NewRedisSnapshot returns a snapshot stored under key
func NewRedisSnapshot(rdb goredis.UniversalClient, key string) *RedisSnapshot {
	return &RedisSnapshot{rdb: rdb, key: key}
}

// Append adds entries to the end of the snapshot
func (s *RedisSnapshot) Append(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	values, err := encodeEntries(entries)
	if err != nil {
		return err
	}
	if err := s.rdb.RPush(ctx, s.key, values...).Err(); err != nil {
		return fmt.Errorf("redis rpush %s: %w", s.key, err)
	}
	return nil
}

// Replace atomically overwrites the snapshot with entries
func (s *RedisSnapshot) Replace(ctx context.Context, entries []Entry) error {
	values, err := encodeEntries(entries)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(values) > 0 {
			pipe.RPush(ctx, s.key, values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis replace %s: %w", s.key, err)
	}
	return nil
}

// Load reads every stored entry
func (s *RedisSnapshot) Load(ctx context.Context) ([]Entry, error) {
	raw, err := s.rdb.LRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange %s: %w", s.key, err)
	}
	entries := make([]Entry, 0, len(raw))
	for i, r := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, fmt.Errorf("decode snapshot entry %d: %w", i, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func encodeEntries(entries []Entry) ([]interface{}, error) {
	values := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		b, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("encode snapshot entry %d: %w", e.ID, err)
		}
		values = append(values, b)
	}
	return values, nil
}
