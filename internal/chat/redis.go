package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	redisIndexKey     = "medchat:sessions"
	redisSessionKeyFn = "medchat:session:%s"
)

// RedisCache persists the session cache in redis: one JSON document per
// session plus an ordered index list.
type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(addr, password string, db int) *RedisCache {
	return &RedisCache{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func NewRedisCacheFromClient(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

func sessionKey(id string) string {
	return fmt.Sprintf(redisSessionKeyFn, id)
}

func (c *RedisCache) Save(ctx context.Context, sessions []Session) error {
	old, err := c.rdb.LRange(ctx, redisIndexKey, 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	keep := make(map[string]struct{}, len(sessions))
	payloads := make([][]byte, 0, len(sessions))
	ids := make([]any, 0, len(sessions))
	for _, s := range sessions {
		b, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("encode session %s: %w", s.ID, err)
		}
		keep[s.ID] = struct{}{}
		payloads = append(payloads, b)
		ids = append(ids, s.ID)
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range old {
			if _, ok := keep[id]; !ok {
				pipe.Del(ctx, sessionKey(id))
			}
		}
		for i, s := range sessions {
			pipe.Set(ctx, sessionKey(s.ID), payloads[i], 0)
		}
		pipe.Del(ctx, redisIndexKey)
		if len(ids) > 0 {
			pipe.RPush(ctx, redisIndexKey, ids...)
		}
		return nil
	})
	return err
}

func (c *RedisCache) Load(ctx context.Context) ([]Session, error) {
	ids, err := c.rdb.LRange(ctx, redisIndexKey, 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, sessionKey(id))
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Session, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			// index entry without a document; skip it
			continue
		}
		var s Session
		if err := json.Unmarshal([]byte(str), &s); err != nil {
			return nil, fmt.Errorf("decode session %s: %w", ids[i], err)
		}
		if s.Messages == nil {
			s.Messages = []Message{}
		}
		out = append(out, s)
	}
	return out, nil
}
