package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	client *redis.Client
	prefix string
}

func newRedisStore(addr, password string, db int, prefix string) (*redisStore, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("redis addr is empty")
	}
	if prefix == "" {
		prefix = "lumi:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &redisStore{client: client, prefix: prefix}, nil
}

func (r *redisStore) key(session string) string {
	return r.prefix + "history:" + session
}

func (r *redisStore) Append(ctx context.Context, session string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	key := r.key(session)
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -int64(maxPerSession), -1)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *redisStore) Recent(ctx context.Context, session string, limit int) ([]Message, error) {
	values, err := r.client.LRange(ctx, r.key(session), -int64(limit), -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(values))
	for _, v := range values {
		var m Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *redisStore) Clear(ctx context.Context, session string) error {
	return r.client.Del(ctx, r.key(session)).Err()
}

func (r *redisStore) Close() error {
	return r.client.Close()
}
