// Package store persists per-session conversation history. Three backends
// share one interface: in-process memory (default), sqlite for durability
// across restarts, redis when the assistant runs next to one.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type historyStore interface {
	Append(ctx context.Context, session string, msg Message) error
	Recent(ctx context.Context, session string, limit int) ([]Message, error)
	Clear(ctx context.Context, session string) error
	Close() error
}

type Store struct {
	backend historyStore
}

type Options struct {
	StoreMode     string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

func New(opts Options) (*Store, error) {
	mode := strings.ToLower(strings.TrimSpace(opts.StoreMode))
	switch mode {
	case "", "memory":
		return &Store{backend: newMemoryStore()}, nil
	case "sqlite":
		backend, err := newSQLiteStore(opts.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to init sqlite store: %w", err)
		}
		return &Store{backend: backend}, nil
	case "redis":
		backend, err := newRedisStore(opts.RedisAddr, opts.RedisPassword, opts.RedisDB, opts.RedisPrefix)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis store: %w", err)
		}
		return &Store{backend: backend}, nil
	default:
		return nil, fmt.Errorf("unknown store mode: %s", opts.StoreMode)
	}
}

func (s *Store) Append(ctx context.Context, session string, msg Message) error {
	if s == nil || s.backend == nil {
		return fmt.Errorf("store not configured")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	return s.backend.Append(ctx, session, msg)
}

func (s *Store) Recent(ctx context.Context, session string, limit int) ([]Message, error) {
	if s == nil || s.backend == nil {
		return nil, fmt.Errorf("store not configured")
	}
	if limit <= 0 {
		return nil, nil
	}
	return s.backend.Recent(ctx, session, limit)
}

func (s *Store) Clear(ctx context.Context, session string) error {
	if s == nil || s.backend == nil {
		return fmt.Errorf("store not configured")
	}
	return s.backend.Clear(ctx, session)
}

func (s *Store) Close() error {
	if s == nil || s.backend == nil {
		return nil
	}
	return s.backend.Close()
}
