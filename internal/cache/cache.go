// Package cache provides the small TTL caches the server relies on: the
// endpoint-liveness memo and the preview-root registry. Entries are plain
// strings so the same backends (memory LRU or Redis) serve both.
package cache

import "time"

type Entry struct {
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Cache interface {
	Get(key string) (Entry, bool)
	Put(key string, entry Entry)
}
