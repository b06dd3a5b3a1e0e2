package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// Fixed keys of the persisted state.
const (
	KeyAuth         = "hq_auth"
	KeyPeople       = "hq_people"
	KeyPosts        = "hq_posts"
	KeyPoints       = "hq_points"
	KeyActiveQuests = "hq_active_quests"
	KeySeeded       = "hq_seeded"
)

// Store is the persistence port: an opaque key-value store of JSON blobs.
// Get returns ErrNotFound for missing keys.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Atomic(ctx context.Context, fn func(ctx context.Context, s Store) error) error
}

// Load decodes the value under key. Missing keys, JSON null and malformed
// payloads all yield fallback; malformed payloads are logged. Only store
// failures are returned as errors.
func Load[T any](ctx context.Context, s Store, key string, fallback T, log *slog.Logger) (T, error) {
	raw, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return fallback, nil
	}
	if err != nil {
		return fallback, fmt.Errorf("load %s: %w", key, err)
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return fallback, nil
	}
	var v T
	if err := json.Unmarshal(trimmed, &v); err != nil {
		if log != nil {
			log.Warn("malformed stored value, using default", "key", key, "error", err)
		}
		return fallback, nil
	}
	return v, nil
}

// Save encodes v as JSON under key.
func Save[T any](ctx context.Context, s Store, key string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.Put(ctx, key, data); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}
