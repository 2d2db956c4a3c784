// Package store defines the key-value state store capability and its
// implementations. Values are JSON documents; only single-key writes are atomic.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// ErrUnavailable is returned when the backing store cannot be reached.
var ErrUnavailable = errors.New("state store unavailable")

// KeySeparator joins a prefix and an id into a key.
const KeySeparator = "||"

// Store is the state store capability.
type Store interface {
	// Save writes value (marshalled as JSON) under key.
	Save(ctx context.Context, key string, value any) error
	// Get unmarshals the value under key into dst. It reports false when absent.
	Get(ctx context.Context, key string, dst any) (bool, error)
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// BulkGet returns the raw values of the keys that exist.
	BulkGet(ctx context.Context, keys []string) (map[string]json.RawMessage, error)
	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// Key composes "{prefix}||{id}".
func Key(prefix, id string) string {
	return prefix + KeySeparator + id
}

// SplitKey is the inverse of Key.
func SplitKey(key string) (prefix, id string, ok bool) {
	return strings.Cut(key, KeySeparator)
}

func encode(value any) ([]byte, error) {
	if raw, ok := value.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(value)
}

func decode(b []byte, dst any) error {
	if dst == nil {
		return nil
	}
	return json.Unmarshal(b, dst)
}
