// Package codec converts typed values to and from the bytes kept in storage.
//
// A Strategy owns everything type-specific about caching a value: key and
// value validation, the wire format and the expiry of a freshly written
// entry. CacheData and RetrieveData wrap a Strategy around a storage.Storage
// and never let a strategy panic escape.
package codec

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Keksclan/rawrcache/storage"
)

// MaxKeyLength bounds cache keys accepted by the built-in strategies.
const MaxKeyLength = 1024

var (
	// ErrInvalidKey is returned when a strategy rejects a key.
	ErrInvalidKey = errors.New("codec: invalid key")
	// ErrInvalidValue is returned when a strategy rejects a value before it
	// reaches storage.
	ErrInvalidValue = errors.New("codec: invalid value")
)

// Strategy describes how values of type T are validated, encoded and aged.
type Strategy[T any] interface {
	// ValidateKey must reject the empty key, which storage reserves for
	// "invalidate everything".
	ValidateKey(key string) bool
	Serialize(v T) ([]byte, error)
	// Deserialize returns an error, never panics, on malformed input.
	Deserialize(data []byte) (T, error)
	// ExpiryTime is the expiry for an entry written now.
	ExpiryTime() time.Time
	// Validate is a domain sanity check run before a value is persisted.
	Validate(v T) bool
}

// ValidKey is the key rule shared by the built-in strategies: non-blank and at
// most MaxKeyLength bytes.
func ValidKey(key string) bool {
	return strings.TrimSpace(key) != "" && len(key) <= MaxKeyLength
}

// CacheData validates v, encodes it and writes it under key. Nothing is
// written when the key or value is rejected.
func CacheData[T any](ctx context.Context, s Strategy[T], st storage.Storage, key string, v T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("codec: cache %q: strategy panic: %v", key, r)
		}
	}()

	if !s.ValidateKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if !s.Validate(v) {
		return fmt.Errorf("%w for key %q", ErrInvalidValue, key)
	}
	data, err := s.Serialize(v)
	if err != nil {
		return fmt.Errorf("codec: serialize %q: %w", key, err)
	}
	if err := st.Store(ctx, key, data, s.ExpiryTime()); err != nil {
		return fmt.Errorf("codec: store %q: %w", key, err)
	}
	return nil
}

// RetrieveData reads key and decodes it. ok is false on a miss; err is set
// only when something failed (invalid key, storage fault or bad bytes), in
// which case ok is also false.
func RetrieveData[T any](ctx context.Context, s Strategy[T], st storage.Storage, key string) (v T, ok bool, err error) {
	var zero T
	defer func() {
		if r := recover(); r != nil {
			v, ok, err = zero, false, fmt.Errorf("codec: retrieve %q: strategy panic: %v", key, r)
		}
	}()

	if !s.ValidateKey(key) {
		return zero, false, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	data, found, err := st.Retrieve(ctx, key)
	if err != nil {
		return zero, false, fmt.Errorf("codec: retrieve %q: %w", key, err)
	}
	if !found {
		return zero, false, nil
	}
	out, err := s.Deserialize(data)
	if err != nil {
		return zero, false, fmt.Errorf("codec: deserialize %q: %w", key, err)
	}
	return out, true, nil
}
