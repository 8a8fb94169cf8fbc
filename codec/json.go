package codec

import (
	"encoding/json"
	"time"
)

// JSON is a Strategy that encodes values with encoding/json.
type JSON[T any] struct {
	// TTL is added to Now for every write.
	TTL time.Duration
	// Validator rejects values that must not be cached. Nil accepts all.
	Validator func(T) bool
	// Now defaults to time.Now.
	Now func() time.Time
}

// NewJSON returns a JSON strategy with the given TTL and validator.
func NewJSON[T any](ttl time.Duration, validator func(T) bool) JSON[T] {
	return JSON[T]{TTL: ttl, Validator: validator}
}

func (JSON[T]) ValidateKey(key string) bool { return ValidKey(key) }

func (JSON[T]) Serialize(v T) ([]byte, error) { return json.Marshal(v) }

func (JSON[T]) Deserialize(data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}

func (j JSON[T]) ExpiryTime() time.Time {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	return now().Add(j.TTL)
}

func (j JSON[T]) Validate(v T) bool {
	if j.Validator == nil {
		return true
	}
	return j.Validator(v)
}

var _ Strategy[[]string] = JSON[[]string]{}
