package codec

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
)

// Proto is a Strategy for protobuf messages using the binary wire format.
type Proto[T proto.Message] struct {
	// New returns an empty message to decode into. Required.
	New func() T
	// TTL is added to Now for every write.
	TTL time.Duration
	// Validator rejects messages that must not be cached. Nil accepts every
	// non-nil message.
	Validator func(T) bool
	Now       func() time.Time
}

func (Proto[T]) ValidateKey(key string) bool { return ValidKey(key) }

func (Proto[T]) Serialize(v T) ([]byte, error) {
	return proto.MarshalOptions{Deterministic: true}.Marshal(v)
}

func (p Proto[T]) Deserialize(data []byte) (T, error) {
	if p.New == nil {
		var zero T
		return zero, fmt.Errorf("codec: proto strategy has no New func")
	}
	m := p.New()
	if err := proto.Unmarshal(data, m); err != nil {
		var zero T
		return zero, err
	}
	return m, nil
}

func (p Proto[T]) ExpiryTime() time.Time {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return now().Add(p.TTL)
}

func (p Proto[T]) Validate(v T) bool {
	if !v.ProtoReflect().IsValid() {
		return false
	}
	if p.Validator == nil {
		return true
	}
	return p.Validator(v)
}
