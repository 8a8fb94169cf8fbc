package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stores each entry as a hash with a native expiry. A set indexes the
// keys owned by this store so that Invalidate("") and size accounting do not
// need to scan the whole keyspace.
//
// Redis expires hashes by itself; CleanupExpired only reconciles the index
// and reports how many indexed keys vanished or passed their expiry.
type Redis struct {
	rdb    *redis.Client
	prefix string
	opts   options

	mu          sync.Mutex
	initialized bool
}

// NewRedis creates a Redis-backed store. Every key written is namespaced
// under prefix.
func NewRedis(addr, password string, db int, prefix string, opts ...Option) *Redis {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if prefix == "" {
		prefix = "rawrcache"
	}
	return &Redis{rdb: rdb, prefix: prefix, opts: buildOptions(opts)}
}

func (r *Redis) entryKey(key string) string { return r.prefix + ":entry:" + key }
func (r *Redis) indexKey() string           { return r.prefix + ":keys" }

// Initialize checks that the server is reachable.
func (r *Redis) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		return nil
	}
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	r.initialized = true
	return nil
}

func (r *Redis) ready() error {
	if !r.initialized {
		return ErrNotInitialized
	}
	return nil
}

// Store upserts payload under key with a native expiry.
func (r *Redis) Store(ctx context.Context, key string, payload []byte, expiry time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ready(); err != nil {
		return err
	}

	stored, compressed := encodePayload(payload, r.opts.compress)
	return r.write(ctx, Entry{
		Key:          key,
		Payload:      stored,
		Expiry:       expiry,
		Created:      r.opts.nowFunc(),
		OriginalSize: int64(len(payload)),
		Compressed:   compressed,
	})
}

// write must be called with r.mu held.
func (r *Redis) write(ctx context.Context, e Entry) error {
	k := r.entryKey(e.Key)
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, k)
		p.HSet(ctx, k,
			"payload", e.Payload,
			"expiry", e.Expiry.UnixMilli(),
			"created", e.Created.Unix(),
			"original_size", e.OriginalSize,
			"compressed", strconv.FormatBool(e.Compressed),
		)
		p.PExpireAt(ctx, k, e.Expiry)
		p.SAdd(ctx, r.indexKey(), e.Key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store entry: %w", err)
	}
	return nil
}

// read must be called with r.mu held. A missing or expired hash yields
// ok=false.
func (r *Redis) read(ctx context.Context, key string) (Entry, bool, error) {
	fields, err := r.rdb.HGetAll(ctx, r.entryKey(key)).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(fields) == 0) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("read entry: %w", err)
	}

	e, err := parseRedisEntry(key, fields)
	if err != nil {
		return Entry{}, false, nil
	}
	if e.Expired(r.opts.nowFunc()) {
		return Entry{}, false, nil
	}
	return e, true, nil
}

func parseRedisEntry(key string, fields map[string]string) (Entry, error) {
	expiry, err := strconv.ParseInt(fields["expiry"], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("parse expiry: %w", err)
	}
	created, err := strconv.ParseInt(fields["created"], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("parse created: %w", err)
	}
	size, err := strconv.ParseInt(fields["original_size"], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("parse original_size: %w", err)
	}
	compressed, err := strconv.ParseBool(fields["compressed"])
	if err != nil {
		return Entry{}, fmt.Errorf("parse compressed: %w", err)
	}
	return Entry{
		Key:          key,
		Payload:      []byte(fields["payload"]),
		Expiry:       time.UnixMilli(expiry),
		Created:      time.Unix(created, 0),
		OriginalSize: size,
		Compressed:   compressed,
	}, nil
}

// Retrieve returns the live payload stored under key.
func (r *Redis) Retrieve(ctx context.Context, key string) ([]byte, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ready(); err != nil {
		return nil, false, err
	}

	e, ok, err := r.read(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	out, err := decodePayload(e.Payload, e.Compressed)
	if err != nil {
		return nil, false, nil
	}
	return out, true, nil
}

// IsExpired reports whether key is absent or expired.
func (r *Redis) IsExpired(ctx context.Context, key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ready() != nil {
		return true
	}
	_, ok, err := r.read(ctx, key)
	return err != nil || !ok
}

// Invalidate deletes key, or every indexed key for the empty key.
func (r *Redis) Invalidate(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ready(); err != nil {
		return err
	}

	keys := []string{key}
	if key == "" {
		var err error
		keys, err = r.rdb.SMembers(ctx, r.indexKey()).Result()
		if err != nil {
			return fmt.Errorf("list keys: %w", err)
		}
	}
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, k := range keys {
			p.Del(ctx, r.entryKey(k))
		}
		if key == "" {
			p.Del(ctx, r.indexKey())
		} else {
			p.SRem(ctx, r.indexKey(), key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate %q: %w", key, err)
	}
	return nil
}

// CacheSize sums original_size over live indexed entries.
func (r *Redis) CacheSize(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ready(); err != nil {
		return 0, err
	}

	live, err := r.liveEntries(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range live {
		total += e.OriginalSize
	}
	return total, nil
}

// TrimTo deletes the live entries closest to expiry until at most maxBytes
// of original payload remain.
func (r *Redis) TrimTo(ctx context.Context, maxBytes int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ready(); err != nil {
		return 0, err
	}

	live, err := r.liveEntries(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range live {
		total += e.OriginalSize
	}
	if total <= maxBytes {
		return 0, nil
	}
	slices.SortStableFunc(live, func(a, b Entry) int {
		return a.Expiry.Compare(b.Expiry)
	})

	var drop []string
	for _, e := range live {
		if total <= maxBytes {
			break
		}
		drop = append(drop, e.Key)
		total -= e.OriginalSize
	}
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, k := range drop {
			p.Del(ctx, r.entryKey(k))
			p.SRem(ctx, r.indexKey(), k)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("trim: %w", err)
	}
	return int64(len(drop)), nil
}

// liveEntries must be called with r.mu held.
func (r *Redis) liveEntries(ctx context.Context) ([]Entry, error) {
	keys, err := r.rdb.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	slices.Sort(keys)
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		e, ok, err := r.read(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// CleanupExpired deletes indexed entries past their expiry and drops index
// members whose hash Redis already expired.
func (r *Redis) CleanupExpired(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ready(); err != nil {
		return 0, err
	}

	keys, err := r.rdb.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("list keys: %w", err)
	}
	var stale []string
	for _, k := range keys {
		if _, ok, err := r.read(ctx, k); err == nil && !ok {
			stale = append(stale, k)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, k := range stale {
			p.Del(ctx, r.entryKey(k))
			p.SRem(ctx, r.indexKey(), k)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup expired: %w", err)
	}
	return int64(len(stale)), nil
}

// Entries returns live entries with decoded payloads.
func (r *Redis) Entries(ctx context.Context) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ready(); err != nil {
		return nil, err
	}

	live, err := r.liveEntries(ctx)
	if err != nil {
		return nil, err
	}
	out := live[:0]
	for _, e := range live {
		payload, err := decodePayload(e.Payload, e.Compressed)
		if err != nil {
			continue
		}
		e.Payload = payload
		e.Compressed = false
		out = append(out, e)
	}
	return out, nil
}

// Restore writes an exported entry back.
func (r *Redis) Restore(ctx context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ready(); err != nil {
		return err
	}
	if e.Expired(r.opts.nowFunc()) {
		return nil
	}
	stored, compressed := encodePayload(e.Payload, r.opts.compress)
	e.OriginalSize = int64(len(e.Payload))
	e.Payload = stored
	e.Compressed = compressed
	return r.write(ctx, e)
}

// Ping checks the Redis connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close closes the underlying Redis client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

var (
	_ Storage = (*Redis)(nil)
	_ Trimmer = (*Redis)(nil)
)
