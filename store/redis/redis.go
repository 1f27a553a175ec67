// Package redis adapts a go-redis client to the opticache store port.
// Values serialize through a pluggable codec; integer values are stored in
// Redis's native string form so INCRBY-backed counters work.
package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/opticache/codec"
	st "github.com/unkn0wn-root/opticache/store"
)

var ErrNilClient = errors.New("redis store: nil client")

type Store struct {
	rdb         goredis.UniversalClient
	codec       codec.Codec
	closeClient bool
}

var _ st.Store = (*Store)(nil)

type Config struct {
	Client      goredis.UniversalClient
	Codec       codec.Codec // nil => codec.Msgpack{}
	CloseClient bool        // set true only if this store exclusively owns the client
}

func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	c := cfg.Codec
	if c == nil {
		c = codec.Msgpack{}
	}
	return &Store{rdb: cfg.Client, codec: c, closeClient: cfg.CloseClient}, nil
}

func (s *Store) Name() string { return "redis" }

func (s *Store) Get(ctx context.Context, key string) (any, bool, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, err // transport/server error
	}
	// Counters live as decimal strings (see Put/Increment).
	if n, ok := parseCounter(b); ok {
		return n, true, nil
	}
	v, err := s.codec.Decode(b)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *Store) Put(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = 0 // non-positive TTL means "no expiry"
	}
	var payload any
	if n, ok := asInteger(value); ok {
		payload = strconv.FormatInt(n, 10)
	} else {
		b, err := s.codec.Encode(value)
		if err != nil {
			return false, err
		}
		payload = b
	}
	if err := s.rdb.Set(ctx, key, payload, ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Forget(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Del(ctx, key).Result()
	return n > 0, err
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	return n > 0, err
}

func (s *Store) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	return s.rdb.IncrBy(ctx, key, delta).Result()
}

func (s *Store) Lock(name string, hold time.Duration, owner string) st.Lock {
	if owner == "" {
		owner = randomOwner()
	}
	return &redisLock{rdb: s.rdb, name: "lock:" + name, hold: hold, owner: owner}
}

// Close releases the underlying redis client only when this store owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (s *Store) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

func asInteger(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}

// parseCounter recognizes the decimal form counters are stored in. Codec
// payloads never consist solely of ASCII digits (msgpack/CBOR/JSON framing
// bytes are non-digit), so the probe is unambiguous.
func parseCounter(b []byte) (int64, bool) {
	if len(b) == 0 || len(b) > 20 {
		return 0, false
	}
	start := 0
	if b[0] == '-' {
		if len(b) == 1 {
			return 0, false
		}
		start = 1
	}
	for _, c := range b[start:] {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
