package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	st "github.com/unkn0wn-root/surge/store"
)

var ErrNilClient = errors.New("redis store: nil client")

// compareDelScript deletes the key only when it still holds the expected
// value. One round-trip; there is no window between the read and the delete.
const compareDelScript = `
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
end
return 0
`

type Redis struct {
	rdb         goredis.UniversalClient
	closeClient bool

	scripts sync.Map // script source -> *goredis.Script (EVALSHA after first run)
}

var _ st.Atomic = (*Redis)(nil)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this store exclusively owns the client
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Redis{rdb: cfg.Client, closeClient: cfg.CloseClient}, nil
}

func (s *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, err // transport/server error
	}
	return b, true, nil
}

func (s *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = 0 // non-positive TTL means "no expiry" per store contract
	}
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Redis) Del(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

func (s *Redis) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = 0
	}
	return s.rdb.SetNX(ctx, key, value, ttl).Result()
}

func (s *Redis) Incr(ctx context.Context, key string) (int64, error) {
	return s.rdb.Incr(ctx, key).Result()
}

func (s *Redis) CompareDel(ctx context.Context, key string, expect []byte) (bool, error) {
	n, err := s.Eval(ctx, compareDelScript, []string{key}, string(expect))
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Redis) Eval(ctx context.Context, script string, keys []string, args ...any) (int64, error) {
	v, _ := s.scripts.LoadOrStore(script, goredis.NewScript(script))
	return v.(*goredis.Script).Run(ctx, s.rdb, keys, args...).Int64()
}

// Close releases the underlying redis client only when this store owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (s *Redis) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
