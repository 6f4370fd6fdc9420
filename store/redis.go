package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix      = "quota:"
	defaultOperationTimeout = 100 * time.Millisecond
)

// Redis is a Redis-backed implementation of Store suitable for distributed deployments.
//
// Every call is bounded by OperationTimeout (or the caller's deadline,
// whichever is sooner). Errors are wrapped with ErrUnavailable.
type Redis struct {
	client    *redis.Client
	prefix    string
	opTimeout time.Duration
}

// RedisConfig holds configuration for the Redis connection.
// All fields should be populated explicitly by your application code from
// environment variables, config files, or other sources.
type RedisConfig struct {
	// URL is the Redis server address (e.g., "localhost:6379"). Empty selects the in-process store.
	URL string `yaml:"url"`

	// Password for Redis authentication (optional)
	Password string `yaml:"password"`

	// DB is the Redis database number (0-15, default: 0)
	DB int `yaml:"db" validate:"gte=0,lte=15"`

	// Prefix is prepended to all keys (default: "quota:")
	Prefix string `yaml:"prefix"`

	// PoolSize is the maximum number of connections (default: 10 * runtime.GOMAXPROCS)
	PoolSize int `yaml:"pool_size" validate:"gte=0"`

	// MinIdleConns is the minimum number of idle connections (default: 0)
	MinIdleConns int `yaml:"min_idle_conns" validate:"gte=0"`

	// DialTimeout is the timeout for establishing new connections (default: 5s)
	DialTimeout time.Duration `yaml:"dial_timeout" validate:"gte=0"`

	// ReadTimeout is the timeout for socket reads (default: 3s)
	ReadTimeout time.Duration `yaml:"read_timeout" validate:"gte=0"`

	// WriteTimeout is the timeout for socket writes (default: ReadTimeout)
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gte=0"`

	// OperationTimeout bounds each store call (default: 100ms)
	OperationTimeout time.Duration `yaml:"operation_timeout" validate:"gte=0"`
}

// NewRedis creates a Redis store with the given configuration.
// Validates the connection with a ping before returning. Returns an error
// wrapping ErrUnavailable if the server cannot be reached within 5 seconds.
//
// Example:
//
//	st, err := store.NewRedis(store.RedisConfig{
//		URL:    "localhost:6379",
//		Prefix: "quota:",
//	})
func NewRedis(config RedisConfig) (*Redis, error) {
	if config.Prefix == "" {
		config.Prefix = defaultRedisPrefix
	}
	if config.OperationTimeout <= 0 {
		config.OperationTimeout = defaultOperationTimeout
	}

	opts := &redis.Options{
		Addr:     config.URL,
		Password: config.Password,
		DB:       config.DB,
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.MinIdleConns > 0 {
		opts.MinIdleConns = config.MinIdleConns
	}
	if config.DialTimeout > 0 {
		opts.DialTimeout = config.DialTimeout
	}
	if config.ReadTimeout > 0 {
		opts.ReadTimeout = config.ReadTimeout
	}
	if config.WriteTimeout > 0 {
		opts.WriteTimeout = config.WriteTimeout
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: failed to connect to redis: %w", ErrUnavailable, err)
	}

	return NewRedisFromClient(client, config.Prefix, config.OperationTimeout), nil
}

// NewRedisFromClient wraps an existing client without pinging it.
// The store takes ownership of the client and closes it on Close.
func NewRedisFromClient(client *redis.Client, prefix string, opTimeout time.Duration) *Redis {
	return &Redis{
		client:    client,
		prefix:    prefix,
		opTimeout: opTimeout,
	}
}

// Set stores value under key with the given ttl.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	if err := r.client.Set(ctx, r.prefix+key, value, expiration(ttl)).Err(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

// Get retrieves the value for key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("get", err)
	}
	return val, true, nil
}

// Del removes key.
func (r *Redis) Del(ctx context.Context, key string) (bool, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	n, err := r.client.Del(ctx, r.prefix+key).Result()
	if err != nil {
		return false, unavailable("del", err)
	}
	return n > 0, nil
}

// Exists reports whether key is present.
func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	n, err := r.client.Exists(ctx, r.prefix+key).Result()
	if err != nil {
		return false, unavailable("exists", err)
	}
	return n > 0, nil
}

// Expire sets a new ttl on key.
func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	ok, err := r.client.Expire(ctx, r.prefix+key, ttl).Result()
	if err != nil {
		return false, unavailable("expire", err)
	}
	return ok, nil
}

// TTL returns the remaining lifetime of key. go-redis reports -1 and -2
// unscaled, which line up with TTLNone and TTLMissing.
func (r *Redis) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	ttl, err := r.client.PTTL(ctx, r.prefix+key).Result()
	if err != nil {
		return 0, unavailable("ttl", err)
	}
	return ttl, nil
}

// MGet returns the values for keys in order, nil for missing keys.
func (r *Redis) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	if len(keys) == 0 {
		return [][]byte{}, nil
	}

	ctx, cancel := r.bound(ctx)
	defer cancel()

	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = r.prefix + key
	}

	raw, err := r.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, unavailable("mget", err)
	}
	if len(raw) != len(keys) {
		return nil, unavailable("mget", fmt.Errorf("unexpected result length: got %d, want %d", len(raw), len(keys)))
	}

	values := make([][]byte, len(keys))
	for i, v := range raw {
		switch val := v.(type) {
		case nil:
		case string:
			values[i] = []byte(val)
		default:
			return nil, unavailable("mget", fmt.Errorf("unexpected type for value: %T", v))
		}
	}
	return values, nil
}

// MSet stores all items in a single pipeline. Each item keeps its own ttl,
// which plain MSET cannot express.
func (r *Redis) MSet(ctx context.Context, items ...Item) error {
	if len(items) == 0 {
		return nil
	}

	ctx, cancel := r.bound(ctx)
	defer cancel()

	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, item := range items {
			pipe.Set(ctx, r.prefix+item.Key, item.Value, expiration(item.TTL))
		}
		return nil
	})
	if err != nil {
		return unavailable("mset", err)
	}
	return nil
}

// Close releases the Redis client connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.opTimeout)
}

func expiration(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	return ttl
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: redis %s failed: %w", ErrUnavailable, op, err)
}
