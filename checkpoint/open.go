package checkpoint

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	"github.com/redis/go-redis/v9"
)

const (
	KindMemory = "memory"
	KindRedis  = "redis"
	KindSQLite = "sqlite"

	// DefaultSQLitePath is the database file used when none is configured.
	DefaultSQLitePath = "checkpoints.db"
	// DefaultPrefix is the Redis key prefix used when none is configured.
	DefaultPrefix = "toolchat"
)

// Config selects and configures the checkpoint backend.
type Config struct {
	// Kind is memory|redis|sqlite, memory if empty.
	Kind       string `json:"kind,omitempty" yaml:"kind,omitempty"`
	SQLitePath string `json:"sqlite_path,omitempty" yaml:"sqlite_path,omitempty"`
	// RedisURL is redis://[user:password@]host:port/db
	RedisURL string `json:"redis_url,omitempty" yaml:"redis_url,omitempty"`
	Prefix   string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
}

// Open returns the Store described by cfg.
// For redis the connection is checked before returning.
func Open(ctx context.Context, cfg Config) (Store, error) {
	kind := strings.ToLower(values.StringsCoalesce(cfg.Kind, KindMemory))
	logger.KV(xlog.INFO, "status", "open", "kind", kind)

	switch kind {
	case KindMemory:
		return NewMemoryStore(), nil
	case KindSQLite:
		return NewSQLiteStore(values.StringsCoalesce(cfg.SQLitePath, DefaultSQLitePath))
	case KindRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("redis_url is required")
		}
		options, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, errors.Wrap(err, "invalid redis_url")
		}
		client := redis.NewClient(options)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, errors.Wrap(err, "failed to connect to Redis")
		}
		return &redisStore{
			client: client,
			prefix: values.StringsCoalesce(cfg.Prefix, DefaultPrefix),
			owned:  true,
		}, nil
	}
	return nil, errors.Errorf("unsupported checkpoint kind: %s", cfg.Kind)
}
