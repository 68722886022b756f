package checkpoint

import (
	"context"
	"encoding/json"
	"path"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/pkg/metricskey"
	"github.com/effective-security/xlog"
	"github.com/redis/go-redis/v9"
)

// The redis store keeps one JSON snapshot per thread.
// The keys namespace is organized as follows:
// - `/<prefix>/checkpoint/data/<threadID>` for the snapshot
// - `/<prefix>/checkpoint/threads` for the set of thread ids
// Put runs in a WATCH/MULTI transaction on the snapshot key,
// a concurrent write aborts it with ErrVersionConflict.

type redisStore struct {
	client *redis.Client
	prefix string
	owned  bool
}

// NewRedisStore returns a Store backed by Redis.
// The client is not closed by the store.
func NewRedisStore(client *redis.Client, prefix string) Store {
	return &redisStore{
		client: client,
		prefix: prefix,
	}
}

func (m *redisStore) dataKey(threadID string) string {
	return path.Join("/", m.prefix, "checkpoint", "data", threadID)
}

func (m *redisStore) threadsKey() string {
	return path.Join("/", m.prefix, "checkpoint", "threads")
}

func (m *redisStore) Get(ctx context.Context, threadID string) (*Checkpoint, error) {
	if threadID == "" {
		return nil, errors.WithStack(ErrInvalidThreadID)
	}
	return m.get(ctx, m.client, threadID)
}

func (m *redisStore) get(ctx context.Context, c redis.Cmdable, threadID string) (*Checkpoint, error) {
	data, err := c.Get(ctx, m.dataKey(threadID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Empty(threadID), nil
		}
		return nil, errors.Wrap(err, "failed to get checkpoint from Redis")
	}

	cp := new(Checkpoint)
	if err := json.Unmarshal(data, cp); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal checkpoint")
	}
	return cp, nil
}

func (m *redisStore) Put(ctx context.Context, cp *Checkpoint) (*Checkpoint, error) {
	if err := validate(cp); err != nil {
		return nil, err
	}
	defer metricskey.PerfCheckpointWrite.MeasureSince(time.Now(), "redis")

	key := m.dataKey(cp.ThreadID)
	var stored *Checkpoint
	err := m.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := m.get(ctx, tx, cp.ThreadID)
		if err != nil {
			return err
		}
		if cur.Version != cp.Version {
			return conflict("redis", cp.ThreadID, cur.Version, cp.Version)
		}

		n := next(cp, time.Now().UTC())
		if cur.Version > 0 {
			n.CreatedAt = cur.CreatedAt
		}
		data, err := json.Marshal(n)
		if err != nil {
			return errors.Wrap(err, "failed to marshal checkpoint")
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, m.threadsKey(), cp.ThreadID)
			return nil
		})
		if err != nil {
			return err
		}
		stored = n
		return nil
	}, key)

	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			err = errors.Wrapf(ErrVersionConflict, "thread %s: concurrent write", cp.ThreadID)
		}
		if errors.Is(err, ErrVersionConflict) {
			metricskey.StatsCheckpointConflicts.IncrCounter(1, "redis")
			return nil, err
		}
		logger.ContextKV(ctx, xlog.ERROR,
			"reason", "put",
			"thread", cp.ThreadID,
			"err", err.Error(),
		)
		return nil, errors.Wrap(err, "failed to store checkpoint in Redis")
	}
	return stored, nil
}

func (m *redisStore) Delete(ctx context.Context, threadID string) error {
	pipe := m.client.Pipeline()
	pipe.Del(ctx, m.dataKey(threadID))
	pipe.SRem(ctx, m.threadsKey(), threadID)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to delete checkpoint in Redis")
	}
	return nil
}

func (m *redisStore) List(ctx context.Context) ([]string, error) {
	list, err := m.client.SMembers(ctx, m.threadsKey()).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list threads from Redis")
	}
	slices.Sort(list)
	return list, nil
}

func (m *redisStore) Close() error {
	if m.owned {
		return m.client.Close()
	}
	return nil
}
