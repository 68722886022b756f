package checkpoint_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/effective-security/toolchat/checkpoint"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	rediscon "github.com/testcontainers/testcontainers-go/modules/redis"
)

func Test_RedisStore(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}

	ctx := context.Background()
	redisContainer, err := rediscon.Run(ctx, "redis:7",
		testcontainers.WithConfigModifier(func(config *container.Config) {
			config.Env = []string{
				"ALLOW_EMPTY_PASSWORD=yes",
			}
		}),
	)
	if err != nil {
		t.Skipf("redis container is not available: %v", err)
	}
	t.Cleanup(func() {
		require.NoError(t, redisContainer.Terminate(ctx))
	})

	state, err := redisContainer.State(ctx)
	require.NoError(t, err)
	require.True(t, state.Running)

	root := fmt.Sprintf("test-%d", time.Now().Unix())

	host, err := redisContainer.ConnectionString(ctx)
	require.NoError(t, err)

	options, err := redis.ParseURL(host)
	require.NoError(t, err)

	client := redis.NewClient(options)
	defer client.Close()

	rs := client.Ping(ctx) // Ensure the connection is established
	require.NoError(t, rs.Err(), "failed to connect to Redis")

	st := checkpoint.NewRedisStore(client, root)
	testStore(t, st)
	testRandomTranscripts(t, st)
	testConcurrentPut(t, st)
	// the client is not owned
	require.NoError(t, st.Close())
	require.NoError(t, client.Ping(ctx).Err())

	keys, err := client.Keys(ctx, "/"+root+"/checkpoint/*").Result()
	require.NoError(t, err)
	assert.NotEmpty(t, keys)

	// Open owns its client
	owned, err := checkpoint.Open(ctx, checkpoint.Config{Kind: "redis", RedisURL: host, Prefix: root})
	require.NoError(t, err)
	list, err := owned.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, list, "thread2")
	require.NoError(t, owned.Close())
}
