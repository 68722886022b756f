package checkpoint_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/effective-security/toolchat/checkpoint"
	"github.com/effective-security/toolchat/chatmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transcript() chatmodel.Transcript {
	call := chatmodel.ToolCall{ID: "call_1", Name: "add", Arguments: `{"a":2,"b":3}`}
	return chatmodel.Transcript{}.Append(
		chatmodel.SystemMessage("be brief"),
		chatmodel.HumanMessage("what is 2+3?"),
		chatmodel.AIToolCallsMessage("", call),
		chatmodel.ToolMessage(call, "5"),
		chatmodel.AIMessage("5"),
	)
}

// randomTranscript returns turns of fake conversation with resolved tool calls.
func randomTranscript(f *gofakeit.Faker, turns int) chatmodel.Transcript {
	t := chatmodel.Transcript{}.Append(chatmodel.SystemMessage(f.Phrase()))
	for range turns {
		t = t.Append(chatmodel.HumanMessage(f.Phrase()))
		calls := make([]chatmodel.ToolCall, f.Number(0, 3))
		for i := range calls {
			calls[i] = chatmodel.ToolCall{
				ID:        "call_" + f.UUID(),
				Name:      f.Word(),
				Arguments: fmt.Sprintf(`{"q":%q}`, f.Phrase()),
			}
		}
		if len(calls) > 0 {
			t = t.Append(chatmodel.AIToolCallsMessage("", calls...))
			for _, c := range calls {
				if f.Bool() {
					t = t.Append(chatmodel.ToolMessage(c, f.Phrase()))
				} else {
					t = t.Append(chatmodel.ToolErrorMessage(c, errors.New(f.Phrase())))
				}
			}
		}
		t = t.Append(chatmodel.AIMessage(f.Phrase()))
	}
	return t
}

// testRandomTranscripts checks that stored transcripts come back unchanged.
func testRandomTranscripts(t *testing.T, st checkpoint.Store) {
	ctx := context.Background()
	f := gofakeit.New(7)

	for i := range 5 {
		threadID := fmt.Sprintf("fake-%d", i)
		messages := randomTranscript(f, i+1)
		require.NoError(t, messages.Validate())

		_, err := st.Put(ctx, &checkpoint.Checkpoint{ThreadID: threadID, Messages: messages})
		require.NoError(t, err)

		got, err := st.Get(ctx, threadID)
		require.NoError(t, err)
		assert.Equal(t, messages, got.Messages)
		require.NoError(t, st.Delete(ctx, threadID))
	}
}

// testStore runs the behavior every backend shares.
func testStore(t *testing.T, st checkpoint.Store) {
	ctx := context.Background()

	_, err := st.Get(ctx, "")
	assert.ErrorIs(t, err, checkpoint.ErrInvalidThreadID)
	_, err = st.Put(ctx, &checkpoint.Checkpoint{})
	assert.ErrorIs(t, err, checkpoint.ErrInvalidThreadID)

	cp, err := st.Get(ctx, "thread1")
	require.NoError(t, err)
	assert.Equal(t, "thread1", cp.ThreadID)
	assert.Equal(t, uint64(0), cp.Version)
	assert.Empty(t, cp.Messages)

	cp.Messages = transcript()
	cp.Metadata = map[string]string{"model": "gpt-test"}
	v1, err := st.Put(ctx, cp)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v1.Version)
	assert.False(t, v1.CreatedAt.IsZero())
	// the input is not changed
	assert.Equal(t, uint64(0), cp.Version)

	got, err := st.Get(ctx, "thread1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Version)
	assert.Equal(t, transcript(), got.Messages)
	assert.Equal(t, "gpt-test", got.Metadata["model"])
	assert.True(t, v1.CreatedAt.Equal(got.CreatedAt))

	// stale write
	_, err = st.Put(ctx, cp)
	assert.ErrorIs(t, err, checkpoint.ErrVersionConflict)

	got.Messages = got.Messages.Append(chatmodel.HumanMessage("thanks"))
	v2, err := st.Put(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v2.Version)
	assert.Len(t, v2.Messages, 6)
	assert.True(t, v1.CreatedAt.Equal(v2.CreatedAt))
	assert.False(t, v2.UpdatedAt.Before(v1.UpdatedAt))

	_, err = st.Put(ctx, got)
	assert.ErrorIs(t, err, checkpoint.ErrVersionConflict)

	_, err = st.Put(ctx, &checkpoint.Checkpoint{ThreadID: "thread2", Messages: transcript()[:2]})
	require.NoError(t, err)

	list, err := st.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"thread1", "thread2"}, list)

	require.NoError(t, st.Delete(ctx, "thread1"))
	got, err = st.Get(ctx, "thread1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got.Version)
	assert.Empty(t, got.Messages)

	list, err = st.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"thread2"}, list)

	// a deleted thread starts over
	_, err = st.Put(ctx, got)
	require.NoError(t, err)
}

// testConcurrentPut checks that exactly one of the writers
// of the same version wins.
func testConcurrentPut(t *testing.T, st checkpoint.Store) {
	ctx := context.Background()
	base, err := st.Put(ctx, &checkpoint.Checkpoint{ThreadID: "race", Messages: transcript()[:2]})
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cp := base.Clone()
			cp.Messages = cp.Messages.Append(chatmodel.AIMessage("answer"))
			_, errs[i] = st.Put(ctx, cp)
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, checkpoint.ErrVersionConflict)
		}
	}
	assert.Equal(t, 1, succeeded)

	got, err := st.Get(ctx, "race")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Version)
}

func Test_MemoryStore(t *testing.T) {
	st := checkpoint.NewMemoryStore()
	defer st.Close()
	testStore(t, st)
	testConcurrentPut(t, st)
	testRandomTranscripts(t, st)
}

func Test_SQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "data", "checkpoints.db")
	st, err := checkpoint.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	testStore(t, st)
	testConcurrentPut(t, st)
	testRandomTranscripts(t, st)
	require.NoError(t, st.Close())

	// a new process resumes from the file
	st, err = checkpoint.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer st.Close()
	got, err := st.Get(context.Background(), "thread2")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Version)
	assert.Equal(t, transcript()[:2], got.Messages)
}

func Test_Open(t *testing.T) {
	ctx := context.Background()

	st, err := checkpoint.Open(ctx, checkpoint.Config{})
	require.NoError(t, err)
	assert.NoError(t, st.Close())

	st, err = checkpoint.Open(ctx, checkpoint.Config{Kind: "SQLite", SQLitePath: filepath.Join(t.TempDir(), "cp.db")})
	require.NoError(t, err)
	assert.NoError(t, st.Close())

	_, err = checkpoint.Open(ctx, checkpoint.Config{Kind: "redis"})
	assert.EqualError(t, err, "redis_url is required")

	_, err = checkpoint.Open(ctx, checkpoint.Config{Kind: "redis", RedisURL: "http://nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid redis_url")

	_, err = checkpoint.Open(ctx, checkpoint.Config{Kind: "etcd"})
	assert.EqualError(t, err, "unsupported checkpoint kind: etcd")
}

func Test_CheckpointClone(t *testing.T) {
	cp := &checkpoint.Checkpoint{ThreadID: "x", Messages: transcript(), Metadata: map[string]string{"k": "v"}}
	c := cp.Clone()
	c.Messages[2].ToolCalls[0].Name = "changed"
	c.Metadata["k"] = "changed"
	assert.Equal(t, "add", cp.Messages[2].ToolCalls[0].Name)
	assert.Equal(t, "v", cp.Metadata["k"])
}
