package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beacon-core/models"
)

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return client, cleanup
}

func testViewer() models.Viewer {
	instID := uuid.New()
	return models.Viewer{UserID: uuid.New(), Role: models.RoleStudent, InstitutionID: &instID}
}

func TestGetThreadEmpty(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	svc := NewThreadMemoryService(client, 3600)

	messages, err := svc.GetThread(context.Background(), testViewer(), "thread-1")
	assert.NoError(t, err)
	assert.Empty(t, messages)
}

func TestAppendAndGetThread(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	svc := NewThreadMemoryService(client, 3600)
	viewer := testViewer()

	err := svc.AppendMessage(context.Background(), viewer, "thread-1", models.ThreadMessage{
		Role:    "user",
		Content: "what is the exam schedule?",
	})
	require.NoError(t, err)
	err = svc.AppendMessage(context.Background(), viewer, "thread-1", models.ThreadMessage{
		Role:    "assistant",
		Content: "exams start in June.",
	})
	require.NoError(t, err)

	messages, err := svc.GetThread(context.Background(), viewer, "thread-1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "assistant", messages[1].Role)
	assert.False(t, messages[0].Timestamp.IsZero())
}

func TestThreadsArePrivatePerUser(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	svc := NewThreadMemoryService(client, 3600)
	alice := testViewer()
	bob := testViewer()

	require.NoError(t, svc.AppendMessage(context.Background(), alice, "shared-id", models.ThreadMessage{
		Role:    "user",
		Content: "my private question",
	}))

	// Same thread id, different user: nothing leaks.
	messages, err := svc.GetThread(context.Background(), bob, "shared-id")
	assert.NoError(t, err)
	assert.Empty(t, messages)
}

func TestThreadBufferIsBounded(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	svc := NewThreadMemoryService(client, 3600)
	viewer := testViewer()

	for i := 0; i < maxThreadEntries+10; i++ {
		require.NoError(t, svc.AppendMessage(context.Background(), viewer, "long-thread", models.ThreadMessage{
			Role:    "user",
			Content: fmt.Sprintf("turn %d", i),
		}))
	}

	messages, err := svc.GetThread(context.Background(), viewer, "long-thread")
	require.NoError(t, err)
	assert.Len(t, messages, maxThreadEntries)
	// Oldest turns fall off first.
	assert.Equal(t, "turn 10", messages[0].Content)
}

func TestClearThread(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	svc := NewThreadMemoryService(client, 3600)
	viewer := testViewer()

	require.NoError(t, svc.AppendMessage(context.Background(), viewer, "thread-1", models.ThreadMessage{
		Role:    "user",
		Content: "hello",
	}))
	require.NoError(t, svc.ClearThread(context.Background(), viewer, "thread-1"))

	messages, err := svc.GetThread(context.Background(), viewer, "thread-1")
	assert.NoError(t, err)
	assert.Empty(t, messages)
}

func TestThreadMemoryWithoutRedisIsNoOp(t *testing.T) {
	svc := NewThreadMemoryService(nil, 3600)
	viewer := testViewer()

	assert.NoError(t, svc.AppendMessage(context.Background(), viewer, "t", models.ThreadMessage{Role: "user", Content: "x"}))
	messages, err := svc.GetThread(context.Background(), viewer, "t")
	assert.NoError(t, err)
	assert.Empty(t, messages)
	assert.NoError(t, svc.ClearThread(context.Background(), viewer, "t"))
}
