// Package memory keeps short-lived conversation state for query threads in
// Redis. Threads are private to the user who created them: the key is
// derived from the viewer, so one user can never read another's thread.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/beacon-core/models"
	"github.com/beacon-core/services"
)

const (
	keyPrefix = "thread"

	// maxThreadEntries bounds the buffer; the oldest turns fall off first.
	maxThreadEntries = 40
)

// ThreadMemoryServiceImpl implements ThreadMemoryService using Redis
type ThreadMemoryServiceImpl struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewThreadMemoryService creates a new thread memory service
func NewThreadMemoryService(redisClient *redis.Client, ttlSeconds int) services.ThreadMemoryService {
	if ttlSeconds <= 0 {
		ttlSeconds = 3600
	}
	return &ThreadMemoryServiceImpl{
		redis: redisClient,
		ttl:   time.Duration(ttlSeconds) * time.Second,
	}
}

func (s *ThreadMemoryServiceImpl) threadKey(viewer models.Viewer, threadID string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, viewer.UserID.String(), threadID)
}

// GetThread retrieves the conversation history for a thread
func (s *ThreadMemoryServiceImpl) GetThread(ctx context.Context, viewer models.Viewer, threadID string) ([]models.ThreadMessage, error) {
	if s.redis == nil {
		return nil, nil
	}
	key := s.threadKey(viewer, threadID)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}

	var messages []models.ThreadMessage
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal thread: %w", err)
	}
	return messages, nil
}

// AppendMessage adds a message to the thread buffer and refreshes its TTL
func (s *ThreadMemoryServiceImpl) AppendMessage(ctx context.Context, viewer models.Viewer, threadID string, msg models.ThreadMessage) error {
	if s.redis == nil {
		return nil
	}
	messages, err := s.GetThread(ctx, viewer, threadID)
	if err != nil {
		return err
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	messages = append(messages, msg)
	if len(messages) > maxThreadEntries {
		messages = messages[len(messages)-maxThreadEntries:]
	}

	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal thread: %w", err)
	}

	key := s.threadKey(viewer, threadID)
	if err := s.redis.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store thread: %w", err)
	}
	return nil
}

// ClearThread removes a thread's conversation buffer
func (s *ThreadMemoryServiceImpl) ClearThread(ctx context.Context, viewer models.Viewer, threadID string) error {
	if s.redis == nil {
		return nil
	}
	key := s.threadKey(viewer, threadID)
	return s.redis.Del(ctx, key).Err()
}
