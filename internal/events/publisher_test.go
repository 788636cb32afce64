package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engagement-gateway/internal/engagement"
	"engagement-gateway/internal/models"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })
	return client
}

type decodedMessage struct {
	Type    string              `json:"type"`
	Payload models.SessionEvent `json:"payload"`
}

func receive(t *testing.T, ch <-chan *redis.Message) decodedMessage {
	t.Helper()
	select {
	case msg := <-ch:
		var out decodedMessage
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &out))
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return decodedMessage{}
	}
}

func TestPublisher_SessionLifecycle(t *testing.T) {
	client := newTestRedis(t)
	publisher := NewPublisher(client)
	userID := uuid.New()
	ctx := context.Background()

	sub := client.Subscribe(ctx, Channel(userID))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)
	ch := sub.Channel()

	opened := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	session := engagement.ResourceSession{ResourceID: uuid.New(), SessionIndex: 5, OpenedAt: opened}
	notifier := publisher.ForUser(userID)

	notifier.SessionOpened("native_video", session)
	got := receive(t, ch)
	assert.Equal(t, models.MessageSessionOpened, got.Type)
	assert.Equal(t, session.ResourceID, got.Payload.ResourceID)
	assert.Equal(t, 5, got.Payload.SessionIndex)
	assert.Equal(t, "native_video", got.Payload.Kind)
	assert.Nil(t, got.Payload.ClosedAt)

	closed := opened.Add(time.Minute)
	session.ClosedAt = &closed
	notifier.SessionClosed("native_video", session)
	got = receive(t, ch)
	assert.Equal(t, models.MessageSessionClosed, got.Type)
	require.NotNil(t, got.Payload.ClosedAt)
	assert.True(t, closed.Equal(*got.Payload.ClosedAt))

	publisher.Wait()
}

func TestPublisher_RedisDownDoesNotBlock(t *testing.T) {
	publisher := NewPublisher(unreachableRedis(t))

	done := make(chan struct{})
	go func() {
		publisher.ForUser(uuid.New()).SessionOpened("document", engagement.ResourceSession{ResourceID: uuid.New()})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("notifier blocked on an unavailable redis")
	}
	publisher.Wait()
}

func TestPublishUpdate_ReturnsError(t *testing.T) {
	publisher := NewPublisher(unreachableRedis(t))

	err := publisher.PublishUpdate(context.Background(), uuid.New(), models.WSMessage{Type: models.MessageSessionOpened})
	assert.Error(t, err)
}
