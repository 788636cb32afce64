// Package events publishes session lifecycle updates to Redis so that other
// connected pages of the same user see which resource is being viewed.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"engagement-gateway/internal/engagement"
	"engagement-gateway/internal/log"
	"engagement-gateway/internal/models"
)

const publishTimeout = 2 * time.Second

// Channel is the pub/sub channel for a user's live updates.
func Channel(userID uuid.UUID) string {
	return fmt.Sprintf("user_updates:%s", userID.String())
}

// Publisher sends WSMessage updates on user_updates:<user_id>. Publishing
// happens off the caller's goroutine; failures are logged and dropped.
type Publisher struct {
	redis *redis.Client
	log   zerolog.Logger
	wg    sync.WaitGroup
}

func NewPublisher(redisClient *redis.Client) *Publisher {
	return &Publisher{
		redis: redisClient,
		log:   log.WithComponent("events"),
	}
}

// PublishUpdate sends msg to every live update subscriber of userID.
func (p *Publisher) PublishUpdate(ctx context.Context, userID uuid.UUID, msg models.WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s update: %w", msg.Type, err)
	}
	if err := p.redis.Publish(ctx, Channel(userID), data).Err(); err != nil {
		return fmt.Errorf("publish %s update: %w", msg.Type, err)
	}
	return nil
}

func (p *Publisher) publishAsync(userID uuid.UUID, msg models.WSMessage) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := p.PublishUpdate(ctx, userID, msg); err != nil {
			p.log.Warn().Err(err).Str("user_id", userID.String()).Msg("live update dropped")
		}
	}()
}

// Wait blocks until in-flight publishes have finished.
func (p *Publisher) Wait() {
	p.wg.Wait()
}

// ForUser returns a notifier that publishes userID's session events.
func (p *Publisher) ForUser(userID uuid.UUID) engagement.Notifier {
	return &userNotifier{p: p, userID: userID}
}

type userNotifier struct {
	p      *Publisher
	userID uuid.UUID
}

func (n *userNotifier) SessionOpened(kind string, s engagement.ResourceSession) {
	n.p.publishAsync(n.userID, models.WSMessage{
		Type:    models.MessageSessionOpened,
		Payload: sessionEvent(kind, s),
	})
}

func (n *userNotifier) SessionClosed(kind string, s engagement.ResourceSession) {
	n.p.publishAsync(n.userID, models.WSMessage{
		Type:    models.MessageSessionClosed,
		Payload: sessionEvent(kind, s),
	})
}

func sessionEvent(kind string, s engagement.ResourceSession) models.SessionEvent {
	return models.SessionEvent{
		ResourceID:   s.ResourceID,
		SessionIndex: s.SessionIndex,
		Kind:         kind,
		OpenedAt:     s.OpenedAt,
		ClosedAt:     s.ClosedAt,
	}
}
