package events

import (
	"context"
	"fmt"
	"time"

	"github.com/behzadon/flashpoll/internal/domain"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const DefaultChannel = "flashpoll.events"

type RedisPublisher struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

func NewRedisPublisher(client *redis.Client, channel string, logger *zap.Logger) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{
		client:  client,
		channel: channel,
		logger:  logger,
	}
}

func (p *RedisPublisher) publish(ctx context.Context, eventType string, at time.Time, payload interface{}, fields ...zap.Field) error {
	data, err := encode(eventType, at, payload)
	if err != nil {
		return err
	}

	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}

	p.logger.Debug("published event", append(fields, zap.String("type", eventType))...)
	return nil
}

func (p *RedisPublisher) PublishPollCreated(ctx context.Context, poll *domain.Poll) error {
	return p.publish(ctx, TypePollCreated, poll.CreatedAt, poll,
		zap.String("poll_id", poll.ID.String()),
		zap.String("link", poll.UniqueLink),
	)
}

func (p *RedisPublisher) PublishPollVoted(ctx context.Context, event *domain.VoteEvent) error {
	return p.publish(ctx, TypePollVoted, event.CreatedAt, event,
		zap.String("poll_id", event.PollID.String()),
		zap.Int("option_index", event.OptionIndex),
	)
}

func (p *RedisPublisher) PublishPollReacted(ctx context.Context, event *domain.ReactionEvent) error {
	return p.publish(ctx, TypePollReacted, event.CreatedAt, event,
		zap.String("poll_id", event.PollID.String()),
		zap.String("reaction", string(event.Reaction)),
	)
}

func (p *RedisPublisher) PublishPollCommented(ctx context.Context, event *domain.CommentEvent) error {
	return p.publish(ctx, TypePollCommented, event.CreatedAt, event,
		zap.String("poll_id", event.PollID.String()),
	)
}

func (p *RedisPublisher) PublishPollsSwept(ctx context.Context, event *domain.SweepEvent) error {
	return p.publish(ctx, TypePollsSwept, event.CreatedAt, event,
		zap.Int64("deleted", event.Deleted),
	)
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// RedisSubscriber feeds events from a Redis pub/sub channel to a handler.
// Pub/sub has no acknowledgement, so handler errors are logged and dropped.
type RedisSubscriber struct {
	client  *redis.Client
	channel string
	handler EventHandler
	logger  *zap.Logger
}

func NewRedisSubscriber(client *redis.Client, channel string, handler EventHandler, logger *zap.Logger) *RedisSubscriber {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisSubscriber{
		client:  client,
		channel: channel,
		handler: handler,
		logger:  logger,
	}
}

// Run blocks until ctx is done or the subscription closes.
func (s *RedisSubscriber) Run(ctx context.Context) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer func() {
		if err := sub.Close(); err != nil {
			s.logger.Error("Failed to close Redis subscription", zap.Error(err))
		}
	}()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.channel, err)
	}

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("subscription to %s closed", s.channel)
			}
			if err := Dispatch(ctx, s.handler, []byte(msg.Payload)); err != nil {
				s.logger.Error("Failed to handle message",
					zap.Error(err),
					zap.String("channel", msg.Channel),
				)
			}
		}
	}
}
