// Package events carries poll activity off the request path. Publishers emit
// after a change is stored; a failed publish never fails the request.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/behzadon/flashpoll/internal/domain"
)

const (
	TypePollCreated   = "poll.created"
	TypePollVoted     = "poll.voted"
	TypePollReacted   = "poll.reacted"
	TypePollCommented = "poll.commented"
	TypePollsSwept    = "polls.swept"
)

type Publisher interface {
	PublishPollCreated(ctx context.Context, poll *domain.Poll) error
	PublishPollVoted(ctx context.Context, event *domain.VoteEvent) error
	PublishPollReacted(ctx context.Context, event *domain.ReactionEvent) error
	PublishPollCommented(ctx context.Context, event *domain.CommentEvent) error
	PublishPollsSwept(ctx context.Context, event *domain.SweepEvent) error
	Close() error
}

type EventHandler interface {
	HandlePollCreated(ctx context.Context, poll *domain.Poll) error
	HandlePollVoted(ctx context.Context, event *domain.VoteEvent) error
	HandlePollReacted(ctx context.Context, event *domain.ReactionEvent) error
	HandlePollCommented(ctx context.Context, event *domain.CommentEvent) error
	HandlePollsSwept(ctx context.Context, event *domain.SweepEvent) error
}

type envelope struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

func encode(eventType string, at time.Time, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	body, err := json.Marshal(envelope{
		Type:      eventType,
		Timestamp: at.UTC().Format(time.RFC3339),
		Data:      raw,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return body, nil
}

// Dispatch decodes one encoded event and hands it to the matching handler
// method. Both the RabbitMQ and the Redis consumers go through it.
func Dispatch(ctx context.Context, handler EventHandler, body []byte) error {
	var event envelope
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("unmarshal event: %w", err)
	}

	switch event.Type {
	case TypePollCreated:
		var poll domain.Poll
		if err := json.Unmarshal(event.Data, &poll); err != nil {
			return fmt.Errorf("unmarshal poll: %w", err)
		}
		return handler.HandlePollCreated(ctx, &poll)

	case TypePollVoted:
		var vote domain.VoteEvent
		if err := json.Unmarshal(event.Data, &vote); err != nil {
			return fmt.Errorf("unmarshal vote: %w", err)
		}
		return handler.HandlePollVoted(ctx, &vote)

	case TypePollReacted:
		var reaction domain.ReactionEvent
		if err := json.Unmarshal(event.Data, &reaction); err != nil {
			return fmt.Errorf("unmarshal reaction: %w", err)
		}
		return handler.HandlePollReacted(ctx, &reaction)

	case TypePollCommented:
		var comment domain.CommentEvent
		if err := json.Unmarshal(event.Data, &comment); err != nil {
			return fmt.Errorf("unmarshal comment: %w", err)
		}
		return handler.HandlePollCommented(ctx, &comment)

	case TypePollsSwept:
		var sweep domain.SweepEvent
		if err := json.Unmarshal(event.Data, &sweep); err != nil {
			return fmt.Errorf("unmarshal sweep: %w", err)
		}
		return handler.HandlePollsSwept(ctx, &sweep)

	default:
		return fmt.Errorf("unknown event type: %s", event.Type)
	}
}

// NoopPublisher drops every event. It backs the "none" events driver.
type NoopPublisher struct{}

func (NoopPublisher) PublishPollCreated(context.Context, *domain.Poll) error { return nil }
func (NoopPublisher) PublishPollVoted(context.Context, *domain.VoteEvent) error { return nil }
func (NoopPublisher) PublishPollReacted(context.Context, *domain.ReactionEvent) error { return nil }
func (NoopPublisher) PublishPollCommented(context.Context, *domain.CommentEvent) error { return nil }
func (NoopPublisher) PublishPollsSwept(context.Context, *domain.SweepEvent) error { return nil }
func (NoopPublisher) Close() error { return nil }
