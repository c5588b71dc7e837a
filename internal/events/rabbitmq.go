package events

import (
	"context"
	"fmt"
	"time"

	"github.com/behzadon/flashpoll/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	DefaultExchange = "flashpoll"
	DefaultQueue    = "flashpoll_activity"
)

type RabbitMQConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	VHost    string
	Exchange string
	Queue    string
}

func (c RabbitMQConfig) url() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.VHost)
}

func (c RabbitMQConfig) withDefaults() RabbitMQConfig {
	if c.Exchange == "" {
		c.Exchange = DefaultExchange
	}
	if c.Queue == "" {
		c.Queue = DefaultQueue
	}
	return c
}

type RabbitMQPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

func cleanup(ch *amqp.Channel, conn *amqp.Connection, logger *zap.Logger) {
	if ch != nil {
		if err := ch.Close(); err != nil {
			logger.Error("Failed to close RabbitMQ channel", zap.Error(err))
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			logger.Error("Failed to close RabbitMQ connection", zap.Error(err))
		}
	}
}

// declareTopology declares the topic exchange and the activity queue bound
// to every poll and sweep routing key.
func declareTopology(ch *amqp.Channel, cfg RabbitMQConfig) error {
	err := ch.ExchangeDeclare(
		cfg.Exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = ch.QueueDeclare(
		cfg.Queue,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", cfg.Queue, err)
	}

	for _, key := range []string{"poll.*", "polls.*"} {
		if err := ch.QueueBind(cfg.Queue, key, cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", cfg.Queue, key, err)
		}
	}
	return nil
}

func NewRabbitMQPublisher(cfg RabbitMQConfig, logger *zap.Logger) (*RabbitMQPublisher, error) {
	cfg = cfg.withDefaults()

	conn, err := amqp.Dial(cfg.url())
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		cleanup(nil, conn, logger)
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareTopology(ch, cfg); err != nil {
		cleanup(ch, conn, logger)
		return nil, err
	}

	return &RabbitMQPublisher{
		conn:     conn,
		channel:  ch,
		exchange: cfg.Exchange,
		logger:   logger,
	}, nil
}

func (p *RabbitMQPublisher) Close() error {
	var errs []error

	if err := p.channel.Close(); err != nil {
		p.logger.Error("Failed to close RabbitMQ channel", zap.Error(err))
		errs = append(errs, fmt.Errorf("close channel: %w", err))
	}

	if err := p.conn.Close(); err != nil {
		p.logger.Error("Failed to close RabbitMQ connection", zap.Error(err))
		errs = append(errs, fmt.Errorf("close connection: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during cleanup: %v", errs)
	}
	return nil
}

func (p *RabbitMQPublisher) PublishPollCreated(ctx context.Context, poll *domain.Poll) error {
	return p.publishEvent(ctx, TypePollCreated, poll.CreatedAt, poll)
}

func (p *RabbitMQPublisher) PublishPollVoted(ctx context.Context, event *domain.VoteEvent) error {
	return p.publishEvent(ctx, TypePollVoted, event.CreatedAt, event)
}

func (p *RabbitMQPublisher) PublishPollReacted(ctx context.Context, event *domain.ReactionEvent) error {
	return p.publishEvent(ctx, TypePollReacted, event.CreatedAt, event)
}

func (p *RabbitMQPublisher) PublishPollCommented(ctx context.Context, event *domain.CommentEvent) error {
	return p.publishEvent(ctx, TypePollCommented, event.CreatedAt, event)
}

func (p *RabbitMQPublisher) PublishPollsSwept(ctx context.Context, event *domain.SweepEvent) error {
	return p.publishEvent(ctx, TypePollsSwept, event.CreatedAt, event)
}

func (p *RabbitMQPublisher) publishEvent(ctx context.Context, routingKey string, at time.Time, payload interface{}) error {
	data, err := encode(routingKey, at, payload)
	if err != nil {
		return err
	}

	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         data,
			DeliveryMode: amqp.Persistent,
			Timestamp:    at,
		},
	)
	if err != nil {
		p.logger.Error("Failed to publish message to RabbitMQ",
			zap.Error(err),
			zap.String("routing_key", routingKey),
		)
		return fmt.Errorf("publish message: %w", err)
	}

	return nil
}
