package events

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	consumerPrefetch = 1
	consumerTag      = "flashpoll-activity"
)

type RabbitMQConsumer struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	handler   EventHandler
	logger    *zap.Logger
	queueName string
}

func NewRabbitMQConsumer(cfg RabbitMQConfig, handler EventHandler, logger *zap.Logger) (*RabbitMQConsumer, error) {
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

	if err := ch.Qos(consumerPrefetch, 0, false); err != nil {
		cleanup(ch, conn, logger)
		return nil, fmt.Errorf("set QoS: %w", err)
	}

	return &RabbitMQConsumer{
		conn:      conn,
		channel:   ch,
		handler:   handler,
		logger:    logger,
		queueName: cfg.Queue,
	}, nil
}

func (c *RabbitMQConsumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(c.queueName, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queueName, err)
	}

	go c.consume(ctx, msgs)
	return nil
}

type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (c *RabbitMQConsumer) consume(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Error("Consumer channel closed")
				return
			}
			c.handleDelivery(ctx, msg, msg.Body, msg.RoutingKey, msg.Redelivered)
		}
	}
}

// handleDelivery acks handled messages. A failed message is requeued once and
// dropped when it fails again on redelivery.
func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, ack acknowledger, body []byte, routingKey string, redelivered bool) {
	if err := Dispatch(ctx, c.handler, body); err != nil {
		c.logger.Error("Failed to handle message",
			zap.Error(err),
			zap.String("routing_key", routingKey),
		)
		if err := ack.Nack(false, !redelivered); err != nil {
			c.logger.Error("Failed to nack message", zap.Error(err))
		}
		return
	}

	if err := ack.Ack(false); err != nil {
		c.logger.Error("Failed to ack message", zap.Error(err))
	}
}

func (c *RabbitMQConsumer) Close() error {
	var errs []error
	if err := c.channel.Cancel(consumerTag, false); err != nil {
		errs = append(errs, fmt.Errorf("cancel consumer: %w", err))
	}
	if err := c.channel.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close channel: %w", err))
	}
	if err := c.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close connection: %w", err))
	}

	err := errors.Join(errs...)
	if err != nil {
		c.logger.Error("Failed to close RabbitMQ consumer", zap.Error(err))
	}
	return err
}
