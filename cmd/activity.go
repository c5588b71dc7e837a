package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/behzadon/flashpoll/internal/activity"
	"github.com/behzadon/flashpoll/internal/config"
	"github.com/behzadon/flashpoll/internal/events"
	"github.com/behzadon/flashpoll/internal/logging"
	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var activityConsumerCmd = &cobra.Command{
	Use:   "activity-consumer",
	Short: "Start the poll activity consumer",
	Long: `Consume poll events from RabbitMQ, or from the Redis channel when
events.driver is redis, and write them to the activity log.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		zapLogger, err := logging.New(cfg.Server.Env)
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		logger := logging.NewLogger(zapLogger)
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		handler := activity.NewHandler(clock.New(), zapLogger)

		switch cfg.Events.Driver {
		case config.EventsRabbitMQ:
			consumer, err := events.NewRabbitMQConsumer(rabbitMQConfig(cfg.RabbitMQ), handler, zapLogger)
			if err != nil {
				return fmt.Errorf("create RabbitMQ consumer: %w", err)
			}
			defer func() {
				if err := consumer.Close(); err != nil {
					logger.Error("Failed to close RabbitMQ consumer", err)
				}
			}()

			if err := consumer.Start(ctx); err != nil {
				return fmt.Errorf("start consumer: %w", err)
			}
			logger.Info("Activity consumer started", zap.String("queue", cfg.RabbitMQ.Queue))
			<-ctx.Done()

		case config.EventsRedis:
			client, err := connectRedis(ctx, cfg.Redis)
			if err != nil {
				return fmt.Errorf("connect to redis: %w", err)
			}
			defer func() {
				if err := client.Close(); err != nil {
					logger.Error("Failed to close Redis connection", err)
				}
			}()

			logger.Info("Activity consumer started", zap.String("channel", cfg.Events.Channel))
			if err := events.NewRedisSubscriber(client, cfg.Events.Channel, handler, zapLogger).Run(ctx); err != nil {
				return fmt.Errorf("subscribe to %s: %w", cfg.Events.Channel, err)
			}

		default:
			return fmt.Errorf("events.driver is %q; the activity consumer needs rabbitmq or redis", cfg.Events.Driver)
		}

		stats := handler.Stats()
		logger.Info("Shutting down activity consumer...",
			zap.Int64("polls_created", stats.PollsCreated),
			zap.Int64("votes", stats.Votes),
			zap.Int64("reactions", stats.Reactions),
			zap.Int64("comments", stats.Comments),
			zap.Int64("polls_swept", stats.PollsSwept),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(activityConsumerCmd)
}
