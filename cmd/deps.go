package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/behzadon/flashpoll/internal/config"
	"github.com/behzadon/flashpoll/internal/domain"
	"github.com/behzadon/flashpoll/internal/events"
	"github.com/behzadon/flashpoll/internal/logging"
	"github.com/behzadon/flashpoll/internal/service"
	"github.com/behzadon/flashpoll/internal/storage/cache"
	"github.com/behzadon/flashpoll/internal/storage/gormstore"
	"github.com/behzadon/flashpoll/internal/storage/memory"
	"github.com/behzadon/flashpoll/internal/storage/mongostore"
	"github.com/behzadon/flashpoll/internal/storage/postgres"
	"github.com/benbjohnson/clock"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// closers run in reverse order of registration.
type closers []func()

func (c *closers) add(fn func()) {
	*c = append(*c, fn)
}

func (c closers) closeAll() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func connectPostgres(cfg config.PostgresConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

func connectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// openRepository builds the configured store and, when enabled, puts the
// Redis link cache in front of it.
func openRepository(cfg *config.Config, redisClient *redis.Client, clk clock.Clock, logger *logging.Logger, cleanup *closers) (domain.Repository, error) {
	zapLogger := logger.Zap()

	var repo domain.Repository
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		logger.Info("Using in-memory poll store; polls are lost on restart")
		repo = memory.NewStore()

	case config.DriverPostgres:
		db, err := connectPostgres(cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		cleanup.add(func() {
			if err := db.Close(); err != nil {
				logger.Error("Failed to close database connection", err)
			}
		})

		if cfg.Migration.AutoMigrate {
			logger.Info("Auto-migration is enabled, running migrations...")
			if err := runPostgresMigrations(db, "up", zapLogger); err != nil {
				return nil, fmt.Errorf("run migrations: %w", err)
			}
			logger.Info("Migrations completed successfully")
		} else {
			logger.Info("Auto-migration is disabled, skipping migrations")
		}
		repo = postgres.NewRepository(db, zapLogger, cfg.Storage.MaxMutateAttempts)

	case config.DriverSQLite, config.DriverMySQL:
		store, err := openGormStore(cfg, zapLogger, cleanup)
		if err != nil {
			return nil, err
		}
		if err := store.AutoMigrate(); err != nil {
			return nil, fmt.Errorf("migrate %s schema: %w", cfg.Storage.Driver, err)
		}
		repo = store

	case config.DriverMongo:
		store, err := openMongoStore(cfg, zapLogger, cleanup)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureIndexes(context.Background(), cfg.Mongo.TTLIndex); err != nil {
			return nil, fmt.Errorf("create mongo indexes: %w", err)
		}
		repo = store

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}

	if cfg.Cache.Enabled && redisClient != nil {
		logger.Info("Caching polls by link in Redis", zap.Duration("ttl", cfg.Cache.TTL))
		repo = cache.NewCachedRepository(repo, redisClient, clk, cfg.Cache.TTL, zapLogger)
	}

	return repo, nil
}

func openGormStore(cfg *config.Config, zapLogger *zap.Logger, cleanup *closers) (*gormstore.Store, error) {
	driver, dsn := gormstore.DriverSQLite, cfg.SQLite.Path
	if cfg.Storage.Driver == config.DriverMySQL {
		driver, dsn = gormstore.DriverMySQL, cfg.MySQL.DSN
	}

	db, err := gormstore.Open(driver, dsn, zapLogger)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get %s handle: %w", driver, err)
	}
	cleanup.add(func() {
		if err := sqlDB.Close(); err != nil {
			zapLogger.Error("Failed to close database connection", zap.Error(err))
		}
	})

	return gormstore.NewStore(db, zapLogger, cfg.Storage.MaxMutateAttempts), nil
}

func openMongoStore(cfg *config.Config, zapLogger *zap.Logger, cleanup *closers) (*mongostore.Store, error) {
	client, err := mongostore.Connect(context.Background(), cfg.Mongo.URI)
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	cleanup.add(func() {
		if err := client.Disconnect(context.Background()); err != nil {
			zapLogger.Error("Failed to disconnect from mongo", zap.Error(err))
		}
	})

	coll := client.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection)
	return mongostore.NewStore(coll, zapLogger, cfg.Storage.MaxMutateAttempts), nil
}

func rabbitMQConfig(cfg config.RabbitMQConfig) events.RabbitMQConfig {
	return events.RabbitMQConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		VHost:    cfg.VHost,
		Exchange: cfg.Exchange,
		Queue:    cfg.Queue,
	}
}

func newPublisher(cfg *config.Config, redisClient *redis.Client, logger *logging.Logger, cleanup *closers) (events.Publisher, error) {
	var publisher events.Publisher
	switch cfg.Events.Driver {
	case config.EventsRabbitMQ:
		p, err := events.NewRabbitMQPublisher(rabbitMQConfig(cfg.RabbitMQ), logger.Zap())
		if err != nil {
			return nil, fmt.Errorf("create RabbitMQ publisher: %w", err)
		}
		publisher = p
	case config.EventsRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("redis events need a redis connection")
		}
		publisher = events.NewRedisPublisher(redisClient, cfg.Events.Channel, logger.Zap())
	default:
		return events.NoopPublisher{}, nil
	}

	cleanup.add(func() {
		if err := publisher.Close(); err != nil {
			logger.Error("Failed to close event publisher", err)
		}
	})
	return publisher, nil
}

// buildService connects everything the poll service depends on. The caller
// owns cleanup and must call closeAll even when an error is returned.
func buildService(ctx context.Context, cfg *config.Config, clk clock.Clock, logger *logging.Logger, cleanup *closers) (service.Service, *redis.Client, error) {
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		client, err := connectRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		cleanup.add(func() {
			if err := client.Close(); err != nil {
				logger.Error("Failed to close Redis connection", err)
			}
		})
		logger.Info("Successfully connected to Redis")
		redisClient = client
	}

	repo, err := openRepository(cfg, redisClient, clk, logger, cleanup)
	if err != nil {
		return nil, nil, err
	}

	publisher, err := newPublisher(cfg, redisClient, logger, cleanup)
	if err != nil {
		return nil, nil, err
	}

	svc := service.NewService(repo, publisher, clk, logger.Zap(), service.Options{
		MaxLinkAttempts: cfg.Polls.MaxLinkAttempts,
		RecentLimit:     cfg.Polls.RecentLimit,
		SweepOnList:     cfg.Sweeper.SweepOnList,
	})
	return svc, redisClient, nil
}
