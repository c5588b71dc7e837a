package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverMongo    = "mongo"

	EventsNone     = "none"
	EventsRedis    = "redis"
	EventsRabbitMQ = "rabbitmq"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	SQLite    SQLiteConfig    `mapstructure:"sqlite"`
	MySQL     MySQLConfig     `mapstructure:"mysql"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Events    EventsConfig    `mapstructure:"events"`
	RabbitMQ  RabbitMQConfig  `mapstructure:"rabbitmq"`
	Sweeper   SweeperConfig   `mapstructure:"sweeper"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Polls     PollsConfig     `mapstructure:"polls"`
	Migration MigrationConfig `mapstructure:"migration"`
}

type ServerConfig struct {
	Port        int      `mapstructure:"port"`
	Env         string   `mapstructure:"env"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type StorageConfig struct {
	Driver            string `mapstructure:"driver"`
	MaxMutateAttempts int    `mapstructure:"max_mutate_attempts"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
	TTLIndex   bool   `mapstructure:"ttl_index"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type EventsConfig struct {
	Driver  string `mapstructure:"driver"`
	Channel string `mapstructure:"channel"`
}

type RabbitMQConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	VHost    string `mapstructure:"vhost"`
	Exchange string `mapstructure:"exchange"`
	Queue    string `mapstructure:"queue"`
}

type SweeperConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	SweepOnList bool          `mapstructure:"sweep_on_list"`
}

type RateLimitConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	RequestsPerWindow int           `mapstructure:"requests_per_window"`
	Window            time.Duration `mapstructure:"window"`
	Burst             int           `mapstructure:"burst"`
	GlobalRPS         float64       `mapstructure:"global_rps"`
	GlobalBurst       int           `mapstructure:"global_burst"`
}

type PollsConfig struct {
	MaxLinkAttempts int `mapstructure:"max_link_attempts"`
	RecentLimit     int `mapstructure:"recent_limit"`
}

type MigrationConfig struct {
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// Load reads .env (when present), then the YAML config file (optional unless
// configFile names one), then FLASHPOLL_* environment variables.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	if err := bindEnvs(v); err != nil {
		return nil, fmt.Errorf("bind env vars: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.env", "development")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.max_mutate_attempts", 5)
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("sqlite.path", "flashpoll.db")
	v.SetDefault("mongo.database", "flashpoll")
	v.SetDefault("mongo.collection", "polls")
	v.SetDefault("mongo.ttl_index", false)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.ttl", 30*time.Second)
	v.SetDefault("events.driver", EventsNone)
	v.SetDefault("events.channel", "flashpoll.events")
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.vhost", "/")
	v.SetDefault("rabbitmq.exchange", "flashpoll")
	v.SetDefault("rabbitmq.queue", "flashpoll_activity")
	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.interval", time.Minute)
	v.SetDefault("sweeper.sweep_on_list", false)
	v.SetDefault("ratelimit.enabled", false)
	v.SetDefault("ratelimit.requests_per_window", 60)
	v.SetDefault("ratelimit.window", time.Minute)
	v.SetDefault("ratelimit.burst", 10)
	v.SetDefault("ratelimit.global_rps", 100.0)
	v.SetDefault("ratelimit.global_burst", 200)
	v.SetDefault("polls.max_link_attempts", 3)
	v.SetDefault("polls.recent_limit", 10)
	v.SetDefault("migration.auto_migrate", false)
}

func bindEnvs(v *viper.Viper) error {
	bindings := map[string]string{
		"server.port":                   "FLASHPOLL_SERVER_PORT",
		"server.env":                    "FLASHPOLL_SERVER_ENV",
		"storage.driver":                "FLASHPOLL_STORAGE_DRIVER",
		"storage.max_mutate_attempts":   "FLASHPOLL_STORAGE_MAX_MUTATE_ATTEMPTS",
		"postgres.host":                 "FLASHPOLL_POSTGRES_HOST",
		"postgres.port":                 "FLASHPOLL_POSTGRES_PORT",
		"postgres.user":                 "FLASHPOLL_POSTGRES_USER",
		"postgres.password":             "FLASHPOLL_POSTGRES_PASSWORD",
		"postgres.dbname":               "FLASHPOLL_POSTGRES_DBNAME",
		"postgres.sslmode":              "FLASHPOLL_POSTGRES_SSLMODE",
		"sqlite.path":                   "FLASHPOLL_SQLITE_PATH",
		"mysql.dsn":                     "FLASHPOLL_MYSQL_DSN",
		"mongo.uri":                     "FLASHPOLL_MONGO_URI",
		"mongo.database":                "FLASHPOLL_MONGO_DATABASE",
		"mongo.collection":              "FLASHPOLL_MONGO_COLLECTION",
		"mongo.ttl_index":               "FLASHPOLL_MONGO_TTL_INDEX",
		"redis.enabled":                 "FLASHPOLL_REDIS_ENABLED",
		"redis.host":                    "FLASHPOLL_REDIS_HOST",
		"redis.port":                    "FLASHPOLL_REDIS_PORT",
		"redis.password":                "FLASHPOLL_REDIS_PASSWORD",
		"redis.db":                      "FLASHPOLL_REDIS_DB",
		"cache.enabled":                 "FLASHPOLL_CACHE_ENABLED",
		"cache.ttl":                     "FLASHPOLL_CACHE_TTL",
		"events.driver":                 "FLASHPOLL_EVENTS_DRIVER",
		"events.channel":                "FLASHPOLL_EVENTS_CHANNEL",
		"rabbitmq.host":                 "FLASHPOLL_RABBITMQ_HOST",
		"rabbitmq.port":                 "FLASHPOLL_RABBITMQ_PORT",
		"rabbitmq.user":                 "FLASHPOLL_RABBITMQ_USER",
		"rabbitmq.password":             "FLASHPOLL_RABBITMQ_PASSWORD",
		"rabbitmq.vhost":                "FLASHPOLL_RABBITMQ_VHOST",
		"rabbitmq.exchange":             "FLASHPOLL_RABBITMQ_EXCHANGE",
		"rabbitmq.queue":                "FLASHPOLL_RABBITMQ_QUEUE",
		"sweeper.enabled":               "FLASHPOLL_SWEEPER_ENABLED",
		"sweeper.interval":              "FLASHPOLL_SWEEPER_INTERVAL",
		"sweeper.sweep_on_list":         "FLASHPOLL_SWEEPER_SWEEP_ON_LIST",
		"ratelimit.enabled":             "FLASHPOLL_RATELIMIT_ENABLED",
		"ratelimit.requests_per_window": "FLASHPOLL_RATELIMIT_REQUESTS_PER_WINDOW",
		"ratelimit.window":              "FLASHPOLL_RATELIMIT_WINDOW",
		"ratelimit.burst":               "FLASHPOLL_RATELIMIT_BURST",
		"ratelimit.global_rps":          "FLASHPOLL_RATELIMIT_GLOBAL_RPS",
		"ratelimit.global_burst":        "FLASHPOLL_RATELIMIT_GLOBAL_BURST",
		"polls.max_link_attempts":       "FLASHPOLL_POLLS_MAX_LINK_ATTEMPTS",
		"polls.recent_limit":            "FLASHPOLL_POLLS_RECENT_LIMIT",
		"migration.auto_migrate":        "FLASHPOLL_MIGRATION_AUTO_MIGRATE",
	}

	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	return nil
}

func validateConfig(cfg *Config) error {
	if cfg.Server.Port <= 0 {
		return fmt.Errorf("server.port must be greater than 0")
	}
	if cfg.Server.Env == "" {
		return fmt.Errorf("server.env is required")
	}

	switch cfg.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if cfg.Postgres.Host == "" {
			return fmt.Errorf("postgres.host is required")
		}
		if cfg.Postgres.Port <= 0 {
			return fmt.Errorf("postgres.port must be greater than 0")
		}
		if cfg.Postgres.User == "" {
			return fmt.Errorf("postgres.user is required")
		}
		if cfg.Postgres.DBName == "" {
			return fmt.Errorf("postgres.dbname is required")
		}
	case DriverSQLite:
		if cfg.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path is required")
		}
	case DriverMySQL:
		if cfg.MySQL.DSN == "" {
			return fmt.Errorf("mysql.dsn is required")
		}
	case DriverMongo:
		if cfg.Mongo.URI == "" {
			return fmt.Errorf("mongo.uri is required")
		}
		if cfg.Mongo.Database == "" || cfg.Mongo.Collection == "" {
			return fmt.Errorf("mongo.database and mongo.collection are required")
		}
	default:
		return fmt.Errorf("storage.driver must be one of memory, postgres, sqlite, mysql, mongo")
	}
	if cfg.Storage.MaxMutateAttempts <= 0 {
		return fmt.Errorf("storage.max_mutate_attempts must be greater than 0")
	}

	needsRedis := cfg.Cache.Enabled || cfg.RateLimit.Enabled || cfg.Events.Driver == EventsRedis
	if needsRedis && !cfg.Redis.Enabled {
		return fmt.Errorf("redis.enabled is required by cache, ratelimit or redis events")
	}
	if cfg.Redis.Enabled {
		if cfg.Redis.Host == "" {
			return fmt.Errorf("redis.host is required")
		}
		if cfg.Redis.Port <= 0 {
			return fmt.Errorf("redis.port must be greater than 0")
		}
	}
	if cfg.Cache.Enabled && cfg.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be greater than 0")
	}

	switch cfg.Events.Driver {
	case EventsNone, EventsRedis:
	case EventsRabbitMQ:
		if cfg.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq.host is required")
		}
		if cfg.RabbitMQ.Port <= 0 {
			return fmt.Errorf("rabbitmq.port must be greater than 0")
		}
		if cfg.RabbitMQ.User == "" {
			return fmt.Errorf("rabbitmq.user is required")
		}
	default:
		return fmt.Errorf("events.driver must be one of none, redis, rabbitmq")
	}

	if cfg.Sweeper.Enabled && cfg.Sweeper.Interval <= 0 {
		return fmt.Errorf("sweeper.interval must be greater than 0")
	}

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.RequestsPerWindow <= 0 {
			return fmt.Errorf("ratelimit.requests_per_window must be greater than 0")
		}
		if cfg.RateLimit.Window <= 0 {
			return fmt.Errorf("ratelimit.window must be greater than 0")
		}
		if cfg.RateLimit.Burst <= 0 {
			return fmt.Errorf("ratelimit.burst must be greater than 0")
		}
		if cfg.RateLimit.GlobalRPS <= 0 || cfg.RateLimit.GlobalBurst <= 0 {
			return fmt.Errorf("ratelimit.global_rps and ratelimit.global_burst must be greater than 0")
		}
	}

	if cfg.Polls.MaxLinkAttempts <= 0 {
		return fmt.Errorf("polls.max_link_attempts must be greater than 0")
	}
	if cfg.Polls.RecentLimit <= 0 || cfg.Polls.RecentLimit > 50 {
		return fmt.Errorf("polls.recent_limit must be between 1 and 50")
	}

	return nil
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
