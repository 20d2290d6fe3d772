package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"bookstore/internal/logger"
	"bookstore/internal/schema"
	"bookstore/internal/storage"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DriverMemory keeps the inventory in process memory instead of a database.
const DriverMemory = "memory"

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
	Env  string
}

// InventoryConfig tunes the store and its change notifications.
type InventoryConfig struct {
	PageSize         int
	SubscriberBuffer int
	SeedDemo         bool
}

// RabbitMQConfig holds broker configuration. An empty URL disables
// forwarding. Consume also logs the events read back from the queue.
type RabbitMQConfig struct {
	URL           string
	Queue         string
	PublishBuffer int
	Consume       bool
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Prefix string
}

// Config holds all configuration
type Config struct {
	ServiceName string
	Server      ServerConfig
	Log         logger.LogConfig
	DB          storage.Config
	Inventory   InventoryConfig
	RabbitMQ    RabbitMQConfig
	Metrics     MetricsConfig
}

// SetDefaults registers the default for every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", ":8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("SERVICE_NAME", "inventory")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("DB_DRIVER", schema.DialectSQLite)
	v.SetDefault("DB_PATH", "data/inventory.db")
	v.SetDefault("DATABASE_DSN", "")
	v.SetDefault("DB_MAX_IDLE_CONNS", 2)
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_CONN_MAX_LIFETIME", time.Hour)

	v.SetDefault("LIST_PAGE_SIZE", 50)
	v.SetDefault("SUBSCRIBER_BUFFER", 16)
	v.SetDefault("SEED_DEMO", false)

	v.SetDefault("RABBITMQ_URL", "")
	v.SetDefault("RABBITMQ_QUEUE", "inventory_changes")
	v.SetDefault("RABBITMQ_PUBLISH_BUFFER", 256)
	v.SetDefault("RABBITMQ_CONSUME", false)

	v.SetDefault("METRICS_PREFIX", "bookstore")
}

// Load reads configuration from the environment, after loading envFiles
// (default ".env") into it. Missing env files are skipped.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	v := viper.New()
	SetDefaults(v)
	v.AutomaticEnv()
	return FromViper(v)
}

// FromViper builds a Config from v and checks it.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		ServiceName: v.GetString("SERVICE_NAME"),
		Server: ServerConfig{
			Port: v.GetString("APP_PORT"),
			Env:  v.GetString("APP_ENV"),
		},
		DB: storage.Config{
			Driver:          v.GetString("DB_DRIVER"),
			Path:            v.GetString("DB_PATH"),
			DSN:             v.GetString("DATABASE_DSN"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		},
		Inventory: InventoryConfig{
			PageSize:         v.GetInt("LIST_PAGE_SIZE"),
			SubscriberBuffer: v.GetInt("SUBSCRIBER_BUFFER"),
			SeedDemo:         v.GetBool("SEED_DEMO"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:           v.GetString("RABBITMQ_URL"),
			Queue:         v.GetString("RABBITMQ_QUEUE"),
			PublishBuffer: v.GetInt("RABBITMQ_PUBLISH_BUFFER"),
			Consume:       v.GetBool("RABBITMQ_CONSUME"),
		},
		Metrics: MetricsConfig{
			Prefix: v.GetString("METRICS_PREFIX"),
		},
	}
	cfg.Log = logger.LogConfig{
		Level:       v.GetString("LOG_LEVEL"),
		Environment: cfg.Server.Env,
		ServiceName: cfg.ServiceName,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case schema.DialectSQLite:
		if c.DB.Path == "" {
			return errors.New("DB_PATH is required for the sqlite driver")
		}
	case schema.DialectPostgres:
		if c.DB.DSN == "" {
			return errors.New("DATABASE_DSN is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DB.Driver)
	}
	if c.Inventory.PageSize < 1 {
		return fmt.Errorf("LIST_PAGE_SIZE must be positive, got %d", c.Inventory.PageSize)
	}
	if c.Inventory.SubscriberBuffer < 1 {
		return fmt.Errorf("SUBSCRIBER_BUFFER must be positive, got %d", c.Inventory.SubscriberBuffer)
	}
	if c.RabbitMQ.URL != "" && c.RabbitMQ.Queue == "" {
		return errors.New("RABBITMQ_QUEUE is required when RABBITMQ_URL is set")
	}
	if c.RabbitMQ.PublishBuffer < 1 {
		return fmt.Errorf("RABBITMQ_PUBLISH_BUFFER must be positive, got %d", c.RabbitMQ.PublishBuffer)
	}
	return nil
}
