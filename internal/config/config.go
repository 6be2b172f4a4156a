package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "STOCKSYNC"

type Config struct {
	LogLevel string         `mapstructure:"log_level"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Client   ClientConfig   `mapstructure:"client"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
	GRPCAddr string `mapstructure:"grpc_addr"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// RedisConfig configures the replay guard. An empty Addr disables it.
type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	ReplayTTL time.Duration `mapstructure:"replay_ttl"`

	// ClaimTTL is how long a pending claim lives. Each action apply is
	// bounded to half of it.
	ClaimTTL time.Duration `mapstructure:"claim_ttl"`
}

// RabbitMQConfig configures low-stock publishing. An empty URL selects the
// log notifier.
type RabbitMQConfig struct {
	URL        string `mapstructure:"url"`
	Exchange   string `mapstructure:"exchange"`
	RoutingKey string `mapstructure:"routing_key"`
}

type NotifyConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type ClientConfig struct {
	QueuePath     string        `mapstructure:"queue_path"`
	ServerAddr    string        `mapstructure:"server_addr"`
	DeviceID      string        `mapstructure:"device_id"`
	ActorID       string        `mapstructure:"actor_id"`
	BatchTimeout  time.Duration `mapstructure:"batch_timeout"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	ProbeStable   int           `mapstructure:"probe_stable"`
	DropRejected  bool          `mapstructure:"drop_rejected"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.grpc_addr", ":50051")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.dsn", "root:root@tcp(localhost:3306)/stocksync?parseTime=true")
	v.SetDefault("database.max_open_conns", 50)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.replay_ttl", 24*time.Hour)
	v.SetDefault("redis.claim_ttl", time.Minute)

	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.exchange", "events.inventory")
	v.SetDefault("rabbitmq.routing_key", "inventory.low_stock")

	v.SetDefault("notify.timeout", 5*time.Second)

	v.SetDefault("client.queue_path", "stocksync-queue.db")
	v.SetDefault("client.server_addr", "localhost:50051")
	v.SetDefault("client.device_id", "")
	v.SetDefault("client.actor_id", "")
	v.SetDefault("client.batch_timeout", 30*time.Second)
	v.SetDefault("client.probe_interval", 5*time.Second)
	v.SetDefault("client.probe_stable", 2)
	v.SetDefault("client.drop_rejected", false)
	v.SetDefault("client.max_attempts", 0)
}

// Load reads defaults, then the config file if one is given or found as
// stocksync.yaml in the working directory, then STOCKSYNC_* environment
// variables (server.http_addr becomes STOCKSYNC_SERVER_HTTP_ADDR).
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("stocksync")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite3":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Client.ProbeStable < 1 {
		return fmt.Errorf("client.probe_stable must be at least 1, got %d", c.Client.ProbeStable)
	}
	if c.Client.MaxAttempts < 0 {
		return fmt.Errorf("client.max_attempts must not be negative, got %d", c.Client.MaxAttempts)
	}
	return nil
}
