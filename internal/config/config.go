// Package config loads service settings from an optional YAML file, a
// .env file and TUTORHUB_* environment variables, in increasing order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "TUTORHUB"

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Broker   BrokerConfig   `mapstructure:"broker"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Hub      HubConfig      `mapstructure:"hub"`
}

type AppConfig struct {
	Name            string        `mapstructure:"name"`
	Addr            string        `mapstructure:"addr"`
	LogLevel        string        `mapstructure:"log_level"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig is optional: an empty Addr disables Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

type BrokerConfig struct {
	// Driver is "local", "redis" or "nats".
	Driver     string `mapstructure:"driver"`
	Topic      string `mapstructure:"topic"`
	BufferSize int    `mapstructure:"buffer_size"`
}

type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	Required bool          `mapstructure:"required"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

type HubConfig struct {
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	PublishQueue   int           `mapstructure:"publish_queue"`
	MirrorPresence bool          `mapstructure:"mirror_presence"`
	MirrorQueue    int           `mapstructure:"mirror_queue"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "tutorhub")
	v.SetDefault("app.addr", ":8080")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "host=localhost user=user password=password dbname=tutorhub port=5432 sslmode=disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)

	v.SetDefault("broker.driver", "local")
	v.SetDefault("broker.topic", "tutorhub.events")
	v.SetDefault("broker.buffer_size", 1024)

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "tutorhub")
	v.SetDefault("auth.required", false)
	v.SetDefault("auth.token_ttl", 72*time.Hour)

	v.SetDefault("hub.idle_timeout", 60*time.Second)
	v.SetDefault("hub.publish_queue", 1024)
	v.SetDefault("hub.mirror_presence", true)
	v.SetDefault("hub.mirror_queue", 1024)
}

// Load reads the configuration. configPath may be empty, in which case
// config.yaml is looked up in . and ./configs and is optional.
func Load(configPath string) (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("config: database.dsn is required")
	}

	switch c.Broker.Driver {
	case "local":
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("config: broker.driver=redis needs redis.addr")
		}
	case "nats":
		if c.NATS.URL == "" {
			return errors.New("config: broker.driver=nats needs nats.url")
		}
	default:
		return fmt.Errorf("config: unknown broker driver %q", c.Broker.Driver)
	}

	if c.Auth.Required && c.Auth.Secret == "" {
		return errors.New("config: auth.required needs auth.secret")
	}
	if c.Hub.IdleTimeout < 0 {
		return errors.New("config: hub.idle_timeout must not be negative")
	}
	return nil
}

// RedisEnabled reports whether a Redis server is configured.
func (c *Config) RedisEnabled() bool {
	return c.Redis.Addr != ""
}
