package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything a chat worker process needs.
type Config struct {
	Mongo   MongoConfig   `mapstructure:"mongo"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// MongoConfig locates the record store.
type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// RedisConfig locates the task-queue transport.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns host:port.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WorkerConfig tunes queue consumption and retries.
type WorkerConfig struct {
	// Queues lists the queues this worker consumes, first one is the default
	// queue for unbound commands.
	Queues []string `mapstructure:"queues"`
	// Retries maps queue names to retry ceilings; unnamed queues retry
	// without limit.
	Retries      map[string]int `mapstructure:"retries"`
	PollTimeout  time.Duration  `mapstructure:"poll_timeout"`
	RetryInitial time.Duration  `mapstructure:"retry_initial"`
	RetryMax     time.Duration  `mapstructure:"retry_max"`
}

// DefaultQueue returns the queue unbound commands go to.
func (c WorkerConfig) DefaultQueue() string {
	if len(c.Queues) == 0 {
		return "chat-worker"
	}
	return c.Queues[0]
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from CONFIG_PATH (default ./configs/config.yaml)
// and the environment. A missing file is fine; defaults and env vars apply.
func Load() (*Config, error) {
	v := viper.New()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); !ok {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("CHATLOOM")
	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "chatloom")
	v.SetDefault("mongo.collection", "records")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("worker.queues", []string{"chat-worker"})
	v.SetDefault("worker.poll_timeout", "1s")
	v.SetDefault("worker.retry_initial", "2s")
	v.SetDefault("worker.retry_max", "5m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("mongo.uri", "CHATLOOM_MONGO_URI")
	_ = v.BindEnv("mongo.database", "CHATLOOM_MONGO_DATABASE")
	_ = v.BindEnv("redis.host", "CHATLOOM_REDIS_HOST")
	_ = v.BindEnv("redis.port", "CHATLOOM_REDIS_PORT")
	_ = v.BindEnv("redis.password", "CHATLOOM_REDIS_PASSWORD")
	_ = v.BindEnv("logging.level", "CHATLOOM_LOG_LEVEL")
	_ = v.BindEnv("logging.format", "CHATLOOM_LOG_FORMAT")
}
