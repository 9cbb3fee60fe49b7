package config

import (
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Knowledge KnowledgeConfig
	Generator GeneratorConfig
	Publisher PublisherConfig
	Metrics   MetricsConfig
}

type ServerConfig struct {
	Port      string
	Mode      string
	JWTSecret string
}

type DatabaseConfig struct {
	URL            string
	MaxConnections int
	MaxIdleConns   int
}

type RedisConfig struct {
	URL string
}

type SchedulerConfig struct {
	CheckInterval time.Duration
	BatchSize     int
	MaxRetries    int
	RetryDelay    time.Duration
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	DailyLimit        int
	KeyPrefix         string
}

type CacheConfig struct {
	MaxSize             int
	SimilarityThreshold float64
	TTL                 time.Duration
}

type KnowledgeConfig struct {
	SimilarityThreshold float64
	MaxResults          int
}

type GeneratorConfig struct {
	Mode        string
	Endpoint    string
	APIKey      string
	Model       string
	MaxAttempts int
	MaxLength   int
}

type PublisherConfig struct {
	Mode              string
	Endpoint          string
	AccessToken       string
	RequestsPerSecond float64
}

type MetricsConfig struct {
	Port string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetEnvPrefix("POSTPILOT")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("database.maxconnections", 25)
	viper.SetDefault("database.maxidleconns", 5)
	viper.SetDefault("redis.url", "redis://localhost:6379/0")
	viper.SetDefault("scheduler.checkinterval", "60s")
	viper.SetDefault("scheduler.batchsize", 10)
	viper.SetDefault("scheduler.maxretries", 3)
	viper.SetDefault("scheduler.retrydelay", "5m")
	viper.SetDefault("ratelimit.requestspersecond", 1.0)
	viper.SetDefault("ratelimit.burstsize", 5)
	viper.SetDefault("ratelimit.dailylimit", 50)
	viper.SetDefault("ratelimit.keyprefix", "postpilot")
	viper.SetDefault("cache.maxsize", 1000)
	viper.SetDefault("cache.similaritythreshold", 0.7)
	viper.SetDefault("cache.ttl", "1h")
	viper.SetDefault("knowledge.similaritythreshold", 0.7)
	viper.SetDefault("knowledge.maxresults", 5)
	viper.SetDefault("generator.mode", "mock")
	viper.SetDefault("generator.model", "gpt-4")
	viper.SetDefault("generator.maxattempts", 3)
	viper.SetDefault("generator.maxlength", 280)
	viper.SetDefault("publisher.mode", "mock")
	viper.SetDefault("publisher.requestspersecond", 2.0)
	viper.SetDefault("metrics.port", "9090")

	var cfg Config
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Override with environment variables
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Server.JWTSecret = secret
	}
	if key := os.Getenv("GENERATOR_API_KEY"); key != "" {
		cfg.Generator.APIKey = key
	}
	if token := os.Getenv("PUBLISHER_ACCESS_TOKEN"); token != "" {
		cfg.Publisher.AccessToken = token
	}

	return &cfg, nil
}
