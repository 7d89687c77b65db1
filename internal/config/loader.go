// Package config loads process configuration from config.yaml and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/eventingest/internal/db"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. EVENTINGEST_DATABASE_HOST.
const EnvPrefix = "EVENTINGEST"

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// StorageConfig selects where records and raw payloads live.
type StorageConfig struct {
	Backend  string `mapstructure:"backend" validate:"oneof=postgres memory"`
	Blobs    string `mapstructure:"blobs" validate:"oneof=s3 memory"`
	Bucket   string `mapstructure:"bucket" validate:"required_if=Blobs s3"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
	Prefix   string `mapstructure:"prefix"`
}

type FetchConfig struct {
	MaxFileSizeBytes int64         `mapstructure:"maxFileSizeBytes" validate:"gt=0"`
	Timeout          time.Duration `mapstructure:"timeout" validate:"gt=0"`
	UserAgent        string        `mapstructure:"userAgent"`
}

type PipelineConfig struct {
	BatchSize   int `mapstructure:"batchSize" validate:"gt=0"`
	Concurrency int `mapstructure:"concurrency" validate:"gt=0"`
	MaxAttempts int `mapstructure:"maxAttempts" validate:"gt=0"`
}

type QueueConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=memory redis"`
	Key     string `mapstructure:"key"`
}

type LockConfig struct {
	Backend string        `mapstructure:"backend" validate:"oneof=memory redis"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// QuotaConfig holds daily limits. Zero disables a limit.
type QuotaConfig struct {
	Backend          string `mapstructure:"backend" validate:"oneof=none memory redis"`
	URLImportsPerDay int64  `mapstructure:"urlImportsPerDay" validate:"gte=0"`
	FileBytesPerDay  int64  `mapstructure:"fileBytesPerDay" validate:"gte=0"`
}

type GeocoderConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	BaseURL           string  `mapstructure:"baseURL" validate:"omitempty,url"`
	APIKey            string  `mapstructure:"apiKey"`
	RequestsPerSecond float64 `mapstructure:"requestsPerSecond" validate:"gte=0"`
}

// SchedulerConfig drives the maintenance cron. StaleJobAfter of zero
// disables failing jobs that stopped making progress.
type SchedulerConfig struct {
	CleanupCron      string        `mapstructure:"cleanupCron" validate:"required"`
	ScheduleScanCron string        `mapstructure:"scheduleScanCron" validate:"required"`
	StaleJobAfter    time.Duration `mapstructure:"staleJobAfter" validate:"gte=0"`
}

type HTTPConfig struct {
	Addr           string   `mapstructure:"addr" validate:"required"`
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=text json"`
}

// Config is the full process configuration.
type Config struct {
	Database  db.Config       `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Lock      LockConfig      `mapstructure:"lock"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Geocoder  GeocoderConfig  `mapstructure:"geocoder"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Log       LogConfig       `mapstructure:"log"`

	file string
}

// File returns the config file that was read, or "" when only defaults and env were used.
func (c Config) File() string {
	return c.file
}

// NeedsRedis reports whether any component is backed by Redis.
func (c Config) NeedsRedis() bool {
	return c.Queue.Backend == "redis" || c.Lock.Backend == "redis" || c.Quota.Backend == "redis"
}

func setDefaults(v *viper.Viper) {
	dbDefaults := db.DefaultConfig()
	v.SetDefault("database.host", dbDefaults.Host)
	v.SetDefault("database.port", dbDefaults.Port)
	v.SetDefault("database.user", dbDefaults.User)
	v.SetDefault("database.password", dbDefaults.Password)
	v.SetDefault("database.dbname", dbDefaults.DBName)
	v.SetDefault("database.sslmode", dbDefaults.SSLMode)
	v.SetDefault("database.maxConns", 10)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("storage.backend", "postgres")
	v.SetDefault("storage.blobs", "memory")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.prefix", "")

	v.SetDefault("fetch.maxFileSizeBytes", int64(100*1024*1024))
	v.SetDefault("fetch.timeout", 60*time.Second)
	v.SetDefault("fetch.userAgent", "eventingest-fetcher/1.0")

	v.SetDefault("pipeline.batchSize", 100)
	v.SetDefault("pipeline.concurrency", 4)
	v.SetDefault("pipeline.maxAttempts", 3)

	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.key", "eventingest:tasks")

	v.SetDefault("lock.backend", "memory")
	v.SetDefault("lock.ttl", 10*time.Minute)

	v.SetDefault("quota.backend", "none")
	v.SetDefault("quota.urlImportsPerDay", 0)
	v.SetDefault("quota.fileBytesPerDay", 0)

	v.SetDefault("geocoder.enabled", false)
	v.SetDefault("geocoder.baseURL", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocoder.apiKey", "")
	v.SetDefault("geocoder.requestsPerSecond", 1.0)

	v.SetDefault("scheduler.cleanupCron", "*/5 * * * *")
	v.SetDefault("scheduler.scheduleScanCron", "* * * * *")
	v.SetDefault("scheduler.staleJobAfter", 2*time.Hour)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.allowedOrigins", []string{"*"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads config.yaml from configPath when present, applies EVENTINGEST_*
// environment overrides and validates the result.
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var file string
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		file = v.ConfigFileUsed()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.file = file

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
