package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "INKWELL"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabasePath     = "inkwell.db"
	defaultRedisAddress     = "127.0.0.1:6379"
	defaultLogLevel         = "info"
	defaultTokenTTLMinutes  = 30
	defaultRefreshTTLDays   = 7
	defaultFlushSchedule    = "0 4 * * *"
	defaultPopularSchedule  = "0 * * * *"
	defaultHeartbeatSeconds = 25
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	RedisAddress       string
	RedisPassword      string
	RedisDB            int
	SigningSecret      string
	TokenTTL           time.Duration
	RefreshTokenTTL    time.Duration
	LogLevel           string
	FlushSchedule      string
	PopularitySchedule string
	HeartbeatInterval  time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("redis.address", defaultRedisAddress)
	configViper.SetDefault("redis.password", "")
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("token.refresh_ttl_days", defaultRefreshTTLDays)
	configViper.SetDefault("jobs.flush_schedule", defaultFlushSchedule)
	configViper.SetDefault("jobs.popularity_schedule", defaultPopularSchedule)
	configViper.SetDefault("realtime.heartbeat_seconds", defaultHeartbeatSeconds)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabasePath:       configViper.GetString("database.path"),
		RedisAddress:       configViper.GetString("redis.address"),
		RedisPassword:      configViper.GetString("redis.password"),
		RedisDB:            configViper.GetInt("redis.db"),
		SigningSecret:      configViper.GetString("auth.signing_secret"),
		TokenTTL:           time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		RefreshTokenTTL:    time.Duration(configViper.GetInt("token.refresh_ttl_days")) * 24 * time.Hour,
		LogLevel:           configViper.GetString("log.level"),
		FlushSchedule:      configViper.GetString("jobs.flush_schedule"),
		PopularitySchedule: configViper.GetString("jobs.popularity_schedule"),
		HeartbeatInterval:  time.Duration(configViper.GetInt("realtime.heartbeat_seconds")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.RedisAddress) == "" {
		return fmt.Errorf("redis.address is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	if c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token.refresh_ttl_days must be positive")
	}
	if strings.TrimSpace(c.FlushSchedule) == "" {
		return fmt.Errorf("jobs.flush_schedule is required")
	}
	if strings.TrimSpace(c.PopularitySchedule) == "" {
		return fmt.Errorf("jobs.popularity_schedule is required")
	}
	return nil
}
