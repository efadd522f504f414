package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "REFLECTIONS"

	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "reflections.db"
	defaultLogLevel          = "info"
	defaultModerationBaseURL = "https://api.openai.com"
	defaultModerationModel   = "omni-moderation-latest"
	defaultModerationTimeout = 10
	defaultCooldownSeconds   = 60
	defaultFeedLimit         = 100
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	DatabasePath      string
	LogLevel          string
	ModerationAPIKey  string
	ModerationBaseURL string
	ModerationModel   string
	ModerationTimeout time.Duration
	Cooldown          time.Duration
	RedisAddr         string
	FeedLimit         int
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
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("moderation.base_url", defaultModerationBaseURL)
	configViper.SetDefault("moderation.model", defaultModerationModel)
	configViper.SetDefault("moderation.timeout_seconds", defaultModerationTimeout)
	configViper.SetDefault("rate_limit.cooldown_seconds", defaultCooldownSeconds)
	configViper.SetDefault("rate_limit.redis_addr", "")
	configViper.SetDefault("feed.limit", defaultFeedLimit)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
		ModerationAPIKey:  configViper.GetString("moderation.api_key"),
		ModerationBaseURL: configViper.GetString("moderation.base_url"),
		ModerationModel:   configViper.GetString("moderation.model"),
		ModerationTimeout: time.Duration(configViper.GetInt("moderation.timeout_seconds")) * time.Second,
		Cooldown:          time.Duration(configViper.GetInt("rate_limit.cooldown_seconds")) * time.Second,
		RedisAddr:         strings.TrimSpace(configViper.GetString("rate_limit.redis_addr")),
		FeedLimit:         configViper.GetInt("feed.limit"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.ModerationAPIKey) == "" {
		return fmt.Errorf("moderation.api_key is required")
	}
	if strings.TrimSpace(c.ModerationBaseURL) == "" {
		return fmt.Errorf("moderation.base_url is required")
	}
	if c.ModerationTimeout <= 0 {
		return fmt.Errorf("moderation.timeout_seconds must be positive")
	}
	if c.Cooldown <= 0 {
		return fmt.Errorf("rate_limit.cooldown_seconds must be positive")
	}
	if c.FeedLimit <= 0 {
		return fmt.Errorf("feed.limit must be positive")
	}
	return nil
}
