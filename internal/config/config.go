package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "DRAFTSYNC"
	defaultCachePath         = "draftsync.db"
	defaultLogLevel          = "info"
	defaultDebounceMillis    = 2000
	defaultFlushMillis       = 30000
	defaultRequestTimeoutSec = 15
)

// AppConfig captures runtime configuration for the draftsync CLI and library.
type AppConfig struct {
	APIBaseURL      string
	APIToken        string
	CachePath       string
	LogLevel        string
	Debounce        time.Duration
	FlushInterval   time.Duration
	RequestTimeout  time.Duration
	AutosaveEnabled bool
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

	configViper.SetDefault("cache.path", defaultCachePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("autosave.debounce_ms", defaultDebounceMillis)
	configViper.SetDefault("autosave.flush_interval_ms", defaultFlushMillis)
	configViper.SetDefault("autosave.enabled", true)
	configViper.SetDefault("api.request_timeout_s", defaultRequestTimeoutSec)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		APIBaseURL:      configViper.GetString("api.base_url"),
		APIToken:        configViper.GetString("api.token"),
		CachePath:       configViper.GetString("cache.path"),
		LogLevel:        configViper.GetString("log.level"),
		Debounce:        time.Duration(configViper.GetInt("autosave.debounce_ms")) * time.Millisecond,
		FlushInterval:   time.Duration(configViper.GetInt("autosave.flush_interval_ms")) * time.Millisecond,
		RequestTimeout:  time.Duration(configViper.GetInt("api.request_timeout_s")) * time.Second,
		AutosaveEnabled: configViper.GetBool("autosave.enabled"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if strings.TrimSpace(c.CachePath) == "" {
		return fmt.Errorf("cache.path is required")
	}
	if c.Debounce <= 0 {
		return fmt.Errorf("autosave.debounce_ms must be positive")
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("autosave.flush_interval_ms must be positive")
	}
	return nil
}
