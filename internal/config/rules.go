package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// RulesConfig tunes the upload validation rules and runner behaviour without a rebuild.
type RulesConfig struct {
	MinDriverAgeYears int           `mapstructure:"minDriverAgeYears"`
	MaxAttempts       int           `mapstructure:"maxAttempts"`
	BackoffBase       time.Duration `mapstructure:"backoffBase"`
	AttemptTimeout    time.Duration `mapstructure:"attemptTimeout"`
	PoolWorkers       int           `mapstructure:"poolWorkers"`
}

func DefaultRulesConfig() RulesConfig {
	return RulesConfig{
		MinDriverAgeYears: 18,
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		AttemptTimeout:    5 * time.Minute,
		PoolWorkers:       4,
	}
}

// RulesConfigHolder serves the current rules config and hot-reloads it on file change.
type RulesConfigHolder struct {
	current atomic.Value // holds RulesConfig
}

func NewRulesConfigHolder() (*RulesConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("rules")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/fleetdesk/config")
	v.AddConfigPath("/etc/fleetdesk")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FLEETDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultRulesConfig()
	v.SetDefault("upload.minDriverAgeYears", defaults.MinDriverAgeYears)
	v.SetDefault("upload.maxAttempts", defaults.MaxAttempts)
	v.SetDefault("upload.backoffBase", defaults.BackoffBase)
	v.SetDefault("upload.attemptTimeout", defaults.AttemptTimeout)
	v.SetDefault("upload.poolWorkers", defaults.PoolWorkers)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg RulesConfig
	if err := v.UnmarshalKey("upload", &cfg); err != nil {
		return nil, err
	}
	if err := validateRulesConfig(cfg); err != nil {
		return nil, err
	}

	holder := &RulesConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated RulesConfig
		if err := v.UnmarshalKey("upload", &updated); err != nil {
			log.Printf("[rules-config] reload failed: %v", err)
			return
		}
		if err := validateRulesConfig(updated); err != nil {
			log.Printf("[rules-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[rules-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *RulesConfigHolder) Get() RulesConfig {
	return h.current.Load().(RulesConfig)
}

// NewStaticRulesConfigHolder wraps a fixed config, bypassing file watching.
func NewStaticRulesConfigHolder(cfg RulesConfig) *RulesConfigHolder {
	holder := &RulesConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func validateRulesConfig(cfg RulesConfig) error {
	if cfg.MinDriverAgeYears <= 0 {
		return errors.New("upload.minDriverAgeYears must be positive")
	}
	if cfg.MaxAttempts <= 0 {
		return errors.New("upload.maxAttempts must be positive")
	}
	if cfg.BackoffBase <= 0 {
		return errors.New("upload.backoffBase must be positive")
	}
	if cfg.AttemptTimeout <= 0 {
		return errors.New("upload.attemptTimeout must be positive")
	}
	return nil
}
