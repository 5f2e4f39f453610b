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

// DispatchConfig tunes the outbox dispatcher and the webhook acknowledgement
// policy. It is loaded from dispatch.yml and hot-reloaded on change so the
// ack policy can be flipped without redeploying either process.
type DispatchConfig struct {
	// AckUnknownInvoice controls whether a webhook for an invoice we do not
	// know is acknowledged with 200 (suppresses gateway retry storms) or
	// rejected with 404.
	AckUnknownInvoice bool          `mapstructure:"ackUnknownInvoice"`
	PollInterval      time.Duration `mapstructure:"pollInterval"`
	BatchSize         int           `mapstructure:"batchSize"`
	Workers           int           `mapstructure:"workers"`
	LeaseTTL          time.Duration `mapstructure:"leaseTTL"`
	MaxAttempts       int           `mapstructure:"maxAttempts"`
	BaseBackoff       time.Duration `mapstructure:"baseBackoff"`
	MaxBackoff        time.Duration `mapstructure:"maxBackoff"`
}

func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{
		AckUnknownInvoice: true,
		PollInterval:      5 * time.Second,
		BatchSize:         20,
		Workers:           4,
		LeaseTTL:          time.Minute,
		MaxAttempts:       10,
		BaseBackoff:       10 * time.Second,
		MaxBackoff:        15 * time.Minute,
	}
}

type DispatchConfigHolder struct {
	current atomic.Value // holds DispatchConfig
}

func NewDispatchConfigHolder() (*DispatchConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("dispatch")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/bitvend")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BITVEND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultDispatchConfig()
	v.SetDefault("dispatch.ackUnknownInvoice", defaults.AckUnknownInvoice)
	v.SetDefault("dispatch.pollInterval", defaults.PollInterval)
	v.SetDefault("dispatch.batchSize", defaults.BatchSize)
	v.SetDefault("dispatch.workers", defaults.Workers)
	v.SetDefault("dispatch.leaseTTL", defaults.LeaseTTL)
	v.SetDefault("dispatch.maxAttempts", defaults.MaxAttempts)
	v.SetDefault("dispatch.baseBackoff", defaults.BaseBackoff)
	v.SetDefault("dispatch.maxBackoff", defaults.MaxBackoff)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		watch = false
	}

	var cfg DispatchConfig
	if err := v.UnmarshalKey("dispatch", &cfg); err != nil {
		return nil, err
	}
	if err := validateDispatchConfig(cfg); err != nil {
		return nil, err
	}

	holder := &DispatchConfigHolder{}
	holder.current.Store(cfg)

	if watch {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated DispatchConfig
			if err := v.UnmarshalKey("dispatch", &updated); err != nil {
				log.Printf("[dispatch-config] reload failed: %v", err)
				return
			}
			if err := validateDispatchConfig(updated); err != nil {
				log.Printf("[dispatch-config] invalid config ignored: %v", err)
				return
			}
			holder.current.Store(updated)
			log.Printf("[dispatch-config] reloaded from %s", e.Name)
		})
	}

	return holder, nil
}

func (h *DispatchConfigHolder) Get() DispatchConfig {
	return h.current.Load().(DispatchConfig)
}

// HolderFor wraps a fixed config, for tests.
func HolderFor(cfg DispatchConfig) *DispatchConfigHolder {
	holder := &DispatchConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func validateDispatchConfig(cfg DispatchConfig) error {
	if cfg.PollInterval <= 0 {
		return errors.New("dispatch.pollInterval must be positive")
	}
	if cfg.BatchSize <= 0 {
		return errors.New("dispatch.batchSize must be positive")
	}
	if cfg.Workers <= 0 {
		return errors.New("dispatch.workers must be positive")
	}
	if cfg.LeaseTTL <= 0 {
		return errors.New("dispatch.leaseTTL must be positive")
	}
	if cfg.MaxAttempts <= 0 {
		return errors.New("dispatch.maxAttempts must be positive")
	}
	return nil
}
