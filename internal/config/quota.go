package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// QuotaOverride raises or lowers one resource limit for a tier without a
// redeploy. Overrides apply on top of the static tier defaults at
// provisioning time.
type QuotaOverride struct {
	Tier     string `mapstructure:"tier"`
	Resource string `mapstructure:"resource"`
	Limit    int64  `mapstructure:"limit"`
}

type QuotaConfig struct {
	Overrides []QuotaOverride `mapstructure:"overrides"`
}

// QuotaConfigHolder hot-reloads quota overrides from quotas.yml.
type QuotaConfigHolder struct {
	current atomic.Value // holds QuotaConfig
}

func NewQuotaConfigHolder() (*QuotaConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("quotas")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/tenantcore/config")
	v.AddConfigPath("/etc/tenantcore")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TENANTCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &QuotaConfigHolder{}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		holder.current.Store(QuotaConfig{})
		return holder, nil
	}

	var cfg QuotaConfig
	if err := v.UnmarshalKey("quota", &cfg); err != nil {
		return nil, err
	}
	if err := validateQuotaConfig(cfg); err != nil {
		return nil, err
	}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated QuotaConfig
		if err := v.UnmarshalKey("quota", &updated); err != nil {
			log.Printf("[quota-config] reload failed: %v", err)
			return
		}
		if err := validateQuotaConfig(updated); err != nil {
			log.Printf("[quota-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[quota-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *QuotaConfigHolder) Get() QuotaConfig {
	return h.current.Load().(QuotaConfig)
}

// LimitFor returns the override for (tier, resource), if one is configured.
func (h *QuotaConfigHolder) LimitFor(tierName, resource string) (int64, bool) {
	cfg := h.Get()
	for _, o := range cfg.Overrides {
		if strings.EqualFold(o.Tier, tierName) && strings.EqualFold(o.Resource, resource) {
			return o.Limit, true
		}
	}
	return 0, false
}

func validateQuotaConfig(cfg QuotaConfig) error {
	for _, o := range cfg.Overrides {
		if strings.TrimSpace(o.Tier) == "" || strings.TrimSpace(o.Resource) == "" {
			return errors.New("quota.overrides entries require tier and resource")
		}
		if o.Limit < 0 {
			return errors.New("quota.overrides limit cannot be negative")
		}
	}
	return nil
}
