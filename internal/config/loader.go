package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file, environment and defaults.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/resellerd/")

	v.SetEnvPrefix("RESELLERD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Missing config file is fine; env vars and defaults carry the rest.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", "0.0.0.0:8088")
	v.SetDefault("http.shutdown_timeout", "15s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/resellerd.db")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "resellerd")

	v.SetDefault("panel.timeout", "30s")
	v.SetDefault("panel.default_account_prefix", "resell")

	v.SetDefault("provision.max_attempts", 3)
	v.SetDefault("provision.retry_interval", "500ms")
	v.SetDefault("provision.rate_per_second", 3.0)
	v.SetDefault("provision.rate_burst", 1)

	v.SetDefault("entitlement.grace_percent", 2)
	v.SetDefault("entitlement.grace_min_bytes", 52428800) // 50 MiB
	v.SetDefault("entitlement.timezone", "UTC")

	v.SetDefault("billing.default_price_per_gb", 0)
	v.SetDefault("billing.suspend_threshold", 0)

	v.SetDefault("jobs.enforcement_spec", "@every 5m")
	v.SetDefault("jobs.wallet_spec", "@every 15m")
	v.SetDefault("jobs.usage_sync_spec", "@every 10m")
	v.SetDefault("jobs.reconcile_spec", "@every 30m")
	v.SetDefault("jobs.lock_ttl", "10m")
}
