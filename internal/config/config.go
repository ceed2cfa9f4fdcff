package config

import (
	"log/slog"
	"time"
)

// Config aggregates all application configuration.
type Config struct {
	HTTP        HTTPConfig        `mapstructure:"http"`
	Log         LogConfig         `mapstructure:"log"`
	DB          DBConfig          `mapstructure:"database"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Panel       PanelConfig       `mapstructure:"panel"`
	Provision   ProvisionConfig   `mapstructure:"provision"`
	Entitlement EntitlementConfig `mapstructure:"entitlement"`
	Billing     BillingConfig     `mapstructure:"billing"`
	Jobs        JobsConfig        `mapstructure:"jobs"`
}

// HTTPConfig defines the trigger API server settings.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig defines logging behavior.
type LogConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	AddSource bool   `mapstructure:"add_source"`
}

// DBConfig defines database settings.
type DBConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// MetricsConfig defines Prometheus exposure.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Token     string `mapstructure:"token"`
}

// PanelConfig covers outbound calls to remote panel backends.
type PanelConfig struct {
	Timeout              time.Duration `mapstructure:"timeout"`
	InsecureSkipVerify   bool          `mapstructure:"insecure_skip_verify"`
	DefaultAccountPrefix string        `mapstructure:"default_account_prefix"`
}

// ProvisionConfig bounds retry and outbound request rate for bulk sweeps.
type ProvisionConfig struct {
	MaxAttempts   int           `mapstructure:"max_attempts"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	RateBurst     int           `mapstructure:"rate_burst"`
}

// EntitlementConfig holds the tunables of the traffic/time state machine.
// Injected into the enforcer constructor, never read from globals.
type EntitlementConfig struct {
	GracePercent  int64  `mapstructure:"grace_percent"`
	GraceMinBytes int64  `mapstructure:"grace_min_bytes"`
	Timezone      string `mapstructure:"timezone"`
}

// BillingConfig holds wallet metering tunables.
type BillingConfig struct {
	DefaultPricePerGB int64 `mapstructure:"default_price_per_gb"`
	SuspendThreshold  int64 `mapstructure:"suspend_threshold"`
}

// JobsConfig carries cron specs and the sweep lock TTL.
type JobsConfig struct {
	EnforcementSpec string        `mapstructure:"enforcement_spec"`
	WalletSpec      string        `mapstructure:"wallet_spec"`
	UsageSyncSpec   string        `mapstructure:"usage_sync_spec"`
	ReconcileSpec   string        `mapstructure:"reconcile_spec"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
}

func (c LogConfig) SlogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
