package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Database DatabaseConfig
	Issuer   IssuerConfig
	Quota    QuotaConfig
	Reserve  ReserveConfig
	Admin    AdminConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type IssuerConfig struct {
	PrivateKey      string `mapstructure:"private_key"`
	InstanceAddress string `mapstructure:"instance_address"`
	ChainID         int64  `mapstructure:"chain_id"`
	VoucherTTLHours int64  `mapstructure:"voucher_ttl_hours"`
}

type QuotaConfig struct {
	Allowance   int64 `mapstructure:"allowance"`
	WindowHours int64 `mapstructure:"window_hours"`
}

type ReserveConfig struct {
	UnitPriceWei     string `mapstructure:"unit_price_wei"`
	ReconIntervalSec int64  `mapstructure:"recon_interval_sec"`
}

type AdminConfig struct {
	Addresses string `mapstructure:"addresses"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("issuer.voucher_ttl_hours", 720)
	v.SetDefault("quota.allowance", 3)
	v.SetDefault("quota.window_hours", 24)
	v.SetDefault("reserve.unit_price_wei", "1000000000000000")
	v.SetDefault("reserve.recon_interval_sec", 300)
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"server.port":                "PORT",
		"redis.addr":                 "REDIS_ADDR",
		"redis.password":             "REDIS_PASSWORD",
		"database.url":               "DATABASE_URL",
		"issuer.private_key":         "ISSUER_SIGNING_KEY",
		"issuer.instance_address":    "INSTANCE_ADDRESS",
		"issuer.chain_id":            "CHAIN_ID",
		"issuer.voucher_ttl_hours":   "VOUCHER_TTL_HOURS",
		"quota.allowance":            "QUOTA_ALLOWANCE",
		"quota.window_hours":         "QUOTA_WINDOW_HOURS",
		"reserve.unit_price_wei":     "UNIT_PRICE_WEI",
		"reserve.recon_interval_sec": "RECON_INTERVAL_SEC",
		"admin.addresses":            "ADMIN_ADDRESSES",
		"log.file":                   "LOG_FILE",
		"log.max_size_mb":            "LOG_MAX_SIZE_MB",
		"log.max_backups":            "LOG_MAX_BACKUPS",
		"log.max_age_days":           "LOG_MAX_AGE_DAYS",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

// AdminList splits the configured comma-separated admin allowlist. Entries
// are trimmed but not validated as addresses; callers parse them.
func (c *Config) AdminList() []string {
	if strings.TrimSpace(c.Admin.Addresses) == "" {
		return nil
	}
	parts := strings.Split(c.Admin.Addresses, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	for _, r := range []req{
		{c.Database.URL, "DATABASE_URL"},
		{c.Issuer.PrivateKey, "ISSUER_SIGNING_KEY"},
		{c.Issuer.InstanceAddress, "INSTANCE_ADDRESS"},
	} {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}
	if c.Issuer.ChainID == 0 {
		return fmt.Errorf("required config missing: CHAIN_ID")
	}
	if c.Quota.Allowance <= 0 {
		return fmt.Errorf("QUOTA_ALLOWANCE must be positive, got %d", c.Quota.Allowance)
	}
	if c.Quota.WindowHours <= 0 {
		return fmt.Errorf("QUOTA_WINDOW_HOURS must be positive, got %d", c.Quota.WindowHours)
	}
	return nil
}
