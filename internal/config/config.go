// Package config loads process configuration for the control plane.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig
	Store  StoreConfig
	Redis  RedisConfig
	Seed   SeedConfig
}

type ServerConfig struct {
	ListenAddr string
	Mode       string
}

type StoreConfig struct {
	Path string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Enabled  bool
}

type SeedConfig struct {
	AdminEmail      string
	AdminPassword   string
	SessionTTL      time.Duration
	ReconcileEvery  time.Duration
	StopRetryDelay  time.Duration
	StopRetryCount  int
}

// Load reads configuration from environment variables prefixed CP_, with
// sensible defaults for local operation. path may point to an optional
// YAML file; an empty path skips file loading entirely.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("не удалось прочитать конфигурацию: %w", err)
		}
	}

	v.SetEnvPrefix("CP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			ListenAddr: v.GetString("server.listenAddr"),
			Mode:       v.GetString("server.mode"),
		},
		Store: StoreConfig{
			Path: v.GetString("store.path"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Enabled:  v.GetBool("redis.enabled"),
		},
		Seed: SeedConfig{
			AdminEmail:     v.GetString("seed.adminEmail"),
			AdminPassword:  v.GetString("seed.adminPassword"),
			SessionTTL:     v.GetDuration("seed.sessionTTL"),
			ReconcileEvery: v.GetDuration("seed.reconcileEvery"),
			StopRetryDelay: v.GetDuration("seed.stopRetryDelay"),
			StopRetryCount: v.GetInt("seed.stopRetryCount"),
		},
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listenAddr", ":8080")
	v.SetDefault("server.mode", "release")

	v.SetDefault("store.path", "./data/controlplane.db")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.enabled", false)

	v.SetDefault("seed.adminEmail", "admin@admin.com")
	v.SetDefault("seed.adminPassword", "admin123")
	v.SetDefault("seed.sessionTTL", 24*time.Hour)
	v.SetDefault("seed.reconcileEvery", 60*time.Second)
	v.SetDefault("seed.stopRetryDelay", time.Second)
	v.SetDefault("seed.stopRetryCount", 3)
}
