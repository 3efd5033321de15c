// Package config holds the gateway configuration: defaults, file loading
// (JSON5 or YAML), .env and environment overrides, and hot reload.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nextlevelbuilder/pairgate/internal/crypto"
)

// Config is the root configuration.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway" yaml:"gateway"`
	Pairing   PairingConfig   `json:"pairing" yaml:"pairing"`
	WhatsApp  WhatsAppConfig  `json:"whatsapp" yaml:"whatsapp"`
	Cache     CacheConfig     `json:"cache" yaml:"cache"`
	Bot       BotConfig       `json:"bot" yaml:"bot"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
	Tailscale TailscaleConfig `json:"tailscale" yaml:"tailscale"`
}

type GatewayConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	Environment  string `json:"environment" yaml:"environment"`
	LogLevel     string `json:"log_level" yaml:"log_level"` // debug, info, warn, error
	StaticDir    string `json:"static_dir,omitempty" yaml:"static_dir,omitempty"`
	MaxConns     int    `json:"max_conns" yaml:"max_conns"`
	RateLimitRPM int    `json:"rate_limit_rpm" yaml:"rate_limit_rpm"`
	TrustProxy   bool   `json:"trust_proxy,omitempty" yaml:"trust_proxy,omitempty"`
}

type PairingConfig struct {
	CodeTTLSec        int    `json:"code_ttl_sec" yaml:"code_ttl_sec"`
	CooldownSec       int    `json:"cooldown_sec" yaml:"cooldown_sec"`
	ConnectTimeoutSec int    `json:"connect_timeout_sec" yaml:"connect_timeout_sec"`
	ReleaseDelaySec   int    `json:"release_delay_sec" yaml:"release_delay_sec"`
	KeepAliveSec      int    `json:"keepalive_sec" yaml:"keepalive_sec"`
	ClientDisplayName string `json:"client_display_name" yaml:"client_display_name"`
}

type WhatsAppConfig struct {
	StoreDriver string  `json:"store_driver" yaml:"store_driver"`
	StorePath   string  `json:"store_path" yaml:"store_path"`
	PostgresDSN string  `json:"postgres_dsn,omitempty" yaml:"postgres_dsn,omitempty"`
	LogLevel    string  `json:"log_level" yaml:"log_level"`
	SendRPS     float64 `json:"send_rps" yaml:"send_rps"`
}

type CacheConfig struct {
	Backend       string `json:"backend" yaml:"backend"`
	RedisAddr     string `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `json:"redis_password,omitempty" yaml:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db"`
	KeyPrefix     string `json:"key_prefix" yaml:"key_prefix"`
	EncryptionKey string `json:"encryption_key,omitempty" yaml:"encryption_key,omitempty"`
	SweepSec      int    `json:"sweep_sec" yaml:"sweep_sec"`
}

type BotConfig struct {
	Name     string `json:"name" yaml:"name"`
	Prefix   string `json:"prefix" yaml:"prefix"`
	Language string `json:"language" yaml:"language"`
}

type TelemetryConfig struct {
	Enabled     bool              `json:"enabled" yaml:"enabled"`
	Endpoint    string            `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty" yaml:"protocol,omitempty"` // "grpc" or "http"
	Insecure    bool              `json:"insecure,omitempty" yaml:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty" yaml:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

type TailscaleConfig struct {
	Hostname  string `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	AuthKey   string `json:"auth_key,omitempty" yaml:"auth_key,omitempty"`
	Ephemeral bool   `json:"ephemeral,omitempty" yaml:"ephemeral,omitempty"`
	StateDir  string `json:"state_dir,omitempty" yaml:"state_dir,omitempty"`
	EnableTLS bool   `json:"enable_tls,omitempty" yaml:"enable_tls,omitempty"`
}

// Default returns a config with every field at its default.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:         "0.0.0.0",
			Port:         3000,
			Environment:  "development",
			LogLevel:     "info",
			MaxConns:     256,
			RateLimitRPM: 120,
		},
		Pairing: PairingConfig{
			CodeTTLSec:        300,
			CooldownSec:       30,
			ConnectTimeoutSec: 60,
			ReleaseDelaySec:   5,
			KeepAliveSec:      30,
			ClientDisplayName: "Chrome (Linux)",
		},
		WhatsApp: WhatsAppConfig{
			StoreDriver: "sqlite",
			StorePath:   "~/.pairgate/whatsapp.db",
			LogLevel:    "WARN",
			SendRPS:     1,
		},
		Cache: CacheConfig{
			Backend:   "memory",
			RedisAddr: "127.0.0.1:6379",
			KeyPrefix: "pairgate:code:",
			SweepSec:  60,
		},
		Bot: BotConfig{
			Name:     "Pairgate Bot",
			Prefix:   "!",
			Language: "en",
		},
		Telemetry: TelemetryConfig{Protocol: "grpc", ServiceName: "pairgate"},
	}
}

// Validate rejects values the gateway cannot run with.
func (c *Config) Validate() error {
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port %d out of range", c.Gateway.Port)
	}
	if c.Pairing.CodeTTLSec <= 0 {
		return fmt.Errorf("pairing.code_ttl_sec must be positive")
	}
	if c.Pairing.CooldownSec < 0 {
		return fmt.Errorf("pairing.cooldown_sec must not be negative")
	}
	if c.Pairing.ConnectTimeoutSec <= 0 {
		return fmt.Errorf("pairing.connect_timeout_sec must be positive")
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("cache.backend %q: want memory or redis", c.Cache.Backend)
	}
	switch c.WhatsApp.StoreDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("whatsapp.store_driver %q: want sqlite or postgres", c.WhatsApp.StoreDriver)
	}
	if c.WhatsApp.StoreDriver == "postgres" && c.WhatsApp.PostgresDSN == "" {
		return fmt.Errorf("whatsapp.postgres_dsn is required with the postgres store")
	}
	if c.Cache.EncryptionKey != "" {
		if _, err := crypto.DeriveKey(c.Cache.EncryptionKey); err != nil {
			return fmt.Errorf("cache.encryption_key: %w", err)
		}
	}
	if strings.TrimSpace(c.Bot.Prefix) == "" {
		return fmt.Errorf("bot.prefix must not be empty")
	}
	return nil
}

// IsProduction selects JSON logs.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Gateway.Environment, "production")
}

// IsDevelopment reports whether API error responses carry details. Any
// other environment name hides them.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(strings.TrimSpace(c.Gateway.Environment), "development")
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Gateway.Host, c.Gateway.Port)
}

func (p PairingConfig) CodeTTL() time.Duration        { return seconds(p.CodeTTLSec) }
func (p PairingConfig) Cooldown() time.Duration       { return seconds(p.CooldownSec) }
func (p PairingConfig) ConnectTimeout() time.Duration { return seconds(p.ConnectTimeoutSec) }
func (p PairingConfig) KeepAlive() time.Duration      { return seconds(p.KeepAliveSec) }

// ReleaseDelay maps 0 to "release immediately" (a negative duration for the
// session package, where 0 selects its default).
func (p PairingConfig) ReleaseDelay() time.Duration {
	if p.ReleaseDelaySec <= 0 {
		return -1
	}
	return seconds(p.ReleaseDelaySec)
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
