package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PAIRGATE_"

// Load reads the config at path on top of Default(), then applies .env and
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			slog.Debug("config file not found, using defaults", "path", path)
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := decode(path, data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	loadDotEnv(path)
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.WhatsApp.StorePath = ExpandHome(cfg.WhatsApp.StorePath)
	cfg.Gateway.StaticDir = ExpandHome(cfg.Gateway.StaticDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, cfg)
	}
	return json5.Unmarshal(data, cfg)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Save writes cfg as YAML or indented JSON depending on the extension.
func Save(path string, cfg *Config) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o600)
}

// loadDotEnv loads .env from the working directory and next to the config
// file. Variables already set in the environment win.
func loadDotEnv(path string) {
	candidates := []string{".env"}
	if path != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(path), ".env"))
	}
	for _, f := range candidates {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			slog.Warn("failed to load .env", "path", f, "error", err)
		}
	}
}

type lookupFunc func(string) (string, bool)

// applyEnv overrides cfg from PAIRGATE_* variables. PORT is honoured for
// platforms that assign the listen port.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			return
		}
		*dst = n
	}
	flag := func(key string, dst *bool) {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			return
		}
		*dst = b
	}

	if v, ok := lookup("PORT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PORT: %w", err))
		} else {
			cfg.Gateway.Port = n
		}
	}
	str("HOST", &cfg.Gateway.Host)
	num("PORT", &cfg.Gateway.Port)
	str("ENVIRONMENT", &cfg.Gateway.Environment)
	str("LOG_LEVEL", &cfg.Gateway.LogLevel)
	str("STATIC_DIR", &cfg.Gateway.StaticDir)
	num("MAX_CONNS", &cfg.Gateway.MaxConns)
	num("RATE_LIMIT_RPM", &cfg.Gateway.RateLimitRPM)
	flag("TRUST_PROXY", &cfg.Gateway.TrustProxy)

	num("CODE_TTL_SEC", &cfg.Pairing.CodeTTLSec)
	num("COOLDOWN_SEC", &cfg.Pairing.CooldownSec)
	num("CONNECT_TIMEOUT_SEC", &cfg.Pairing.ConnectTimeoutSec)
	num("RELEASE_DELAY_SEC", &cfg.Pairing.ReleaseDelaySec)
	num("KEEPALIVE_SEC", &cfg.Pairing.KeepAliveSec)
	str("CLIENT_DISPLAY_NAME", &cfg.Pairing.ClientDisplayName)

	str("STORE_DRIVER", &cfg.WhatsApp.StoreDriver)
	str("STORE_PATH", &cfg.WhatsApp.StorePath)
	str("POSTGRES_DSN", &cfg.WhatsApp.PostgresDSN)
	str("WHATSAPP_LOG_LEVEL", &cfg.WhatsApp.LogLevel)

	str("CACHE_BACKEND", &cfg.Cache.Backend)
	str("REDIS_ADDR", &cfg.Cache.RedisAddr)
	str("REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	num("REDIS_DB", &cfg.Cache.RedisDB)
	str("CACHE_ENCRYPTION_KEY", &cfg.Cache.EncryptionKey)

	str("BOT_NAME", &cfg.Bot.Name)
	str("BOT_PREFIX", &cfg.Bot.Prefix)

	flag("TELEMETRY_ENABLED", &cfg.Telemetry.Enabled)
	str("TELEMETRY_ENDPOINT", &cfg.Telemetry.Endpoint)
	str("TELEMETRY_PROTOCOL", &cfg.Telemetry.Protocol)

	str("TSNET_HOSTNAME", &cfg.Tailscale.Hostname)
	str("TSNET_AUTH_KEY", &cfg.Tailscale.AuthKey)
	str("TSNET_DIR", &cfg.Tailscale.StateDir)

	return errors.Join(errs...)
}
