package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Gateway.Port != 3000 || cfg.Pairing.CodeTTL() != 5*time.Minute || cfg.Pairing.Cooldown() != 30*time.Second {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Bot.Prefix != "!" {
		t.Errorf("prefix = %q", cfg.Bot.Prefix)
	}
}

func TestLoadJSON5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairgate.json")
	src := `{
  // comments and trailing commas are fine
  gateway: { port: 8080, environment: "production", },
  pairing: { cooldown_sec: 10 },
}`
	if err := os.WriteFile(path, []byte(src), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.Port != 8080 || !cfg.IsProduction() || cfg.Pairing.CooldownSec != 10 {
		t.Errorf("cfg = %+v", cfg.Gateway)
	}
	if cfg.Pairing.CodeTTLSec != 300 {
		t.Errorf("unset field lost its default: %d", cfg.Pairing.CodeTTLSec)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairgate.yaml")
	src := "cache:\n  backend: redis\n  redis_addr: cache:6379\nbot:\n  name: Helper\n"
	if err := os.WriteFile(path, []byte(src), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Cache.Backend != "redis" || cfg.Cache.RedisAddr != "cache:6379" || cfg.Bot.Name != "Helper" {
		t.Errorf("cfg = %+v %+v", cfg.Cache, cfg.Bot)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairgate.json")
	if err := os.WriteFile(path, []byte(`{cache: {backend: "memcached"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("unknown cache backend accepted")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PORT":                       "4000",
		"PAIRGATE_COOLDOWN_SEC":      "45",
		"PAIRGATE_CACHE_BACKEND":     "redis",
		"PAIRGATE_TELEMETRY_ENABLED": "true",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	if err := applyEnv(cfg, lookup); err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.Port != 4000 || cfg.Pairing.CooldownSec != 45 || cfg.Cache.Backend != "redis" || !cfg.Telemetry.Enabled {
		t.Errorf("overrides not applied: %+v", cfg)
	}

	env["PAIRGATE_PORT"] = "nope"
	if err := applyEnv(Default(), lookup); err == nil {
		t.Error("bad integer accepted")
	}
}

func TestPrefixedPortWinsOverPORT(t *testing.T) {
	env := map[string]string{"PORT": "4000", "PAIRGATE_PORT": "5000"}
	cfg := Default()
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	if err := applyEnv(cfg, lookup); err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.Port != 5000 {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
}

func TestReleaseDelay(t *testing.T) {
	if d := (PairingConfig{ReleaseDelaySec: 0}).ReleaseDelay(); d >= 0 {
		t.Errorf("0s delay = %v, want negative (immediate)", d)
	}
	if d := (PairingConfig{ReleaseDelaySec: 5}).ReleaseDelay(); d != 5*time.Second {
		t.Errorf("delay = %v", d)
	}
}

func TestSaveRoundTripYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "pairgate.yml")
	cfg := Default()
	cfg.Bot.Name = "Saved"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Bot.Name != "Saved" {
		t.Errorf("name = %q", got.Bot.Name)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	if got := ExpandHome("~/x.db"); got != filepath.Join(home, "x.db") {
		t.Errorf("ExpandHome = %q", got)
	}
	if got := ExpandHome("/abs/x.db"); got != "/abs/x.db" {
		t.Errorf("absolute path changed: %q", got)
	}
}

func TestIsDevelopment(t *testing.T) {
	for env, want := range map[string]bool{
		"development":  true,
		"Development":  true,
		" development": true,
		"production":   false,
		"staging":      false,
		"test":         false,
		"dev":          false,
		"":             false,
	} {
		cfg := Default()
		cfg.Gateway.Environment = env
		if got := cfg.IsDevelopment(); got != want {
			t.Errorf("IsDevelopment(%q) = %v, want %v", env, got, want)
		}
	}
}
