package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: ":9090"
database:
  dsn: "postgres://broker@localhost/broker"
provider:
  kind: http
  base-url: "https://provider.example"
  request-timeout: 5s
logging:
  level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":9090" || cfg.Database.DSN != "postgres://broker@localhost/broker" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Provider.Kind != "http" || cfg.Provider.RequestTimeout != 5*time.Second {
		t.Fatalf("unexpected provider config %+v", cfg.Provider)
	}
	if cfg.Provider.CompletionWindow != "24h" || cfg.Logging.MaxBackups != 5 {
		t.Fatalf("expected defaults kept for unset fields, got %+v", cfg)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Provider.Kind != "mock" || cfg.Database.DSN != defaultDSN {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("BROKER_DATABASE_DSN", "env.db")
	t.Setenv("BROKER_REDIS_ADDR", "localhost:6379")
	t.Setenv("BROKER_PROVIDER_API_KEY", "sk-env")
	t.Setenv("BROKER_LISTEN", ":7000")

	cfg, err := Load(writeConfig(t, "database:\n  dsn: file.db\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.DSN != "env.db" || cfg.Listen != ":7000" || cfg.Provider.APIKey != "sk-env" {
		t.Fatalf("expected env overrides, got %+v", cfg)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("expected redis enabled from env, got %+v", cfg.Redis)
	}
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	if _, err := Load(writeConfig(t, "provider:\n  kind: carrier-pigeon\n")); err == nil {
		t.Fatalf("expected error for unknown provider kind")
	}
}

func TestResolveConfigPath(t *testing.T) {
	if got := ResolveConfigPath(" custom.yaml "); got != "custom.yaml" {
		t.Fatalf("expected explicit path, got %q", got)
	}
	t.Setenv("BROKER_CONFIG", "/etc/broker.yaml")
	if got := ResolveConfigPath(""); got != "/etc/broker.yaml" {
		t.Fatalf("expected env path, got %q", got)
	}
}
