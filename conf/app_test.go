package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}

func TestLoadExpandsPlaceholdersOverDefaults(t *testing.T) {
	t.Setenv("TEST_DB_URL", "postgres://u:p@db:5432/bots")
	t.Setenv("GROQ_API_KEY", "gsk-env")

	dir := writeConfig(t, `
postgres:
  url: ${TEST_DB_URL}
runner:
  poll_interval: 10s
  promo_handle: ${PROMO_HANDLE:-@OtherBot}
redis:
  enabled: true
`)

	cfg, err := Load(dir, "config")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Postgres.URL != "postgres://u:p@db:5432/bots" {
		t.Fatalf("unexpected url: %q", cfg.Postgres.URL)
	}
	if cfg.Runner.PollInterval != 10*time.Second || cfg.Runner.PromoHandle != "@OtherBot" {
		t.Fatalf("unexpected runner config: %+v", cfg.Runner)
	}
	if cfg.Runner.HandleTimeout != Default().Runner.HandleTimeout {
		t.Fatalf("default lost: %v", cfg.Runner.HandleTimeout)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Port != 6379 {
		t.Fatalf("unexpected redis config: %+v", cfg.Redis)
	}
	if cfg.LLM.GroqAPIKey != "gsk-env" {
		t.Fatalf("env fallback not applied: %q", cfg.LLM.GroqAPIKey)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/bots")
	t.Setenv("GROQ_API_KEY", "gsk")

	cfg, err := Load(t.TempDir(), "missing")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Postgres.URL != "postgres://localhost/bots" || cfg.Conversation.Limit != 20 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.LLM.GroqAPIKey = "gsk"
	valid.Postgres.URL = "postgres://localhost/bots"
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid config: %v", err)
	}

	cases := map[string]func(*AppConfig){
		"missing groq key":   func(c *AppConfig) { c.LLM.GroqAPIKey = "" },
		"missing database":   func(c *AppConfig) { c.Postgres.URL = "" },
		"bad log level":      func(c *AppConfig) { c.Logger.Level = "loud" },
		"zero poll interval": func(c *AppConfig) { c.Runner.PollInterval = 0 },
		"history too short":  func(c *AppConfig) { c.Conversation.Limit = 1 },
		"inbound no secret":  func(c *AppConfig) { c.Inbound.Enabled = true },
	}
	for name, mutate := range cases {
		cfg := valid
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
