package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/aisgo/botrunner/conf"
	"github.com/aisgo/botrunner/logger"

	"go.uber.org/fx"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.HasPrefix(out.String(), "botrunner dev") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestConfigFlags(t *testing.T) {
	cmd := newRootCmd()
	if err := cmd.ParseFlags([]string{"--config-dir", "/etc/botrunner", "--config-name", "prod"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if got, _ := cmd.PersistentFlags().GetString("config-dir"); got != "/etc/botrunner" {
		t.Fatalf("unexpected config-dir: %s", got)
	}
	if got, _ := cmd.PersistentFlags().GetString("config-name"); got != "prod" {
		t.Fatalf("unexpected config-name: %s", got)
	}
}

func TestServeRequiresConfig(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("DATABASE_URL", "")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"serve", "--config-dir", t.TempDir()})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "groq_api_key") {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestDependencyGraph(t *testing.T) {
	cfg := conf.Default()
	cfg.Redis.Enabled = true
	cfg.RateLimit.Enabled = true

	if err := fx.ValidateApp(appOptions(cfg, logger.NewNop())); err != nil {
		t.Fatalf("invalid dependency graph: %v", err)
	}
}
