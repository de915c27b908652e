package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":8080" || cfg.LLM.Provider != "anthropic" {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.Auth.AccessExpiry.Std() != 15*time.Minute {
		t.Errorf("access expiry = %v", cfg.Auth.AccessExpiry.Std())
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
llm:
  provider: openai
  model: gpt-4o
storage:
  root: /var/lib/chartflow
experiments:
  expected_analyze_steps: 1
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":9090" || cfg.LLM.Provider != "openai" || cfg.LLM.Model != "gpt-4o" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.Server.ShutdownTimeout.Std() != 10*time.Second {
		t.Errorf("untouched default changed: %v", cfg.Server.ShutdownTimeout.Std())
	}
	if cfg.Experiments.ExpectedAnalyzeSteps != 1 {
		t.Errorf("expected_analyze_steps = %d", cfg.Experiments.ExpectedAnalyzeSteps)
	}
}

func TestDurationParsing(t *testing.T) {
	path := writeConfig(t, `
auth:
  access_expiry: 30m
server:
  shutdown_timeout: 5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.AccessExpiry.Std() != 30*time.Minute {
		t.Errorf("access_expiry = %v", cfg.Auth.AccessExpiry.Std())
	}
	if cfg.Server.ShutdownTimeout.Std() != 5*time.Second {
		t.Errorf("bare number should mean seconds, got %v", cfg.Server.ShutdownTimeout.Std())
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("CHARTFLOW_TEST_KEY", "sk-test-123")
	path := writeConfig(t, `
llm:
  api_key: ${CHARTFLOW_TEST_KEY}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.APIKey != "sk-test-123" {
		t.Errorf("api_key = %q", cfg.LLM.APIKey)
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	path := writeConfig(t, `
llm:
  provider: cohere
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "unknown llm provider") {
		t.Errorf("Load() error = %v, want provider error", err)
	}
}

func TestLoadRejectsMultipleDocuments(t *testing.T) {
	path := writeConfig(t, "server:\n  addr: \":1\"\n---\nserver:\n  addr: \":2\"\n")
	if _, err := Load(path); err == nil {
		t.Error("Load() accepted a multi-document file")
	}
}
