package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: openai
  providers:
    openai:
      api_key: test-key
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Agent.MessageBudget != 10 {
		t.Errorf("MessageBudget = %d, want 10", cfg.Agent.MessageBudget)
	}
	if cfg.Agent.MaxRounds != 10 {
		t.Errorf("MaxRounds = %d, want 10", cfg.Agent.MaxRounds)
	}
	if cfg.Database.Schema != "insightly" {
		t.Errorf("Database.Schema = %q, want insightly", cfg.Database.Schema)
	}
	if !strings.Contains(cfg.Agent.SystemDirective, "list_tables()") {
		t.Errorf("SystemDirective missing workflow text")
	}
	if cfg.Database.QueryTimeout != 30*time.Second {
		t.Errorf("QueryTimeout = %v, want 30s", cfg.Database.QueryTimeout)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
agent:
  message_budget: 10
  extra: true
llm:
  default_provider: openai
  providers:
    openai: {}
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadValidatesDefaultProvider(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: anthropic
  providers:
    openai: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "default_provider") {
		t.Fatalf("expected default_provider error, got %v", err)
	}
}

func TestLoadValidatesMCPServers(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: openai
  providers:
    openai: {}
mcp:
  servers:
    - name: insight
      command: pr-copilot-mcp
      url: http://localhost:8080/mcp
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "exactly one of command or url") {
		t.Fatalf("expected transport conflict error, got %v", err)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_PG_PASSWORD", "s3cret")
	path := writeConfig(t, `
llm:
  default_provider: openai
  providers:
    openai: {}
database:
  password: ${TEST_PG_PASSWORD}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Password != "s3cret" {
		t.Errorf("Password = %q, want expanded env value", cfg.Database.Password)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	if err := os.WriteFile(base, []byte(`
agent:
  message_budget: 6
`), 0o600); err != nil {
		t.Fatalf("write base: %v", err)
	}
	main := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(main, []byte(`
$include: base.yaml
llm:
  default_provider: openai
  providers:
    openai: {}
`), 0o600); err != nil {
		t.Fatalf("write main: %v", err)
	}

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Agent.MessageBudget != 6 {
		t.Errorf("MessageBudget = %d, want 6 from include", cfg.Agent.MessageBudget)
	}
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	if err := os.WriteFile(a, []byte("$include: b.yaml\n"), 0o600); err != nil {
		t.Fatalf("write a: %v", err)
	}
	if err := os.WriteFile(b, []byte("$include: a.yaml\n"), 0o600); err != nil {
		t.Fatalf("write b: %v", err)
	}

	_, err := Load(a)
	if err == nil {
		t.Fatalf("expected cycle error")
	}
	if !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestDatabaseDSN(t *testing.T) {
	db := DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "copilot",
		Password: "pw",
		DBName:   "analytics",
		SSLMode:  "require",
	}
	dsn := db.DSN()
	for _, want := range []string{"host=db.internal", "port=5433", "user=copilot", "dbname=analytics", "sslmode=require", "password=pw"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("DSN() = %q, missing %q", dsn, want)
		}
	}
}
