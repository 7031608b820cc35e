package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.toml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Router.Mode != "simulation" {
		t.Fatalf("Router.Mode = %q, want simulation", cfg.Router.Mode)
	}
	if cfg.Worker.Backend != "mock" {
		t.Fatalf("Worker.Backend = %q, want mock", cfg.Worker.Backend)
	}
	if cfg.General.CycleCooldown.Duration == 0 {
		t.Fatal("expected a non-zero default cycle cooldown")
	}
	if cfg.API.Bind == "" {
		t.Fatal("expected a default API bind address")
	}
}

func TestLoadParsesBudgetAndProviders(t *testing.T) {
	path := writeTempConfig(t, `
[budget]
per_call_usd = 0.5
per_task_usd = 5
per_cycle_usd = 20
daily_usd = 10
weekly_usd = 50

[budget.per_provider_daily_usd]
openai = 5

[router]
mode = "live"

[router.providers.openai]
model = "gpt-test"
cli = "openai-cli"
flags = ["--model", "{model}", "--prompt", "{prompt}"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Budget.PerCallUsd != 0.5 {
		t.Fatalf("Budget.PerCallUsd = %v, want 0.5", cfg.Budget.PerCallUsd)
	}
	if cfg.Budget.PerProviderDailyUsd["openai"] != 5 {
		t.Fatalf("PerProviderDailyUsd[openai] = %v, want 5", cfg.Budget.PerProviderDailyUsd["openai"])
	}
	if cfg.Router.Mode != "live" {
		t.Fatalf("Router.Mode = %q, want live", cfg.Router.Mode)
	}
	if cfg.Router.Providers["openai"].CLI != "openai-cli" {
		t.Fatalf("Providers[openai].CLI = %q, want openai-cli", cfg.Router.Providers["openai"].CLI)
	}
}

func TestLoadRejectsInvalidMode(t *testing.T) {
	path := writeTempConfig(t, `
[router]
mode = "bogus"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid router mode")
	}
}

func TestLoadRejectsInvalidWorkerBackend(t *testing.T) {
	path := writeTempConfig(t, `
[worker]
backend = "bogus"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid worker backend")
	}
}

func TestLoadRejectsNegativeBudgetCaps(t *testing.T) {
	path := writeTempConfig(t, `
[budget]
per_call_usd = -1
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for negative budget cap")
	}
}

func TestCloneIsIndependentOfOriginal(t *testing.T) {
	cfg := &Config{
		Router: RouterConfig{
			Enabled:   map[string]bool{"openai": true},
			Providers: map[string]Provider{"openai": {Flags: []string{"--model"}}},
		},
	}
	clone := cfg.Clone()
	clone.Router.Enabled["openai"] = false
	clone.Router.Providers["openai"] = Provider{Flags: []string{"mutated"}}

	if !cfg.Router.Enabled["openai"] {
		t.Fatal("mutating clone's Enabled map affected the original")
	}
	if cfg.Router.Providers["openai"].Flags[0] != "--model" {
		t.Fatal("mutating clone's Providers map affected the original")
	}
}

func TestCloneOfNilReturnsNil(t *testing.T) {
	var cfg *Config
	if cfg.Clone() != nil {
		t.Fatal("Clone() of nil should return nil")
	}
}
