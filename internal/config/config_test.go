package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[general]
project_root = "/tmp/project"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.General.DataDir != filepath.Join("/tmp/project", ".oak", "ci") {
		t.Fatalf("unexpected data dir: %q", cfg.General.DataDir)
	}
	if cfg.Embedding.Dimensions != 768 {
		t.Fatalf("expected default dimensions 768, got %d", cfg.Embedding.Dimensions)
	}
	if cfg.Governance.EnforcementMode != "observe" {
		t.Fatalf("expected default enforcement mode observe, got %q", cfg.Governance.EnforcementMode)
	}
	if cfg.General.CLICommand != "oak" {
		t.Fatalf("expected default cli command oak, got %q", cfg.General.CLICommand)
	}
}

func TestLoadEnvOverridesAuthToken(t *testing.T) {
	path := writeConfig(t, `
[general]
project_root = "/tmp/project"
`)
	t.Setenv("OAK_AUTH_TOKEN", "secret-token")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.AuthToken != "secret-token" {
		t.Fatalf("expected auth token from env, got %q", cfg.API.AuthToken)
	}
}

func TestValidateRejectsBadEnforcementMode(t *testing.T) {
	cfg := Default()
	cfg.General.ProjectRoot = "/tmp/x"
	cfg.Governance.EnforcementMode = "bogus"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for bad enforcement mode")
	}
}

func TestValidateRejectsBadRuleAction(t *testing.T) {
	cfg := Default()
	cfg.General.ProjectRoot = "/tmp/x"
	cfg.Governance.Rules = []GovernanceRule{{ID: "r1", Action: "explode"}}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for bad rule action")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	cfg := Default()
	cfg.General.ProjectRoot = "/tmp/x"
	clone := cfg.Clone()
	clone.Indexer.Extensions[0] = "MUTATED"
	if cfg.Indexer.Extensions[0] == "MUTATED" {
		t.Fatal("expected clone to own its slice, not alias the original")
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir available")
	}
	got := ExpandHome("~/foo")
	want := filepath.Join(home, "foo")
	if got != want {
		t.Fatalf("ExpandHome(~/foo) = %q, want %q", got, want)
	}
	if ExpandHome("/abs/path") != "/abs/path" {
		t.Fatal("ExpandHome should not alter absolute paths")
	}
}
