package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Moderation.RuleCacheTTL != 5*time.Minute {
		t.Errorf("rule cache TTL = %v, want 5m", cfg.Moderation.RuleCacheTTL)
	}
	if cfg.Moderation.ManualReviewThreshold != 0.3 {
		t.Errorf("review threshold = %v, want 0.3", cfg.Moderation.ManualReviewThreshold)
	}
	if cfg.Moderation.DefaultStatus != "approved" {
		t.Errorf("default status = %q, want approved", cfg.Moderation.DefaultStatus)
	}
	if cfg.AI.MaxConcurrentCalls != 10 {
		t.Errorf("max concurrent calls = %d, want 10", cfg.AI.MaxConcurrentCalls)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load("does/not/exist.yaml")
	if err != nil {
		t.Fatalf("missing config file should not fail: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want default 8080", cfg.Server.Port)
	}
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("server:\n  port: 9999\nmoderation:\n  defaultStatus: flagged\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("AM_SERVER_PORT", "7777")
	t.Setenv("AM_OPENAI_API_KEY", "test-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("env override lost: port = %d, want 7777", cfg.Server.Port)
	}
	if cfg.Moderation.DefaultStatus != "flagged" {
		t.Errorf("yaml value lost: defaultStatus = %q", cfg.Moderation.DefaultStatus)
	}
	if cfg.AI.Primary.APIKey != "test-key" {
		t.Error("api key env override not applied")
	}
}

func TestChunkBudget(t *testing.T) {
	a := AIConfig{ContextWindow: 400000, MaxOutputTokens: 128000, ReservedPromptTokens: 2000}
	if got := a.ChunkBudget(); got != 243000 {
		t.Errorf("ChunkBudget = %d, want 243000", got)
	}

	small := AIConfig{ContextWindow: 16000, MaxOutputTokens: 8000, ReservedPromptTokens: 2000}
	if got := small.ChunkBudget(); got != 12000 {
		t.Errorf("ChunkBudget floor = %d, want 12000", got)
	}
}
