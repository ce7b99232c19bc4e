package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	ws, err := InitWorkspace(t.TempDir(), false)
	if err != nil {
		t.Fatalf("init workspace: %v", err)
	}
	cfg, err := LoadConfig(ws)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.TypingTTL != 3*time.Second {
		t.Fatalf("typing ttl: got %v", cfg.TypingTTL)
	}
	if cfg.SearchDebounce != 300*time.Millisecond {
		t.Fatalf("search debounce: got %v", cfg.SearchDebounce)
	}
	if cfg.Transport != TransportLocal {
		t.Fatalf("transport: got %q", cfg.Transport)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	ws, err := InitWorkspace(t.TempDir(), false)
	if err != nil {
		t.Fatalf("init workspace: %v", err)
	}
	yamlDoc := "user_id: alice\ntyping_ttl: 5s\noverscan: 2\n"
	if err := os.WriteFile(ws.ConfigPath(), []byte(yamlDoc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(ws.Root, ".env"), []byte("MURMUR_DISPLAY_NAME=Alice A\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("MURMUR_OVERSCAN", "7")
	t.Setenv("MURMUR_DISPLAY_NAME", "")
	os.Unsetenv("MURMUR_DISPLAY_NAME")

	cfg, err := LoadConfig(ws)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.UserID != "alice" {
		t.Fatalf("user: got %q", cfg.UserID)
	}
	if cfg.TypingTTL != 5*time.Second {
		t.Fatalf("typing ttl: got %v", cfg.TypingTTL)
	}
	if cfg.Overscan != 7 {
		t.Fatalf("overscan: got %d", cfg.Overscan)
	}
	if cfg.DisplayName != "Alice A" {
		t.Fatalf("display name from .env: got %q", cfg.DisplayName)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Transport = TransportWS
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "push_url") {
		t.Fatalf("expected push_url error, got %v", err)
	}
	cfg.Transport = "carrier-pigeon"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unknown transport error")
	}
}

func TestDiscoverWorkspaceWalksUp(t *testing.T) {
	root := t.TempDir()
	if _, err := InitWorkspace(root, false); err != nil {
		t.Fatalf("init workspace: %v", err)
	}
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	ws, err := DiscoverWorkspace(nested)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	want, _ := filepath.Abs(root)
	if ws.Root != want {
		t.Fatalf("root: got %q want %q", ws.Root, want)
	}
	if _, err := InitWorkspace(root, false); err == nil {
		t.Fatalf("expected already initialized error")
	}
}

func TestTempIDs(t *testing.T) {
	id, err := NewTempID()
	if err != nil {
		t.Fatalf("temp id: %v", err)
	}
	if !IsTempID(id) {
		t.Fatalf("expected temp id, got %q", id)
	}
	if IsTempID("msg-abcdefgh") {
		t.Fatalf("server id reported as temp")
	}
	if got := GetGUIDPrefix("msg-abcdefgh", 4); got != "abcd" {
		t.Fatalf("prefix: got %q", got)
	}
	if NewCorrelationKey() == NewCorrelationKey() {
		t.Fatalf("correlation keys must be unique")
	}
}
