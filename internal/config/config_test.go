package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:8080" {
		t.Errorf("Expected loopback default, got %s", cfg.Addr())
	}
	if cfg.RevealBulkDelay != 20*time.Millisecond {
		t.Errorf("Expected 20ms bulk delay, got %v", cfg.RevealBulkDelay)
	}
	if cfg.MaxImportBytes != 8<<20 {
		t.Errorf("Expected 8MiB import limit, got %d", cfg.MaxImportBytes)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.yaml")
	doc := "port: \"9000\"\nreveal_bulk_delay: 5ms\nallowed_origins: [\"http://example.test\"]\nconversation_log:\n  enabled: true\n  dir: /tmp/mirror-logs\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "9100")
	t.Setenv("GEMINI_API_KEY", "from-gemini-var")
	t.Setenv("API_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9100" {
		t.Errorf("Expected env to win, got port %s", cfg.Port)
	}
	if cfg.RevealBulkDelay != 5*time.Millisecond {
		t.Errorf("Expected file delay, got %v", cfg.RevealBulkDelay)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "http://example.test" {
		t.Errorf("Unexpected origins %v", cfg.AllowedOrigins)
	}
	if !cfg.ConversationLog.Enabled || cfg.ConversationLog.QueueSize != 1000 {
		t.Errorf("Unexpected conversation log config %+v", cfg.ConversationLog)
	}
}

func TestLoadAPIKeyPrecedence(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("API_KEY", "primary")
	t.Setenv("GEMINI_API_KEY", "secondary")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.APIKey != "primary" {
		t.Errorf("Expected API_KEY to win, got %q", cfg.APIKey)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.MaxImportBytes = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("Expected error for zero import limit")
	}

	cfg = Default()
	cfg.Port = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("Expected error for empty port")
	}
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("MIRROR_TEST_LIST", " a, ,b ")
	got := getEnvList("MIRROR_TEST_LIST", nil)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("Unexpected list %v", got)
	}
}
