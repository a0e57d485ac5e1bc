package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RELAY_CONFIG_FILE", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxToolRounds != 5 {
		t.Fatalf("expected 5 tool rounds, got %d", cfg.MaxToolRounds)
	}
	if cfg.APIBase != "http://localhost:1234/v1" {
		t.Fatalf("unexpected api base %q", cfg.APIBase)
	}
	if cfg.ModelName != "ibm/granite-3.1-8b" {
		t.Fatalf("unexpected model %q", cfg.ModelName)
	}
}

func TestFileOverlayThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	body := "serverPort: \"9090\"\nmaxToolRounds: 3\nrequestTimeout: 45s\nmodelName: from-file\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("RELAY_CONFIG_FILE", path)
	t.Setenv("LM_STUDIO_MODEL", "from-env")
	t.Setenv("LM_STUDIO_API_BASE", "http://backend:1234/v1/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Fatalf("expected file port, got %q", cfg.ServerPort)
	}
	if cfg.MaxToolRounds != 3 {
		t.Fatalf("expected 3 rounds, got %d", cfg.MaxToolRounds)
	}
	if cfg.RequestTimeout != 45*time.Second {
		t.Fatalf("expected 45s timeout, got %s", cfg.RequestTimeout)
	}
	if cfg.PollInterval != 10*time.Millisecond {
		t.Fatalf("poll interval default lost: %s", cfg.PollInterval)
	}
	if cfg.ModelName != "from-env" {
		t.Fatalf("env should win over file, got %q", cfg.ModelName)
	}
	if cfg.APIBase != "http://backend:1234/v1" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.APIBase)
	}
}

func TestValidateRejectsZeroRounds(t *testing.T) {
	t.Setenv("RELAY_CONFIG_FILE", "")
	t.Setenv("MAX_TOOL_ROUNDS", "0")
	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestInvalidEnvKeepsDefault(t *testing.T) {
	t.Setenv("RELAY_CONFIG_FILE", "")
	t.Setenv("SUBSCRIBER_BUFFER", "lots")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SubscriberBuffer != 100 {
		t.Fatalf("expected default buffer, got %d", cfg.SubscriberBuffer)
	}
}
