package config_test

import (
	"os"
	"strings"
	"testing"
	"time"

	"taskboard/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.API.BaseURL != config.DefaultAPIURL {
		t.Fatalf("unexpected base url %q", cfg.API.BaseURL)
	}
	if got := cfg.ChannelURL(); got != "ws://localhost:5000/ws" {
		t.Fatalf("channel url = %q", got)
	}
	if cfg.APITimeout() != 10*time.Second || cfg.HandshakeTimeout() != 10*time.Second {
		t.Fatalf("unexpected timeouts %v %v", cfg.APITimeout(), cfg.HandshakeTimeout())
	}
}

func TestFromYAMLKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := config.FromYAML([]byte("api:\n  base_url: https://tasks.example.com/api\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.API.TimeoutSeconds != 10 {
		t.Fatalf("timeout default lost: %d", cfg.API.TimeoutSeconds)
	}
	if got := cfg.ChannelURL(); got != "wss://tasks.example.com/ws" {
		t.Fatalf("channel url = %q", got)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"empty base url":   "api:\n  base_url: \"\"\n",
		"relative url":     "api:\n  base_url: /api\n",
		"http channel url": "channel:\n  url: http://x/ws\n",
		"negative timeout": "api:\n  timeout_seconds: -1\n",
		"broken yaml":      "api: [",
	}
	for name, raw := range cases {
		if _, err := config.FromYAML([]byte(raw)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestWriteAndLoad(t *testing.T) {
	dir := t.TempDir()
	if _, err := config.Load(dir); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
	cfg, err := config.LoadOptional(dir)
	if err != nil || cfg.API.BaseURL != config.DefaultAPIURL {
		t.Fatalf("load optional: %v %+v", err, cfg)
	}

	cfg.Channel.URL = "ws://push.example.com/socket"
	cfg.Session.ValidateOnStart = true
	if err := config.Write(dir, cfg); err != nil {
		t.Fatalf("write: %v", err)
	}
	loaded, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.ChannelURL() != "ws://push.example.com/socket" || !loaded.Session.ValidateOnStart {
		t.Fatalf("round trip lost values: %+v", loaded)
	}

	if err := os.WriteFile(config.Path(dir), []byte("api: ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := config.LoadOptional(dir); err == nil {
		t.Fatalf("expected parse error for broken file")
	}
}

func TestGenerateDefaultParses(t *testing.T) {
	cfg, err := config.FromYAML([]byte(config.GenerateDefault("http://127.0.0.1:8080")))
	if err != nil {
		t.Fatalf("parse generated: %v", err)
	}
	if cfg.ChannelURL() != "ws://127.0.0.1:8080/ws" {
		t.Fatalf("channel url = %q", cfg.ChannelURL())
	}
}
