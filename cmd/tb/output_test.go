package main

import (
	"bytes"
	"strings"
	"testing"

	"taskboard/internal/config"
)

func TestConfigFieldsRenderAsTable(t *testing.T) {
	cfg := config.Default()
	cfg.API.BaseURL = "https://tasks.example.com/api"

	var buf bytes.Buffer
	renderFields(&buf, configFields(cfg))
	out := buf.String()

	if strings.Contains(out, "{") {
		t.Fatalf("expected a table, got JSON:\n%s", out)
	}
	for _, want := range []string{"SETTING", "VALUE", "api_url", "https://tasks.example.com/api", "channel_url", "wss://tasks.example.com/ws", "validate_on_start"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}
