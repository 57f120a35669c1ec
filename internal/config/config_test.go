package config

import (
	"strings"
	"testing"
)

func setRequired(t *testing.T) {
	t.Setenv("TG_API_ID", "12345")
	t.Setenv("TG_API_HASH", "0123456789abcdef")
}

func TestFromEnvDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.APIID != 12345 || cfg.APIHash != "0123456789abcdef" {
		t.Fatalf("unexpected credentials: %d %q", cfg.APIID, cfg.APIHash)
	}
	if cfg.SessionName != "tgfilestream" {
		t.Fatalf("session name = %q", cfg.SessionName)
	}
	if cfg.ListenAddr() != "localhost:8080" {
		t.Fatalf("listen addr = %q", cfg.ListenAddr())
	}
	if cfg.PublicURL.String() != "http://localhost:8080" {
		t.Fatalf("public url = %q", cfg.PublicURL)
	}
	if cfg.RequestLimit != 5 || cfg.ConnectionLimit != 20 {
		t.Fatalf("limits = %d/%d", cfg.RequestLimit, cfg.ConnectionLimit)
	}
	if cfg.TrustForwardHeaders || cfg.Debug {
		t.Fatal("boolean flags should default to false")
	}
	if cfg.StartMessage != DefaultStartMessage || cfg.GroupChatMessage != DefaultGroupChatMessage {
		t.Fatal("reply texts should default")
	}
}

func TestFromEnvMissingCredentials(t *testing.T) {
	t.Setenv("TG_API_ID", "")
	t.Setenv("TG_API_HASH", "")

	_, err := FromEnv()
	if err == nil {
		t.Fatal("expected error without credentials")
	}
	if !strings.Contains(err.Error(), "TG_API_ID") {
		t.Fatalf("error should name the variables: %v", err)
	}
}

func TestFromEnvInvalidPort(t *testing.T) {
	setRequired(t)

	for _, port := range []string{"0", "65536", "-1", "http"} {
		t.Setenv("PORT", port)
		if _, err := FromEnv(); err == nil {
			t.Fatalf("expected error for PORT=%q", port)
		}
	}
}

func TestFromEnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("HOST", "0.0.0.0")
	t.Setenv("PORT", "9000")
	t.Setenv("PUBLIC_URL", "https://files.example.com")
	t.Setenv("TRUST_FORWARD_HEADERS", "1")
	t.Setenv("DEBUG", "true")
	t.Setenv("CONNECTION_LIMIT", "8")
	t.Setenv("TG_START_MESG", "hello")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.ListenAddr() != "0.0.0.0:9000" {
		t.Fatalf("listen addr = %q", cfg.ListenAddr())
	}
	if cfg.PublicURL.Host != "files.example.com" {
		t.Fatalf("public url host = %q", cfg.PublicURL.Host)
	}
	if !cfg.TrustForwardHeaders || !cfg.Debug {
		t.Fatal("boolean overrides not applied")
	}
	if cfg.ConnectionLimit != 8 {
		t.Fatalf("connection limit = %d", cfg.ConnectionLimit)
	}
	if cfg.StartMessage != "hello" {
		t.Fatalf("start message = %q", cfg.StartMessage)
	}
}

func TestFromEnvInvalidLimits(t *testing.T) {
	setRequired(t)

	t.Setenv("REQUEST_LIMIT", "many")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error for invalid REQUEST_LIMIT")
	}
	t.Setenv("REQUEST_LIMIT", "5")
	t.Setenv("CONNECTION_LIMIT", "lots")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error for invalid CONNECTION_LIMIT")
	}
}
