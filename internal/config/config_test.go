package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("VOXFORM_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if cfg.ProviderMode != "auto" {
		t.Fatalf("ProviderMode = %q, want %q", cfg.ProviderMode, "auto")
	}
	if cfg.ChatModel != "gpt-4o" {
		t.Fatalf("ChatModel = %q, want %q", cfg.ChatModel, "gpt-4o")
	}
	if cfg.ChatTemperature != 0.1 {
		t.Fatalf("ChatTemperature = %v, want 0.1", cfg.ChatTemperature)
	}
	if cfg.SessionTimeout != 30*time.Minute {
		t.Fatalf("SessionTimeout = %v, want 30m", cfg.SessionTimeout)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL = %q, want empty default", cfg.DatabaseURL)
	}
}

func TestLoadExplicitOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("PROVIDER_MODE", "mock")
	t.Setenv("SESSION_TIMEOUT", "5m")
	t.Setenv("EXTRACT_CONTEXT_TURNS", "6")
	t.Setenv("CHAT_TEMPERATURE", "0.7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ProviderMode != "mock" {
		t.Fatalf("ProviderMode = %q, want %q", cfg.ProviderMode, "mock")
	}
	if cfg.SessionTimeout != 5*time.Minute {
		t.Fatalf("SessionTimeout = %v, want 5m", cfg.SessionTimeout)
	}
	if cfg.ExtractContextTurns != 6 {
		t.Fatalf("ExtractContextTurns = %d, want 6", cfg.ExtractContextTurns)
	}
	if cfg.ChatTemperature != 0.7 {
		t.Fatalf("ChatTemperature = %v, want 0.7", cfg.ChatTemperature)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"bad provider mode", "PROVIDER_MODE", "psychic"},
		{"bad log level", "LOG_LEVEL", "loud"},
		{"bad duration", "SESSION_TIMEOUT", "soon"},
		{"too short session timeout", "SESSION_TIMEOUT", "2s"},
		{"bad temperature", "CHAT_TEMPERATURE", "3.5"},
		{"zero context turns", "EXTRACT_CONTEXT_TURNS", "0"},
		{"negative retries", "MAX_PROVIDER_RETRIES", "-1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q expected error, got nil", tc.key, tc.value)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"VOXFORM_ADDR",
		"VOXFORM_SHUTDOWN_TIMEOUT",
		"VOXFORM_METRICS_NAMESPACE",
		"VOXFORM_ALLOW_ANY_ORIGIN",
		"LOG_LEVEL",
		"LOG_FILE",
		"PROVIDER_MODE",
		"OPENAI_API_KEY",
		"OPENAI_BASE_URL",
		"CHAT_MODEL",
		"CHAT_TEMPERATURE",
		"STT_MODEL",
		"TTS_MODEL",
		"TTS_SPEED",
		"PROVIDER_TIMEOUT",
		"MAX_PROVIDER_RETRIES",
		"SESSION_TIMEOUT",
		"SESSION_JANITOR_INTERVAL",
		"EXTRACT_CONTEXT_TURNS",
		"HISTORY_MAX_TURNS",
		"DEFAULT_LANGUAGE",
		"SUBMIT_WEBHOOK_URL",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
