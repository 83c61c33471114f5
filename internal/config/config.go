package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the intake service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	LogLevel string
	LogFile  string

	ProviderMode    string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	ChatModel       string
	ChatTemperature float64
	STTModel        string
	TTSModel        string
	TTSSpeed        float64

	ProviderTimeout    time.Duration
	MaxProviderRetries int

	SessionTimeout  time.Duration
	JanitorInterval time.Duration

	ExtractContextTurns int
	HistoryMaxTurns     int
	DefaultLanguage     string

	SubmitWebhookURL string

	DatabaseURL string
}

// Load reads .env files and environment variables and applies safe defaults.
func Load() (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		BindAddr:         envOrDefault("VOXFORM_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("VOXFORM_METRICS_NAMESPACE", "voxform"),
		AllowAnyOrigin:   false,
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		LogFile:          stringsTrimSpace("LOG_FILE"),
		ProviderMode:     envOrDefault("PROVIDER_MODE", "auto"),
		OpenAIAPIKey:     stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:    stringsTrimSpace("OPENAI_BASE_URL"),
		ChatModel:        envOrDefault("CHAT_MODEL", "gpt-4o"),
		ChatTemperature:  0.1,
		STTModel:         envOrDefault("STT_MODEL", "whisper-1"),
		TTSModel:         envOrDefault("TTS_MODEL", "tts-1"),
		TTSSpeed:         1.0,
		DefaultLanguage:  envOrDefault("DEFAULT_LANGUAGE", "en"),
		SubmitWebhookURL: stringsTrimSpace("SUBMIT_WEBHOOK_URL"),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),

		ShutdownTimeout:     15 * time.Second,
		ProviderTimeout:     30 * time.Second,
		MaxProviderRetries:  3,
		SessionTimeout:      30 * time.Minute,
		JanitorInterval:     time.Minute,
		ExtractContextTurns: 12,
		HistoryMaxTurns:     40,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("VOXFORM_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("VOXFORM_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.ChatTemperature, err = floatFromEnv("CHAT_TEMPERATURE", cfg.ChatTemperature)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSSpeed, err = floatFromEnv("TTS_SPEED", cfg.TTSSpeed)
	if err != nil {
		return Config{}, err
	}
	cfg.ProviderTimeout, err = durationFromEnv("PROVIDER_TIMEOUT", cfg.ProviderTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxProviderRetries, err = intFromEnv("MAX_PROVIDER_RETRIES", cfg.MaxProviderRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionTimeout, err = durationFromEnv("SESSION_TIMEOUT", cfg.SessionTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.JanitorInterval, err = durationFromEnv("SESSION_JANITOR_INTERVAL", cfg.JanitorInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.ExtractContextTurns, err = intFromEnv("EXTRACT_CONTEXT_TURNS", cfg.ExtractContextTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryMaxTurns, err = intFromEnv("HISTORY_MAX_TURNS", cfg.HistoryMaxTurns)
	if err != nil {
		return Config{}, err
	}

	switch cfg.ProviderMode {
	case "auto", "openai", "mock":
	default:
		return Config{}, fmt.Errorf("PROVIDER_MODE must be one of auto, openai, mock")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error")
	}
	if cfg.ChatTemperature < 0 || cfg.ChatTemperature > 2 {
		return Config{}, fmt.Errorf("CHAT_TEMPERATURE must be within [0, 2]")
	}
	if cfg.TTSSpeed < 0.25 || cfg.TTSSpeed > 4 {
		return Config{}, fmt.Errorf("TTS_SPEED must be within [0.25, 4]")
	}
	if cfg.ProviderTimeout <= 0 {
		return Config{}, fmt.Errorf("PROVIDER_TIMEOUT must be positive")
	}
	if cfg.MaxProviderRetries < 0 {
		return Config{}, fmt.Errorf("MAX_PROVIDER_RETRIES must be >= 0")
	}
	if cfg.SessionTimeout < 10*time.Second {
		return Config{}, fmt.Errorf("SESSION_TIMEOUT must be at least 10s")
	}
	if cfg.JanitorInterval <= 0 {
		return Config{}, fmt.Errorf("SESSION_JANITOR_INTERVAL must be positive")
	}
	if cfg.ExtractContextTurns <= 0 {
		return Config{}, fmt.Errorf("EXTRACT_CONTEXT_TURNS must be positive")
	}
	if cfg.HistoryMaxTurns < 2 {
		return Config{}, fmt.Errorf("HISTORY_MAX_TURNS must be at least 2")
	}

	return cfg, nil
}

// loadDotEnv loads .env.local then .env; absent files are fine.
func loadDotEnv() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
