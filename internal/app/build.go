// Package app assembles the service from configuration: storage, model
// providers, the session manager, the turn runtime, and the HTTP API.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"

	"github.com/avoncourt/voxform/internal/agent"
	"github.com/avoncourt/voxform/internal/config"
	"github.com/avoncourt/voxform/internal/cost"
	"github.com/avoncourt/voxform/internal/extract"
	"github.com/avoncourt/voxform/internal/forms"
	"github.com/avoncourt/voxform/internal/httpapi"
	"github.com/avoncourt/voxform/internal/observability"
	"github.com/avoncourt/voxform/internal/provider"
	"github.com/avoncourt/voxform/internal/runtime"
	"github.com/avoncourt/voxform/internal/session"
	"github.com/avoncourt/voxform/internal/store"
	"github.com/avoncourt/voxform/internal/submit"
)

// ProviderInfo reports which backends the build resolved, for startup logs.
type ProviderInfo struct {
	ChatMode  string
	ChatModel string
	VoiceMode string
}

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Runtime  *runtime.Runtime
	Sessions *session.Manager
	Metrics  *observability.Metrics
	Provider ProviderInfo

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("store init failed: %w", err)
	}

	chatModel, chatMode, err := provider.NewChatModel(ctx, provider.Options{
		Mode:    cfg.ProviderMode,
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.ChatModel,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("chat model init failed: %w", err)
	}

	caller := provider.NewCaller(
		chatModel,
		cfg.ProviderTimeout,
		cfg.MaxProviderRetries,
		model.WithTemperature(float32(cfg.ChatTemperature)),
	)
	caller.SetRetryObserver(func(op string, attempt int, err error) {
		metrics.ProviderRetries.WithLabelValues(op).Inc()
		logger.Warn("provider retry scheduled", "op", op, "attempt", attempt, "error", err)
	})

	voiceSetup := resolveVoice(cfg, chatMode)

	extractor := extract.NewToolExtractor(caller, cfg.ExtractContextTurns)
	registry := agent.NewRegistry(func(fc *forms.FormConfig) (*agent.DynamicAgent, error) {
		return agent.New(fc, caller, extractor, cfg.HistoryMaxTurns)
	})

	var submitter submit.Submitter
	if cfg.SubmitWebhookURL != "" {
		submitter = submit.NewWebhookSubmitter(cfg.SubmitWebhookURL, cfg.ProviderTimeout, cfg.MaxProviderRetries, logger)
	} else {
		submitter = submit.NewLogSubmitter(logger)
	}

	sessions := session.NewManager(cfg.SessionTimeout)
	rt := runtime.New(db, sessions, registry, voiceSetup.transcriber, voiceSetup.synthesizer, submitter, cost.NewMeter(), metrics, logger, cfg.ChatModel, cfg.DefaultLanguage)
	// The runtime registers its expiry hook in New, so the janitor starts
	// only afterwards.
	sessions.StartJanitor(ctx, cfg.JanitorInterval)

	api := httpapi.New(cfg, rt, db, registry, metrics, logger)

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Runtime:  rt,
		Sessions: sessions,
		Metrics:  metrics,
		Provider: ProviderInfo{
			ChatMode:  chatMode,
			ChatModel: cfg.ChatModel,
			VoiceMode: voiceSetup.mode,
		},
		Cleanup: db.Close,
	}, nil
}
