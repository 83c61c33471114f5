package app

import (
	"github.com/avoncourt/voxform/internal/config"
	"github.com/avoncourt/voxform/internal/voice"
)

type voiceSetup struct {
	transcriber voice.Transcriber
	synthesizer voice.Synthesizer
	mode        string
}

// resolveVoice picks the audio backend. Voice follows the chat provider:
// with a real key both run against OpenAI, otherwise both stay mocked so a
// keyless checkout still serves voice turns end to end.
func resolveVoice(cfg config.Config, chatMode string) voiceSetup {
	if chatMode != "openai" {
		mock := voice.NewMockVoice()
		return voiceSetup{transcriber: mock, synthesizer: mock, mode: "mock"}
	}
	v := voice.NewOpenAIVoice(voice.OpenAIConfig{
		APIKey:   cfg.OpenAIAPIKey,
		BaseURL:  cfg.OpenAIBaseURL,
		STTModel: cfg.STTModel,
		TTSModel: cfg.TTSModel,
		Speed:    cfg.TTSSpeed,
		Timeout:  cfg.ProviderTimeout,
		Retries:  cfg.MaxProviderRetries,
	})
	return voiceSetup{transcriber: v, synthesizer: v, mode: "openai"}
}
