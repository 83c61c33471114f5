// Package voice turns opaque base64 audio into text and back over the
// OpenAI-compatible audio endpoints. No codec work happens here; payloads
// pass through as the client sent them.
package voice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/avoncourt/voxform/internal/provider"
	"github.com/avoncourt/voxform/internal/reliability"
)

type TranscribeRequest struct {
	AudioBase64 string
	Language    string
}

type TranscribeResult struct {
	Text string
}

type SynthesizeRequest struct {
	Text    string
	VoiceID string
}

type SynthesizeResult struct {
	AudioBase64 string
	Format      string
}

type Transcriber interface {
	Transcribe(ctx context.Context, req TranscribeRequest) (TranscribeResult, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesizeRequest) (SynthesizeResult, error)
}

const DefaultVoice = "alloy"

// KnownVoices lists the synthesis voices a form may pick from.
func KnownVoices() []string {
	return []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}
}

func ValidVoice(id string) bool {
	for _, v := range KnownVoices() {
		if v == id {
			return true
		}
	}
	return false
}

type OpenAIConfig struct {
	APIKey   string
	BaseURL  string
	STTModel string
	TTSModel string
	Speed    float64
	Timeout  time.Duration
	Retries  int
}

// OpenAIVoice implements Transcriber and Synthesizer over HTTP.
type OpenAIVoice struct {
	cfg    OpenAIConfig
	client *http.Client
}

func NewOpenAIVoice(cfg OpenAIConfig) *OpenAIVoice {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.STTModel == "" {
		cfg.STTModel = "whisper-1"
	}
	if cfg.TTSModel == "" {
		cfg.TTSModel = "tts-1"
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 1.0
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIVoice{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

func (v *OpenAIVoice) Transcribe(ctx context.Context, req TranscribeRequest) (TranscribeResult, error) {
	audio, err := base64.StdEncoding.DecodeString(req.AudioBase64)
	if err != nil {
		return TranscribeResult{}, &provider.Error{Op: "stt", Err: fmt.Errorf("decode audio: %w", err)}
	}
	if len(audio) == 0 {
		return TranscribeResult{}, &provider.Error{Op: "stt", Err: errors.New("empty audio payload")}
	}

	var out struct {
		Text string `json:"text"`
	}
	call := func() error {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		part, err := w.CreateFormFile("file", "audio.webm")
		if err != nil {
			return err
		}
		if _, err := part.Write(audio); err != nil {
			return err
		}
		_ = w.WriteField("model", v.cfg.STTModel)
		if req.Language != "" {
			_ = w.WriteField("language", req.Language)
		}
		_ = w.WriteField("response_format", "json")
		if err := w.Close(); err != nil {
			return err
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.BaseURL+"/audio/transcriptions", &buf)
		if err != nil {
			return err
		}
		httpReq.Header.Set("Authorization", "Bearer "+v.cfg.APIKey)
		httpReq.Header.Set("Content-Type", w.FormDataContentType())

		resp, err := v.client.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return statusFailure("stt", resp)
		}
		return json.NewDecoder(resp.Body).Decode(&out)
	}
	if err := v.do(ctx, "stt", call); err != nil {
		return TranscribeResult{}, err
	}
	return TranscribeResult{Text: strings.TrimSpace(out.Text)}, nil
}

func (v *OpenAIVoice) Synthesize(ctx context.Context, req SynthesizeRequest) (SynthesizeResult, error) {
	text := SanitizeSpeechText(req.Text)
	if text == "" {
		return SynthesizeResult{}, &provider.Error{Op: "tts", Err: errors.New("nothing speakable in reply")}
	}
	voiceID := req.VoiceID
	if !ValidVoice(voiceID) {
		voiceID = DefaultVoice
	}

	payload, err := sonic.Marshal(map[string]any{
		"model":           v.cfg.TTSModel,
		"input":           text,
		"voice":           voiceID,
		"speed":           v.cfg.Speed,
		"response_format": "mp3",
	})
	if err != nil {
		return SynthesizeResult{}, &provider.Error{Op: "tts", Err: fmt.Errorf("encode request: %w", err)}
	}

	var audio []byte
	call := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.BaseURL+"/audio/speech", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Authorization", "Bearer "+v.cfg.APIKey)
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := v.client.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return statusFailure("tts", resp)
		}
		audio, err = io.ReadAll(resp.Body)
		return err
	}
	if err := v.do(ctx, "tts", call); err != nil {
		return SynthesizeResult{}, err
	}
	return SynthesizeResult{
		AudioBase64: base64.StdEncoding.EncodeToString(audio),
		Format:      "mp3",
	}, nil
}

func (v *OpenAIVoice) do(ctx context.Context, op string, call func() error) error {
	err := reliability.Do(ctx, v.cfg.Retries, 250*time.Millisecond, 4*time.Second, call, provider.IsRetryable, nil)
	if err == nil {
		return nil
	}
	var pe *provider.Error
	if errors.As(err, &pe) {
		return err
	}
	return &provider.Error{Op: op, Err: err, Retryable: reliability.IsRetryableTransport(err)}
}

func statusFailure(op string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &provider.Error{
		Op:        op,
		Status:    resp.StatusCode,
		Err:       fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
		Retryable: reliability.IsRetryableHTTPStatus(resp.StatusCode),
	}
}
