package voice

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/avoncourt/voxform/internal/provider"
)

// MockVoice is the development stand-in for both audio directions. Audio
// that decodes to UTF-8 text transcribes to that text, so voice turns can
// be driven end to end by base64-encoding plain sentences; synthesis
// returns the sanitized reply bytes with format "text".
type MockVoice struct{}

func NewMockVoice() *MockVoice { return &MockVoice{} }

func (MockVoice) Transcribe(_ context.Context, req TranscribeRequest) (TranscribeResult, error) {
	raw, err := base64.StdEncoding.DecodeString(req.AudioBase64)
	if err != nil {
		return TranscribeResult{}, &provider.Error{Op: "stt", Err: fmt.Errorf("decode audio: %w", err)}
	}
	if utf8.Valid(raw) && strings.TrimSpace(string(raw)) != "" {
		return TranscribeResult{Text: strings.TrimSpace(string(raw))}, nil
	}
	return TranscribeResult{Text: "Hello, I'd like to get started."}, nil
}

func (MockVoice) Synthesize(_ context.Context, req SynthesizeRequest) (SynthesizeResult, error) {
	text := SanitizeSpeechText(req.Text)
	return SynthesizeResult{
		AudioBase64: base64.StdEncoding.EncodeToString([]byte(text)),
		Format:      "text",
	}, nil
}
