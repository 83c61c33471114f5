package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestParseClientMessageUserMessage(t *testing.T) {
	raw := []byte(`{"type":"user_message","session_id":"s1","text":"my name is Jo"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	um, ok := msg.(UserMessage)
	if !ok {
		t.Fatalf("message type = %T, want UserMessage", msg)
	}
	if um.SessionID != "s1" || um.Text != "my name is Jo" {
		t.Fatalf("unexpected user message: %+v", um)
	}
}

func TestParseClientMessageUserAudio(t *testing.T) {
	raw := []byte(`{"type":"user_audio","session_id":"s1","audio_base64":"AQID","language":"en"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	ua, ok := msg.(UserAudio)
	if !ok {
		t.Fatalf("message type = %T, want UserAudio", msg)
	}
	if ua.AudioBase64 != "AQID" || ua.Language != "en" {
		t.Fatalf("unexpected user audio: %+v", ua)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsEmptyText(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"user_message","session_id":"s1","text":""}`))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestParseClientMessageRejectsOversizedText(t *testing.T) {
	raw := []byte(`{"type":"user_message","text":"` + strings.Repeat("a", MaxUserTextLen+1) + `"}`)
	_, err := ParseClientMessage(raw)
	if err == nil || !strings.Contains(err.Error(), "exceeds") {
		t.Fatalf("error = %v, want oversized-text error", err)
	}
}

func TestParseClientMessageRejectsEmptyAudio(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"user_audio","session_id":"s1","audio_base64":""}`))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func BenchmarkParseClientMessageUserMessage(b *testing.B) {
	raw := []byte(`{"type":"user_message","session_id":"s1","text":"my phone number is 555-0100"}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(UserMessage); !ok {
			b.Fatalf("message type = %T, want UserMessage", msg)
		}
	}
}
