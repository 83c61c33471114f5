package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/avoncourt/voxform/internal/cost"
	"github.com/avoncourt/voxform/internal/record"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeUserMessage   MessageType = "user_message"
	TypeUserAudio     MessageType = "user_audio"
	TypeTurnStarted   MessageType = "turn_started"
	TypeAgentReply    MessageType = "agent_reply"
	TypeRecordUpdated MessageType = "record_updated"
	TypeTurnComplete  MessageType = "turn_complete"
	TypeErrorEvent    MessageType = "error"
)

// Error codes carried by ErrorEvent.
const (
	CodeBadMessage = "bad_message"
	CodeNotFound   = "session_not_found"
	CodeConflict   = "turn_in_flight"
	CodeEmptyInput = "empty_input"
	CodeProvider   = "provider_error"
	CodeInternal   = "internal_error"
)

// MaxUserTextLen bounds a single typed message; longer input is rejected
// before it reaches the model.
const MaxUserTextLen = 8000

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type UserMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Text      string      `json:"text"`
}

type UserAudio struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id,omitempty"`
	AudioBase64 string      `json:"audio_base64"`
	Language    string      `json:"language,omitempty"`
}

type TurnStarted struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
}

type AgentReply struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	TurnID      string      `json:"turn_id"`
	Text        string      `json:"text"`
	Transcript  string      `json:"transcript,omitempty"`
	AudioBase64 string      `json:"audio_base64,omitempty"`
	AudioFormat string      `json:"audio_format,omitempty"`
}

type RecordUpdated struct {
	Type       MessageType      `json:"type"`
	SessionID  string           `json:"session_id"`
	TurnID     string           `json:"turn_id"`
	Record     record.Partial   `json:"record"`
	DroppedOps []record.OpError `json:"dropped_ops,omitempty"`
}

type TurnComplete struct {
	Type       MessageType       `json:"type"`
	SessionID  string            `json:"session_id"`
	TurnID     string            `json:"turn_id"`
	Completion record.Completion `json:"completion"`
	Cost       *cost.Usage       `json:"cost,omitempty"`
	StageMS    map[string]int64  `json:"stage_ms,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// ParseClientMessage decodes and validates one inbound websocket frame.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeUserMessage:
		var msg UserMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Text == "" {
			return nil, errors.New("invalid user_message: empty text")
		}
		if !utf8.ValidString(msg.Text) {
			return nil, errors.New("invalid user_message: text is not valid UTF-8")
		}
		if len(msg.Text) > MaxUserTextLen {
			return nil, fmt.Errorf("invalid user_message: text exceeds %d bytes", MaxUserTextLen)
		}
		return msg, nil
	case TypeUserAudio:
		var msg UserAudio
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.AudioBase64 == "" {
			return nil, errors.New("invalid user_audio: empty audio_base64")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
