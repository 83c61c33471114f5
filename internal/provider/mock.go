package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/avoncourt/voxform/internal/record"
)

// MockChatModel provides deterministic local behavior when no real model
// is configured. Dialogue prompts get a canned acknowledgment; extraction
// prompts get a tool call built from "key: value" fragments in the last
// user utterance, so the whole patch path still runs in mock mode.
type MockChatModel struct{}

func NewMockChatModel() *MockChatModel { return &MockChatModel{} }

const (
	allowedPathsMarker = "# Allowed paths:"
	conversationMarker = "# Conversation:"
	mockToolName       = "record_intake_fields"
)

func (m *MockChatModel) Generate(ctx context.Context, msgs []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	prompt := lastUserContent(msgs)
	if strings.Contains(prompt, allowedPathsMarker) {
		return m.extractionResponse(prompt)
	}
	return &schema.Message{
		Role:    schema.Assistant,
		Content: mockReply(msgs),
	}, nil
}

func (m *MockChatModel) Stream(ctx context.Context, msgs []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("mock chat model does not stream")
}

func (m *MockChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

func (m *MockChatModel) extractionResponse(prompt string) (*schema.Message, error) {
	allowed := parseAllowedPaths(prompt)
	utterance := lastConversationUserLine(prompt)
	ops := parseAssignments(utterance, allowed)

	args, err := sonic.MarshalString(struct {
		Operations []record.Op `json:"operations"`
	}{Operations: ops})
	if err != nil {
		return nil, err
	}
	return &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{{
			ID: "mock-call-1",
			Function: schema.FunctionCall{
				Name:      mockToolName,
				Arguments: args,
			},
		}},
	}, nil
}

func mockReply(msgs []*schema.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == schema.User && strings.TrimSpace(msgs[i].Content) != "" {
			return "Got it, thank you. What else can you share?"
		}
	}
	return "Hello! How can I help you today?"
}

func lastUserContent(msgs []*schema.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == schema.User {
			return msgs[i].Content
		}
	}
	return ""
}

func parseAllowedPaths(prompt string) map[string]bool {
	allowed := make(map[string]bool)
	section := sectionAfter(prompt, allowedPathsMarker)
	for _, line := range strings.Split(section, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if strings.HasPrefix(line, "/") {
			allowed[strings.TrimPrefix(line, "/")] = true
		}
	}
	return allowed
}

func lastConversationUserLine(prompt string) string {
	section := sectionAfter(prompt, conversationMarker)
	lines := strings.Split(section, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if rest, ok := strings.CutPrefix(line, "user:"); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

// sectionAfter returns the text between marker and the next "# " heading.
func sectionAfter(prompt, marker string) string {
	_, rest, ok := strings.Cut(prompt, marker)
	if !ok {
		return ""
	}
	if idx := strings.Index(rest, "\n# "); idx >= 0 {
		rest = rest[:idx]
	}
	return rest
}

// parseAssignments turns "name: Jo; phone: 555-0100" fragments into add
// operations on allowed keys.
func parseAssignments(utterance string, allowed map[string]bool) []record.Op {
	var ops []record.Op
	for _, part := range strings.FieldsFunc(utterance, func(r rune) bool { return r == ';' || r == ',' }) {
		key, value, ok := splitAssignment(part)
		if !ok {
			continue
		}
		key = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), " ", "_")
		value = strings.TrimSpace(value)
		if value == "" || !allowed[key] {
			continue
		}
		ops = append(ops, record.Op{Op: record.OpAdd, Path: "/" + key, Value: value})
	}
	return ops
}

func splitAssignment(part string) (key, value string, ok bool) {
	for _, sep := range []string{":", "=", " is "} {
		if k, v, found := strings.Cut(part, sep); found {
			return k, v, true
		}
	}
	return "", "", false
}
