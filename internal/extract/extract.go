// Package extract turns conversation turns into patch operations against
// the intake record by forcing the chat model through a single tool call.
package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/avoncourt/voxform/internal/forms"
	"github.com/avoncourt/voxform/internal/provider"
	"github.com/avoncourt/voxform/internal/record"
	"github.com/avoncourt/voxform/internal/session"
)

const (
	// ToolName is the function the model must call with its operations.
	ToolName = "record_intake_fields"

	toolDescription = "Record intake field values the user has explicitly provided, corrected, or retracted, as patch operations against the record. Never invent values."

	defaultContextTurns = 12
)

const systemPrompt = "You are the extraction half of an intake interview. " +
	"Read the conversation and call " + ToolName + " with one operation per field value the user explicitly provided, corrected, or retracted in their latest message. " +
	"Rules: never guess or infer values the user did not state; use add for a new value, replace to correct one already in the record, remove when the user retracts one; " +
	"only use paths from the allowed list; if the latest message contains no field values, call the tool with an empty operations array."

// Schema builds the tool definition for one form. Paths are constrained to
// the form's fields so the model cannot address anything else.
func Schema(cfg *forms.FormConfig) *schema.ToolInfo {
	paths := make([]string, 0, len(cfg.Fields))
	for _, f := range cfg.Fields {
		paths = append(paths, "/"+f.Key)
	}
	return &schema.ToolInfo{
		Name: ToolName,
		Desc: toolDescription,
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"operations": {
				Type:     schema.Array,
				Desc:     "Patch operations against the intake record. Empty when the user provided nothing new.",
				Required: true,
				ElemInfo: &schema.ParameterInfo{
					Type: schema.Object,
					SubParams: map[string]*schema.ParameterInfo{
						"op": {
							Type:     schema.String,
							Desc:     "add records a new value, replace corrects an existing one, remove retracts one.",
							Enum:     []string{"add", "replace", "remove"},
							Required: true,
						},
						"path": {
							Type:     schema.String,
							Desc:     "JSON Pointer of the field to change.",
							Enum:     paths,
							Required: true,
						},
						"value": {
							Type: schema.String,
							Desc: "New value as plain text. Dates as YYYY-MM-DD, times as HH:MM, amounts as bare numbers. Omit for remove.",
						},
					},
				},
			},
		}),
	}
}

// ToolExtractor extracts field values via a forced tool call on the chat
// model. It returns raw operations; sanitizing and applying them is the
// caller's job.
type ToolExtractor struct {
	caller       *provider.Caller
	contextTurns int
}

func NewToolExtractor(caller *provider.Caller, contextTurns int) *ToolExtractor {
	if contextTurns <= 0 {
		contextTurns = defaultContextTurns
	}
	return &ToolExtractor{caller: caller, contextTurns: contextTurns}
}

// Extract asks the model for patch operations covering the latest user
// message. A response without a tool call means nothing to record and is
// not an error.
func (e *ToolExtractor) Extract(ctx context.Context, cfg *forms.FormConfig, rec record.Partial, turns []session.Turn) ([]record.Op, error) {
	msgs, err := buildPrompt(cfg, rec, turns, e.contextTurns)
	if err != nil {
		return nil, err
	}

	info := Schema(cfg)
	resp, err := e.caller.Generate(ctx, "extract", msgs,
		model.WithTools([]*schema.ToolInfo{info}),
		model.WithToolChoice(schema.ToolChoiceForced, info.Name),
	)
	if err != nil {
		return nil, err
	}
	if len(resp.ToolCalls) == 0 {
		return nil, nil
	}

	var args struct {
		Operations []record.Op `json:"operations"`
	}
	if err := sonic.UnmarshalString(resp.ToolCalls[0].Function.Arguments, &args); err != nil {
		return nil, fmt.Errorf("parse %s arguments: %w", ToolName, err)
	}
	return args.Operations, nil
}

func buildPrompt(cfg *forms.FormConfig, rec record.Partial, turns []session.Turn, contextTurns int) ([]*schema.Message, error) {
	if rec == nil {
		rec = record.Partial{}
	}
	stateJSON, err := sonic.MarshalString(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record state: %w", err)
	}

	paths := make([]string, 0, len(cfg.Fields))
	for _, f := range cfg.Fields {
		paths = append(paths, "/"+f.Key)
	}

	sections := []string{
		fmt.Sprintf("# Current record JSON:\n%s", stateJSON),
		fmt.Sprintf("# Allowed paths:\n%s", formatAllowedPaths(paths)),
	}
	if s := formatMissingSection(cfg, rec); s != "" {
		sections = append(sections, s)
	}
	if s := formatGuidanceSection(cfg); s != "" {
		sections = append(sections, s)
	}
	sections = append(sections, fmt.Sprintf("# Conversation:\n%s", formatConversation(turns, contextTurns)))

	return []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(strings.Join(sections, "\n\n")),
	}, nil
}

func formatAllowedPaths(paths []string) string {
	var sb strings.Builder
	for _, path := range paths {
		sb.WriteString("- ")
		sb.WriteString(path)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatMissingSection(cfg *forms.FormConfig, rec record.Partial) string {
	comp := record.Evaluate(cfg, rec)
	if len(comp.Missing) == 0 {
		return ""
	}
	result := "# Missing required fields:\n"
	for _, key := range comp.Missing {
		spec, ok := cfg.Field(key)
		if !ok {
			continue
		}
		result += fmt.Sprintf("- %s [/%s]", spec.Label, spec.Key)
		if spec.Description != "" {
			result += fmt.Sprintf(": %s", spec.Description)
		}
		result += "\n"
	}
	return strings.TrimRight(result, "\n")
}

func formatGuidanceSection(cfg *forms.FormConfig) string {
	result := "# Field guidance:\n"
	for _, f := range cfg.Fields {
		result += fmt.Sprintf("- /%s: %s", f.Key, valueHint(f))
		if f.Description != "" {
			result += fmt.Sprintf("; %s", f.Description)
		}
		result += "\n"
	}
	return strings.TrimRight(result, "\n")
}

func valueHint(f forms.FieldSpec) string {
	switch f.Type {
	case forms.TypeNumber:
		return "a number"
	case forms.TypeCurrency:
		return "an amount, digits only"
	case forms.TypeBoolean:
		return "true or false"
	case forms.TypeDate:
		return "a date, YYYY-MM-DD"
	case forms.TypeTime:
		return "a time of day, HH:MM"
	case forms.TypeDateTime:
		return "a date and time, RFC 3339"
	case forms.TypeEmail:
		return "an email address"
	case forms.TypePhone:
		return "a phone number"
	case forms.TypeSelect:
		return "one of: " + strings.Join(f.Choices, ", ")
	case forms.TypeMultiSelect:
		return "any of: " + strings.Join(f.Choices, ", ")
	default:
		return "free text"
	}
}

func formatConversation(turns []session.Turn, contextTurns int) string {
	if len(turns) > contextTurns {
		turns = turns[len(turns)-contextTurns:]
	}
	var sb strings.Builder
	for _, t := range turns {
		sb.WriteString(t.Role)
		sb.WriteString(": ")
		sb.WriteString(strings.ReplaceAll(t.Content, "\n", " "))
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
