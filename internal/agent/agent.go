// Package agent runs the per-form conversation pipeline: reply, extract,
// apply, evaluate. One DynamicAgent is built per form config snapshot and
// shared across sessions of that form.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/avoncourt/voxform/internal/extract"
	"github.com/avoncourt/voxform/internal/forms"
	"github.com/avoncourt/voxform/internal/prompt"
	"github.com/avoncourt/voxform/internal/provider"
	"github.com/avoncourt/voxform/internal/record"
	"github.com/avoncourt/voxform/internal/session"
)

var ErrEmptyInput = errors.New("empty user input")

const defaultHistoryMax = 40

// TurnResult is the outcome of one completed pipeline run. Nothing in it
// aliases the session that seeded it; committing it is the caller's job.
type TurnResult struct {
	Reply         string
	Record        record.Partial
	Completion    record.Completion
	DroppedOps    []record.OpError
	Stages        map[string]time.Duration
	UserTurn      session.Turn
	AssistantTurn session.Turn

	// PromptText is the dialogue prompt as sent, kept for token metering.
	PromptText string
}

type DynamicAgent struct {
	cfg          *forms.FormConfig
	systemPrompt string
	caller       *provider.Caller
	extractor    *extract.ToolExtractor
	trimmer      Trimmer
}

// New builds an agent for one config snapshot. The system prompt is
// generated once here; the registry replaces the agent when the form
// changes.
func New(cfg *forms.FormConfig, caller *provider.Caller, extractor *extract.ToolExtractor, historyMax int) (*DynamicAgent, error) {
	sys, err := prompt.Build(cfg, time.Now())
	if err != nil {
		return nil, err
	}
	if historyMax <= 0 {
		historyMax = defaultHistoryMax
	}
	snapshot := cfg.Clone()
	return &DynamicAgent{
		cfg:          &snapshot,
		systemPrompt: sys,
		caller:       caller,
		extractor:    extractor,
		trimmer:      KeepSystemLastNTrimmer{N: historyMax},
	}, nil
}

// Config returns a copy of the form snapshot this agent was built from.
func (a *DynamicAgent) Config() forms.FormConfig { return a.cfg.Clone() }

// Step runs one turn against copies of the session state. The sequence is
// reply, extract, apply, evaluate; any failure returns before a result
// exists, so the caller commits either the whole turn or nothing.
func (a *DynamicAgent) Step(ctx context.Context, sess *session.Session, userInput string) (*TurnResult, error) {
	userInput = strings.TrimSpace(userInput)
	if userInput == "" {
		return nil, ErrEmptyInput
	}

	stages := make(map[string]time.Duration, 3)
	userTurn := session.Turn{Role: session.RoleUser, Content: userInput, At: time.Now()}
	history := append(append([]session.Turn(nil), sess.Turns...), userTurn)

	started := time.Now()
	msgs := a.replyMessages(history, sess.Record)
	resp, err := a.caller.Generate(ctx, "reply", msgs)
	if err != nil {
		return nil, fmt.Errorf("generate reply: %w", err)
	}
	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		return nil, errors.New("model returned an empty reply")
	}
	stages["reply"] = time.Since(started)

	history = append(history, session.Turn{Role: session.RoleAssistant, Content: reply, At: time.Now()})

	started = time.Now()
	ops, err := a.extractor.Extract(ctx, a.cfg, sess.Record, history)
	if err != nil {
		return nil, fmt.Errorf("extract fields: %w", err)
	}
	stages["extract"] = time.Since(started)

	started = time.Now()
	clean, dropped := record.Sanitize(a.cfg, sess.Record, ops)
	rec, err := record.Apply(sess.Record, clean)
	if err != nil {
		return nil, fmt.Errorf("apply operations: %w", err)
	}
	stages["apply"] = time.Since(started)

	comp := record.Evaluate(a.cfg, rec)
	if comp.Complete && !sess.Complete && a.cfg.CompletionMessage != "" {
		reply = reply + "\n\n" + a.cfg.CompletionMessage
	}

	return &TurnResult{
		Reply:         reply,
		Record:        rec,
		Completion:    comp,
		DroppedOps:    dropped,
		Stages:        stages,
		UserTurn:      userTurn,
		AssistantTurn: session.Turn{Role: session.RoleAssistant, Content: reply, At: time.Now()},
		PromptText:    joinContents(msgs),
	}, nil
}

// replyMessages renders the system prompt plus the running conversation,
// with a short status block so the model knows what is still missing.
func (a *DynamicAgent) replyMessages(history []session.Turn, rec record.Partial) []*schema.Message {
	var sb strings.Builder
	sb.WriteString(a.systemPrompt)

	comp := record.Evaluate(a.cfg, rec)
	if len(comp.Missing) > 0 {
		sb.WriteString("\n\nStill to collect: ")
		for i, key := range comp.Missing {
			if i > 0 {
				sb.WriteString(", ")
			}
			if spec, ok := a.cfg.Field(key); ok {
				sb.WriteString(spec.Label)
			} else {
				sb.WriteString(key)
			}
		}
		sb.WriteString(".")
	} else {
		sb.WriteString("\n\nEvery required field is filled in. Confirm the details and close the conversation.")
	}

	msgs := make([]*schema.Message, 0, len(history)+1)
	msgs = append(msgs, schema.SystemMessage(sb.String()))
	for _, t := range history {
		if t.Role == session.RoleAssistant {
			msgs = append(msgs, &schema.Message{Role: schema.Assistant, Content: t.Content})
		} else {
			msgs = append(msgs, schema.UserMessage(t.Content))
		}
	}
	return a.trimmer.Trim(msgs)
}

func joinContents(msgs []*schema.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m != nil && m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n")
}
