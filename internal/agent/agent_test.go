package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/avoncourt/voxform/internal/extract"
	"github.com/avoncourt/voxform/internal/forms"
	"github.com/avoncourt/voxform/internal/provider"
	"github.com/avoncourt/voxform/internal/record"
	"github.com/avoncourt/voxform/internal/session"
)

func intakeConfig() *forms.FormConfig {
	return &forms.FormConfig{
		ID:                "form-1",
		Name:              "Callback Intake",
		Industry:          "home_services",
		Tone:              "friendly",
		Language:          "en",
		Greeting:          "Hi! I can set up your service call.",
		CompletionMessage: "All set, our team will call you shortly.",
		Fields: []forms.FieldSpec{
			{Key: "name", Label: "Full name", Type: forms.TypeName, Required: true},
			{Key: "phone", Label: "Phone number", Type: forms.TypePhone, Required: true},
		},
	}
}

// scriptedModel serves reply prompts from replies and extraction prompts
// from extracts, in order.
type scriptedModel struct {
	replies  []string
	extracts []string
	replyErr error

	replyCalls   int
	extractCalls int
}

func (s *scriptedModel) Generate(ctx context.Context, msgs []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	var lastUser string
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == schema.User {
			lastUser = msgs[i].Content
			break
		}
	}
	if strings.Contains(lastUser, "# Allowed paths:") {
		if s.extractCalls >= len(s.extracts) {
			return nil, errors.New("script exhausted: extract")
		}
		args := s.extracts[s.extractCalls]
		s.extractCalls++
		return &schema.Message{
			Role: schema.Assistant,
			ToolCalls: []schema.ToolCall{{
				ID:       "call-1",
				Function: schema.FunctionCall{Name: extract.ToolName, Arguments: args},
			}},
		}, nil
	}

	if s.replyErr != nil {
		return nil, s.replyErr
	}
	if s.replyCalls >= len(s.replies) {
		return nil, errors.New("script exhausted: reply")
	}
	reply := s.replies[s.replyCalls]
	s.replyCalls++
	return &schema.Message{Role: schema.Assistant, Content: reply}, nil
}

func (s *scriptedModel) Stream(ctx context.Context, msgs []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func (s *scriptedModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return s, nil
}

func newTestAgent(t *testing.T, sm *scriptedModel) *DynamicAgent {
	t.Helper()
	caller := provider.NewCaller(sm, time.Second, 0)
	a, err := New(intakeConfig(), caller, extract.NewToolExtractor(caller, 12), 40)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

func seedSession(cfg *forms.FormConfig) *session.Session {
	return &session.Session{
		ID:     "sess-1",
		FormID: cfg.ID,
		Status: session.StatusActive,
		Turns: []session.Turn{
			{Role: session.RoleAssistant, Content: cfg.Greeting, At: time.Now()},
		},
		Record:  record.Partial{},
		Missing: cfg.RequiredKeys(),
	}
}

func TestStepTwoTurnScenario(t *testing.T) {
	sm := &scriptedModel{
		replies: []string{
			"Thanks Jo! What's the best phone number for you?",
			"Perfect, I have everything I need.",
		},
		extracts: []string{
			`{"operations":[{"op":"add","path":"/name","value":"Jo"}]}`,
			`{"operations":[{"op":"add","path":"/phone","value":"555-0100"}]}`,
		},
	}
	a := newTestAgent(t, sm)
	sess := seedSession(intakeConfig())

	res1, err := a.Step(context.Background(), sess, "My name is Jo")
	if err != nil {
		t.Fatalf("Step(1) error = %v", err)
	}
	if got := res1.Record["name"]; got != "Jo" {
		t.Fatalf("after turn 1 name = %v, want Jo", got)
	}
	if res1.Completion.Complete {
		t.Fatalf("after turn 1 complete = true, want false")
	}
	if len(res1.Completion.Missing) != 1 || res1.Completion.Missing[0] != "phone" {
		t.Fatalf("after turn 1 missing = %v, want [phone]", res1.Completion.Missing)
	}

	sess.Turns = append(sess.Turns, res1.UserTurn, res1.AssistantTurn)
	sess.Record = res1.Record
	sess.Complete = res1.Completion.Complete
	sess.Missing = res1.Completion.Missing

	res2, err := a.Step(context.Background(), sess, "phone is 555-0100")
	if err != nil {
		t.Fatalf("Step(2) error = %v", err)
	}
	if got := res2.Record["phone"]; got != "555-0100" {
		t.Fatalf("after turn 2 phone = %v, want 555-0100", got)
	}
	if got := res2.Record["name"]; got != "Jo" {
		t.Fatalf("after turn 2 name = %v, want Jo", got)
	}
	if !res2.Completion.Complete {
		t.Fatalf("after turn 2 complete = false, want true")
	}
	if !strings.HasSuffix(res2.Reply, "All set, our team will call you shortly.") {
		t.Fatalf("completion message missing from reply: %q", res2.Reply)
	}
}

func TestStepFailedReplyLeavesSessionUntouched(t *testing.T) {
	sm := &scriptedModel{replyErr: errors.New("model offline")}
	a := newTestAgent(t, sm)
	sess := seedSession(intakeConfig())
	turnsBefore := len(sess.Turns)

	if _, err := a.Step(context.Background(), sess, "My name is Jo"); err == nil {
		t.Fatalf("Step() error = nil, want reply failure")
	}
	if len(sess.Turns) != turnsBefore {
		t.Fatalf("turns = %d, want %d", len(sess.Turns), turnsBefore)
	}
	if len(sess.Record) != 0 {
		t.Fatalf("record mutated: %v", sess.Record)
	}
}

func TestStepRejectsEmptyInput(t *testing.T) {
	a := newTestAgent(t, &scriptedModel{})
	if _, err := a.Step(context.Background(), seedSession(intakeConfig()), "   "); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("Step(blank) error = %v, want ErrEmptyInput", err)
	}
}

func TestStepDropsInvalidOpsButKeepsValid(t *testing.T) {
	sm := &scriptedModel{
		replies: []string{"Got it."},
		extracts: []string{
			`{"operations":[{"op":"add","path":"/name","value":"Jo"},{"op":"add","path":"/badfield","value":"x"},{"op":"add","path":"/phone","value":"nope"}]}`,
		},
	}
	a := newTestAgent(t, sm)

	res, err := a.Step(context.Background(), seedSession(intakeConfig()), "hello")
	if err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if got := res.Record["name"]; got != "Jo" {
		t.Fatalf("name = %v, want Jo", got)
	}
	if _, ok := res.Record["phone"]; ok {
		t.Fatalf("uncoercible phone stored: %v", res.Record["phone"])
	}
	if len(res.DroppedOps) != 2 {
		t.Fatalf("dropped = %+v, want 2", res.DroppedOps)
	}
}

func TestStepRecordsStageTimings(t *testing.T) {
	sm := &scriptedModel{
		replies:  []string{"Okay."},
		extracts: []string{`{"operations":[]}`},
	}
	a := newTestAgent(t, sm)

	res, err := a.Step(context.Background(), seedSession(intakeConfig()), "hello")
	if err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	for _, stage := range []string{"reply", "extract", "apply"} {
		if _, ok := res.Stages[stage]; !ok {
			t.Fatalf("stage %q missing from %v", stage, res.Stages)
		}
	}
	if res.PromptText == "" {
		t.Fatalf("PromptText empty")
	}
}

func TestTrimmerKeepsSystemAndTail(t *testing.T) {
	history := []*schema.Message{
		schema.SystemMessage("sys"),
		schema.UserMessage("one"),
		{Role: schema.Assistant, Content: "two"},
		schema.UserMessage("three"),
		{Role: schema.Assistant, Content: "four"},
	}
	out := KeepSystemLastNTrimmer{N: 2}.Trim(history)
	if len(out) != 3 {
		t.Fatalf("trimmed len = %d, want 3", len(out))
	}
	if out[0].Role != schema.System {
		t.Fatalf("first message role = %v, want system", out[0].Role)
	}
	if out[1].Content != "three" || out[2].Content != "four" {
		t.Fatalf("tail = %q, %q", out[1].Content, out[2].Content)
	}
}

func TestTrimmerShortHistoryUntouched(t *testing.T) {
	history := []*schema.Message{
		schema.SystemMessage("sys"),
		schema.UserMessage("one"),
	}
	if out := KeepSystemLastNTrimmer{N: 10}.Trim(history); len(out) != 2 {
		t.Fatalf("trimmed len = %d, want 2", len(out))
	}
}

func TestRegistryCachesPerVersion(t *testing.T) {
	builds := 0
	r := NewRegistry(func(cfg *forms.FormConfig) (*DynamicAgent, error) {
		builds++
		sm := &scriptedModel{}
		caller := provider.NewCaller(sm, time.Second, 0)
		return New(cfg, caller, extract.NewToolExtractor(caller, 12), 40)
	})

	cfg := intakeConfig()
	a1, err := r.For(cfg)
	if err != nil {
		t.Fatalf("For() error = %v", err)
	}
	a2, err := r.For(cfg)
	if err != nil {
		t.Fatalf("For() error = %v", err)
	}
	if a1 != a2 {
		t.Fatalf("same version rebuilt the agent")
	}
	if builds != 1 {
		t.Fatalf("builds = %d, want 1", builds)
	}

	cfg.UpdatedAt = cfg.UpdatedAt.Add(time.Minute)
	a3, err := r.For(cfg)
	if err != nil {
		t.Fatalf("For() error = %v", err)
	}
	if a3 == a1 {
		t.Fatalf("updated config reused the stale agent")
	}
	if builds != 2 {
		t.Fatalf("builds = %d, want 2", builds)
	}

	r.Invalidate(cfg.ID)
	if _, err := r.For(cfg); err != nil {
		t.Fatalf("For() after Invalidate error = %v", err)
	}
	if builds != 3 {
		t.Fatalf("builds = %d, want 3", builds)
	}
}
