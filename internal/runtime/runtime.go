// Package runtime connects the session manager, the per-form agents, the
// stores, and the voice providers into the operations the transport layer
// exposes. All turn work runs on snapshots; the live session changes only
// when a turn commits.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/avoncourt/voxform/internal/agent"
	"github.com/avoncourt/voxform/internal/cost"
	"github.com/avoncourt/voxform/internal/observability"
	"github.com/avoncourt/voxform/internal/policy"
	"github.com/avoncourt/voxform/internal/provider"
	"github.com/avoncourt/voxform/internal/record"
	"github.com/avoncourt/voxform/internal/session"
	"github.com/avoncourt/voxform/internal/store"
	"github.com/avoncourt/voxform/internal/submit"
	"github.com/avoncourt/voxform/internal/voice"
)

var ErrEmptyTranscript = errors.New("audio produced an empty transcript")

const (
	persistTimeout  = 3 * time.Second
	finalizeTimeout = 10 * time.Second
)

// TurnOutput is one committed turn as handed to the transport layer. Voice
// turns additionally carry the recognized user text and the reply audio.
type TurnOutput struct {
	SessionID   string                   `json:"session_id"`
	TurnID      string                   `json:"turn_id"`
	Reply       string                   `json:"reply"`
	UserText    string                   `json:"user_text,omitempty"`
	Record      record.Partial           `json:"record"`
	Completion  record.Completion        `json:"completion"`
	DroppedOps  []record.OpError         `json:"dropped_ops,omitempty"`
	Cost        *cost.Usage              `json:"cost,omitempty"`
	Stages      map[string]time.Duration `json:"-"`
	AudioBase64 string                   `json:"audio_base64,omitempty"`
	AudioFormat string                   `json:"audio_format,omitempty"`
}

// StageMS renders the stage timings in milliseconds for wire payloads.
func (o *TurnOutput) StageMS() map[string]int64 {
	if len(o.Stages) == 0 {
		return nil
	}
	out := make(map[string]int64, len(o.Stages))
	for stage, d := range o.Stages {
		out[stage] = d.Milliseconds()
	}
	return out
}

type Runtime struct {
	db          store.Store
	sessions    *session.Manager
	agents      *agent.Registry
	transcriber voice.Transcriber
	synthesizer voice.Synthesizer
	submitter   submit.Submitter
	meter       *cost.Meter
	metrics     *observability.Metrics
	logger      *slog.Logger
	chatModel   string
	defaultLang string
}

func New(
	db store.Store,
	sessions *session.Manager,
	agents *agent.Registry,
	transcriber voice.Transcriber,
	synthesizer voice.Synthesizer,
	submitter submit.Submitter,
	meter *cost.Meter,
	metrics *observability.Metrics,
	logger *slog.Logger,
	chatModel string,
	defaultLanguage string,
) *Runtime {
	if meter == nil {
		meter = cost.NewMeter()
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "runtime")
	if defaultLanguage == "" {
		defaultLanguage = "en"
	}
	r := &Runtime{
		db:          db,
		sessions:    sessions,
		agents:      agents,
		transcriber: transcriber,
		synthesizer: synthesizer,
		submitter:   submitter,
		meter:       meter,
		metrics:     metrics,
		logger:      logger,
		chatModel:   chatModel,
		defaultLang: defaultLanguage,
	}
	sessions.SetExpireHook(r.handleExpire)
	return r
}

// StartSession opens a conversation for the form. The form's greeting
// becomes the opening assistant turn and is persisted right away.
func (r *Runtime) StartSession(ctx context.Context, formID, language string) (*session.Session, error) {
	cfg, err := r.db.Form(ctx, formID)
	if err != nil {
		return nil, err
	}
	// Request language wins, then the form's, then the service default.
	lang := strings.TrimSpace(language)
	if lang == "" {
		lang = cfg.Language
	}
	if lang == "" {
		lang = r.defaultLang
	}

	comp := record.Evaluate(cfg, record.Partial{})
	sess := r.sessions.Create(cfg.ID, lang, cfg.Greeting, comp)
	if cfg.Greeting != "" {
		r.persistTurns([]store.TranscriptTurn{{
			SessionID: sess.ID,
			Seq:       0,
			Role:      session.RoleAssistant,
			Content:   cfg.Greeting,
			At:        sess.StartedAt,
		}})
	}
	r.setActiveGauge()
	r.logger.Info("session started",
		"session_id", sess.ID, "form_id", cfg.ID, "language", lang)
	return sess, nil
}

// StartTurn runs one text turn to completion and commits it.
func (r *Runtime) StartTurn(ctx context.Context, sessionID, userInput string) (*TurnOutput, error) {
	start := time.Now()
	out, err := r.turn(ctx, sessionID, userInput, "text")
	if err != nil {
		return nil, err
	}
	r.finishTurn(out, time.Since(start))
	return out, nil
}

// VoiceTurn transcribes the audio, runs the text turn on the transcript,
// and synthesizes the reply with the form's voice. Synthesis failure
// degrades to a text-only result; the turn is already committed by then.
func (r *Runtime) VoiceTurn(ctx context.Context, sessionID, audioB64 string) (*TurnOutput, error) {
	start := time.Now()
	sess, err := r.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	cfg, err := r.db.Form(ctx, sess.FormID)
	if err != nil {
		r.countFailure("form")
		return nil, fmt.Errorf("load form %s: %w", sess.FormID, err)
	}

	sttStart := time.Now()
	tr, err := r.transcriber.Transcribe(ctx, voice.TranscribeRequest{
		AudioBase64: audioB64,
		Language:    sess.Language,
	})
	if err != nil {
		r.countFailure("stt")
		return nil, fmt.Errorf("transcribe audio: %w", err)
	}
	sttDur := time.Since(sttStart)

	userText := strings.TrimSpace(tr.Text)
	if userText == "" {
		return nil, ErrEmptyTranscript
	}

	out, err := r.turn(ctx, sessionID, userText, "voice")
	if err != nil {
		return nil, err
	}
	out.UserText = userText
	out.Stages["stt"] = sttDur
	if r.metrics != nil {
		r.metrics.ObserveTurnStage("stt", sttDur)
		r.metrics.ProviderRequests.WithLabelValues("transcribe").Observe(sttDur.Seconds())
	}

	ttsStart := time.Now()
	speech, err := r.synthesizer.Synthesize(ctx, voice.SynthesizeRequest{
		Text:    out.Reply,
		VoiceID: cfg.VoiceID,
	})
	if err != nil {
		r.countFailure("tts")
		r.logger.Warn("speech synthesis failed, returning text only",
			"session_id", sessionID, "turn_id", out.TurnID, "error", err)
	} else {
		ttsDur := time.Since(ttsStart)
		out.AudioBase64 = speech.AudioBase64
		out.AudioFormat = speech.Format
		out.Stages["tts"] = ttsDur
		if r.metrics != nil {
			r.metrics.ObserveTurnStage("tts", ttsDur)
			r.metrics.ProviderRequests.WithLabelValues("synthesize").Observe(ttsDur.Seconds())
		}
	}

	r.finishTurn(out, time.Since(start))
	return out, nil
}

// GetState returns a snapshot of the live session.
func (r *Runtime) GetState(_ context.Context, sessionID string) (*session.Session, error) {
	return r.sessions.Get(sessionID)
}

// Sessions lists live sessions, newest first.
func (r *Runtime) Sessions() []*session.Session {
	return r.sessions.List()
}

// Transcript returns the conversation for a session, live or ended.
func (r *Runtime) Transcript(ctx context.Context, sessionID string) ([]store.TranscriptTurn, error) {
	if sess, err := r.sessions.Get(sessionID); err == nil {
		turns := make([]store.TranscriptTurn, 0, len(sess.Turns))
		for i, t := range sess.Turns {
			turns = append(turns, store.TranscriptTurn{
				SessionID: sessionID,
				Seq:       i,
				Role:      t.Role,
				Content:   t.Content,
				At:        t.At,
			})
		}
		return turns, nil
	}
	turns, err := r.db.Transcript(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(turns) == 0 {
		return nil, session.ErrNotFound
	}
	return turns, nil
}

// EndSession closes the session, persists its transcript, and delivers the
// submission if the record completed without one.
func (r *Runtime) EndSession(_ context.Context, sessionID string) (*session.Session, error) {
	sess, err := r.sessions.End(sessionID)
	if err != nil {
		return nil, err
	}
	r.finalizeSession(sess, "ended")
	r.setActiveGauge()
	return sess, nil
}

// turn is the shared text pipeline behind StartTurn and VoiceTurn. It
// claims the session's turn slot, runs the agent on the snapshot, delivers
// a due submission, then commits turn pair, record, and completion in one
// mutation. Any error before the commit leaves the session untouched.
func (r *Runtime) turn(ctx context.Context, sessionID, userInput, mode string) (*TurnOutput, error) {
	sess, err := r.sessions.BeginTurn(sessionID)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			r.sessions.AbortTurn(sessionID)
		}
	}()

	turnID := uuid.NewString()

	cfg, err := r.db.Form(ctx, sess.FormID)
	if err != nil {
		r.countFailure("form")
		return nil, fmt.Errorf("load form %s: %w", sess.FormID, err)
	}
	ag, err := r.agents.For(cfg)
	if err != nil {
		r.countFailure("agent")
		return nil, fmt.Errorf("build agent for form %s: %w", cfg.ID, err)
	}

	res, err := ag.Step(ctx, sess, userInput)
	if err != nil {
		if !errors.Is(err, agent.ErrEmptyInput) {
			r.countFailure(stageOf(err))
		}
		return nil, err
	}

	var submittedAt *time.Time
	if res.Completion.Complete && !sess.Complete && sess.SubmittedAt == nil {
		submittedAt = r.deliverSubmission(cfg.ID, sessionID, res.Record)
	}

	baseSeq := len(sess.Turns)
	err = r.sessions.CommitTurn(sessionID, func(s *session.Session) {
		s.Turns = append(s.Turns, res.UserTurn, res.AssistantTurn)
		s.Record = res.Record
		s.Complete = res.Completion.Complete
		s.Missing = append([]string(nil), res.Completion.Missing...)
		if submittedAt != nil {
			s.SubmittedAt = submittedAt
		}
	})
	if err != nil {
		return nil, err
	}
	committed = true

	r.persistTurns([]store.TranscriptTurn{
		{SessionID: sessionID, Seq: baseSeq, Role: res.UserTurn.Role, Content: res.UserTurn.Content, At: res.UserTurn.At},
		{SessionID: sessionID, Seq: baseSeq + 1, Role: res.AssistantTurn.Role, Content: res.AssistantTurn.Content, At: res.AssistantTurn.At},
	})

	usage := r.meter.Estimate(r.chatModel, res.PromptText, res.Reply)
	if r.metrics != nil {
		r.metrics.Turns.WithLabelValues(mode).Inc()
		r.metrics.EstimatedCostUSD.Add(usage.USD)
		for stage, d := range res.Stages {
			r.metrics.ObserveTurnStage(stage, d)
		}
		if d, ok := res.Stages["reply"]; ok {
			r.metrics.ProviderRequests.WithLabelValues("reply").Observe(d.Seconds())
		}
		if d, ok := res.Stages["extract"]; ok {
			r.metrics.ProviderRequests.WithLabelValues("extract").Observe(d.Seconds())
		}
		if len(res.DroppedOps) > 0 {
			r.metrics.ObserveTurnIndicator("dropped_ops")
			for _, e := range res.DroppedOps {
				r.metrics.DroppedOps.WithLabelValues(dropLabel(e)).Inc()
			}
		}
		if res.Completion.Complete && !sess.Complete {
			r.metrics.ObserveTurnIndicator("completion")
		}
	}

	r.logger.Info("turn committed",
		"session_id", sessionID, "turn_id", turnID, "mode", mode,
		"prompt_tokens", usage.PromptTokens, "completion_tokens", usage.CompletionTokens,
		"cost_usd", usage.USD, "dropped_ops", len(res.DroppedOps),
		"complete", res.Completion.Complete, "missing", len(res.Completion.Missing))
	// Turn content is debug-only and always redacted.
	r.logger.Debug("turn content",
		"session_id", sessionID, "turn_id", turnID,
		"user", policy.LogPreview(res.UserTurn.Content, 160),
		"reply", policy.LogPreview(res.Reply, 160))

	return &TurnOutput{
		SessionID:  sessionID,
		TurnID:     turnID,
		Reply:      res.Reply,
		Record:     res.Record,
		Completion: res.Completion,
		DroppedOps: res.DroppedOps,
		Cost:       &usage,
		Stages:     res.Stages,
	}, nil
}

func (r *Runtime) finishTurn(out *TurnOutput, total time.Duration) {
	out.Stages["total"] = total
	if r.metrics != nil {
		r.metrics.ObserveTurnStage("total", total)
		r.metrics.ObserveTurnDuration(total)
	}
}

// deliverSubmission hands the completed record to the submitter. The
// returned time stamps the session only when delivery succeeded; a failed
// delivery stays pending and is retried when the session ends or expires.
func (r *Runtime) deliverSubmission(formID, sessionID string, rec record.Partial) *time.Time {
	sub := submit.Submission{
		ID:        uuid.NewString(),
		FormID:    formID,
		SessionID: sessionID,
		Record:    rec.Clone(),
		At:        time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	if err := r.submitter.Submit(ctx, sub); err != nil {
		r.logger.Error("submission delivery failed",
			"submission_id", sub.ID, "session_id", sessionID, "form_id", formID, "error", err)
		if r.metrics != nil {
			r.metrics.Submissions.WithLabelValues("failed").Inc()
		}
		return nil
	}
	if err := r.db.AppendSubmission(ctx, sub); err != nil {
		r.logger.Warn("submission store write failed",
			"submission_id", sub.ID, "session_id", sessionID, "error", err)
	}
	if r.metrics != nil {
		r.metrics.Submissions.WithLabelValues("delivered").Inc()
	}
	r.logger.Info("submission delivered",
		"submission_id", sub.ID, "session_id", sessionID, "form_id", formID)
	return &sub.At
}

// finalizeSession persists the full transcript (idempotent by sequence)
// and delivers a completed-but-unsubmitted record.
func (r *Runtime) finalizeSession(sess *session.Session, cause string) {
	turns := make([]store.TranscriptTurn, 0, len(sess.Turns))
	for i, t := range sess.Turns {
		turns = append(turns, store.TranscriptTurn{
			SessionID: sess.ID,
			Seq:       i,
			Role:      t.Role,
			Content:   t.Content,
			At:        t.At,
		})
	}
	r.persistTurns(turns)

	if sess.Complete && sess.SubmittedAt == nil {
		r.deliverSubmission(sess.FormID, sess.ID, sess.Record)
	}
	r.logger.Info("session closed",
		"session_id", sess.ID, "form_id", sess.FormID, "cause", cause,
		"turns", len(sess.Turns), "complete", sess.Complete)
}

func (r *Runtime) handleExpire(sess *session.Session) {
	r.finalizeSession(sess, "expired")
	if r.metrics != nil {
		r.metrics.SessionsExpired.Inc()
	}
	r.setActiveGauge()
}

func (r *Runtime) persistTurns(turns []store.TranscriptTurn) {
	if len(turns) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := r.db.AppendTurns(ctx, turns); err != nil {
		r.logger.Warn("transcript write failed",
			"session_id", turns[0].SessionID, "turns", len(turns), "error", err)
		if r.metrics != nil {
			r.metrics.ObserveTurnIndicator("transcript_write_failed")
		}
	}
}

func (r *Runtime) setActiveGauge() {
	if r.metrics != nil {
		r.metrics.ActiveSessions.Set(float64(r.sessions.ActiveCount()))
	}
}

func (r *Runtime) countFailure(stage string) {
	if r.metrics != nil {
		r.metrics.TurnFailures.WithLabelValues(stage).Inc()
	}
}

// stageOf labels a pipeline failure with the provider operation that
// caused it when one is identifiable.
func stageOf(err error) string {
	var pe *provider.Error
	if errors.As(err, &pe) && pe.Op != "" {
		return pe.Op
	}
	return "pipeline"
}

// dropLabel folds free-form sanitize reasons into a bounded label set.
func dropLabel(e record.OpError) string {
	switch {
	case e.Reason == "unknown field":
		return "unknown_field"
	case strings.HasPrefix(e.Reason, "unknown op"):
		return "unknown_op"
	case strings.HasPrefix(e.Reason, "malformed path"):
		return "malformed_path"
	default:
		return "invalid_value"
	}
}
