// Package store persists form configs, transcripts, and submissions. The
// in-memory implementation backs local development; DATABASE_URL selects
// PostgreSQL. Callers hold the interfaces and never know which they got.
package store

import (
	"context"
	"time"

	"github.com/avoncourt/voxform/internal/forms"
	"github.com/avoncourt/voxform/internal/submit"
)

// TranscriptTurn is one persisted conversational turn, ordered by Seq
// within its session.
type TranscriptTurn struct {
	SessionID string    `json:"session_id"`
	Seq       int       `json:"seq"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	At        time.Time `json:"at"`
}

type FormStore interface {
	CreateForm(ctx context.Context, cfg *forms.FormConfig) error
	Form(ctx context.Context, id string) (*forms.FormConfig, error)
	Forms(ctx context.Context) ([]*forms.FormConfig, error)
	UpdateForm(ctx context.Context, cfg *forms.FormConfig) error
	DeleteForm(ctx context.Context, id string) error
}

type TranscriptStore interface {
	AppendTurns(ctx context.Context, turns []TranscriptTurn) error
	Transcript(ctx context.Context, sessionID string) ([]TranscriptTurn, error)
}

type SubmissionStore interface {
	AppendSubmission(ctx context.Context, sub submit.Submission) error
	SubmissionsBySession(ctx context.Context, sessionID string) ([]submit.Submission, error)
}

// Store is the full persistence surface the runtime wires in.
type Store interface {
	FormStore
	TranscriptStore
	SubmissionStore
	Ping(ctx context.Context) error
	Close() error
}
