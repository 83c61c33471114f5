package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/avoncourt/voxform/internal/forms"
	"github.com/avoncourt/voxform/internal/submit"
)

// MemoryStore is the in-process store for local/dev use.
type MemoryStore struct {
	mu          sync.RWMutex
	forms       map[string]forms.FormConfig
	transcripts map[string][]TranscriptTurn
	submissions map[string][]submit.Submission
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		forms:       make(map[string]forms.FormConfig),
		transcripts: make(map[string][]TranscriptTurn),
		submissions: make(map[string][]submit.Submission),
	}
}

func (s *MemoryStore) CreateForm(_ context.Context, cfg *forms.FormConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forms[cfg.ID] = cfg.Clone()
	return nil
}

func (s *MemoryStore) Form(_ context.Context, id string) (*forms.FormConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.forms[id]
	if !ok {
		return nil, forms.ErrNotFound
	}
	out := cfg.Clone()
	return &out, nil
}

func (s *MemoryStore) Forms(_ context.Context) ([]*forms.FormConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*forms.FormConfig, 0, len(s.forms))
	for _, cfg := range s.forms {
		c := cfg.Clone()
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) UpdateForm(_ context.Context, cfg *forms.FormConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.forms[cfg.ID]; !ok {
		return forms.ErrNotFound
	}
	s.forms[cfg.ID] = cfg.Clone()
	return nil
}

func (s *MemoryStore) DeleteForm(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.forms[id]; !ok {
		return forms.ErrNotFound
	}
	delete(s.forms, id)
	return nil
}

func (s *MemoryStore) AppendTurns(_ context.Context, turns []TranscriptTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range turns {
		if t.At.IsZero() {
			t.At = time.Now().UTC()
		}
		existing := s.transcripts[t.SessionID]
		if len(existing) > 0 && t.Seq <= existing[len(existing)-1].Seq {
			continue
		}
		s.transcripts[t.SessionID] = append(existing, t)
	}
	return nil
}

func (s *MemoryStore) Transcript(_ context.Context, sessionID string) ([]TranscriptTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.transcripts[sessionID]
	if len(arr) == 0 {
		return nil, nil
	}
	out := make([]TranscriptTurn, len(arr))
	copy(out, arr)
	return out, nil
}

func (s *MemoryStore) AppendSubmission(_ context.Context, sub submit.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub.Record = sub.Record.Clone()
	s.submissions[sub.SessionID] = append(s.submissions[sub.SessionID], sub)
	return nil
}

func (s *MemoryStore) SubmissionsBySession(_ context.Context, sessionID string) ([]submit.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.submissions[sessionID]
	if len(arr) == 0 {
		return nil, nil
	}
	out := make([]submit.Submission, len(arr))
	for i, sub := range arr {
		out[i] = sub
		out[i].Record = sub.Record.Clone()
	}
	return out, nil
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
