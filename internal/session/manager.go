package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avoncourt/voxform/internal/record"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrConflict = errors.New("turn already in progress")
)

// Turn is one utterance in the conversation.
type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Session is the live state of one intake conversation.
type Session struct {
	ID             string         `json:"session_id"`
	FormID         string         `json:"form_id"`
	Language       string         `json:"language"`
	Status         Status         `json:"status"`
	Turns          []Turn         `json:"turns"`
	Record         record.Partial `json:"record"`
	Complete       bool           `json:"complete"`
	Missing        []string       `json:"missing,omitempty"`
	SubmittedAt    *time.Time     `json:"submitted_at,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	LastActivityAt time.Time      `json:"last_activity_at"`

	turnActive bool
}

// Manager owns the in-process session map. Reads get deep copies; writes
// go through the turn slot so a session sees at most one turn at a time.
type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
	}
}

// SetExpireHook registers a callback invoked with a copy of each session
// the janitor expires.
func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Create registers a new session for the form. The greeting, when present,
// becomes the opening assistant turn; completion describes the empty
// record against the form.
func (m *Manager) Create(formID, language, greeting string, completion record.Completion) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		FormID:         formID,
		Language:       language,
		Status:         StatusActive,
		Record:         record.Partial{},
		Complete:       completion.Complete,
		Missing:        append([]string(nil), completion.Missing...),
		StartedAt:      now,
		LastActivityAt: now,
	}
	if greeting != "" {
		s.Turns = []Turn{{Role: RoleAssistant, Content: greeting, At: now}}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return clone(s)
}

// Get returns a deep copy of the session.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// List returns copies of all live sessions, newest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, clone(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// BeginTurn claims the session's turn slot and returns a snapshot to run
// the pipeline against. A session already mid-turn yields ErrConflict
// immediately; there is no queueing.
func (m *Manager) BeginTurn(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.Status != StatusActive {
		return nil, ErrNotFound
	}
	if s.turnActive {
		return nil, ErrConflict
	}
	s.turnActive = true
	s.LastActivityAt = time.Now().UTC()
	return clone(s), nil
}

// CommitTurn applies mutate to the stored session and releases the turn
// slot. The callback runs under the manager lock and must stay cheap.
func (m *Manager) CommitTurn(sessionID string, mutate func(*Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	mutate(s)
	s.turnActive = false
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// AbortTurn releases the turn slot without touching session state.
func (m *Manager) AbortTurn(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		s.turnActive = false
	}
}

// End closes the session and removes it from the live map, returning the
// final state.
func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	s.Status = StatusEnded
	s.LastActivityAt = time.Now().UTC()
	out := clone(s)
	delete(m.sessions, sessionID)
	return out, nil
}

// StartJanitor expires idle sessions periodically until ctx is done.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.turnActive {
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		s.Status = StatusEnded
		s.LastActivityAt = now
		expired = append(expired, clone(s))
		delete(m.sessions, id)
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	c.Turns = append([]Turn(nil), s.Turns...)
	c.Missing = append([]string(nil), s.Missing...)
	c.Record = s.Record.Clone()
	if s.SubmittedAt != nil {
		at := *s.SubmittedAt
		c.SubmittedAt = &at
	}
	c.turnActive = false
	return &c
}
