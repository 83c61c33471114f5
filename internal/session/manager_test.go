package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/avoncourt/voxform/internal/record"
)

func TestCreateSeedsGreetingTurn(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("f1", "en", "Hello there", record.Completion{Missing: []string{"name"}})
	if len(s.Turns) != 1 || s.Turns[0].Role != RoleAssistant {
		t.Fatalf("Turns = %+v, want single assistant greeting", s.Turns)
	}
	if s.Complete {
		t.Fatalf("new session reported complete")
	}
	if len(s.Missing) != 1 || s.Missing[0] != "name" {
		t.Fatalf("Missing = %v, want [name]", s.Missing)
	}
}

func TestGetReturnsDeepCopy(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("f1", "en", "Hi", record.Completion{})
	s.Turns[0].Content = "tampered"
	s.Record["name"] = "tampered"

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Turns[0].Content != "Hi" {
		t.Fatalf("stored turn content = %q, want %q", got.Turns[0].Content, "Hi")
	}
	if _, ok := got.Record["name"]; ok {
		t.Fatalf("stored record mutated through returned copy")
	}
}

func TestBeginTurnConflict(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("f1", "en", "", record.Completion{})

	if _, err := m.BeginTurn(s.ID); err != nil {
		t.Fatalf("BeginTurn() error = %v", err)
	}
	if _, err := m.BeginTurn(s.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("second BeginTurn() error = %v, want ErrConflict", err)
	}

	m.AbortTurn(s.ID)
	if _, err := m.BeginTurn(s.ID); err != nil {
		t.Fatalf("BeginTurn() after abort error = %v", err)
	}
}

func TestConcurrentBeginTurnAdmitsExactlyOne(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("f1", "en", "", record.Completion{})

	const racers = 8
	var wg sync.WaitGroup
	results := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.BeginTurn(s.ID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	won, conflicted := 0, 0
	for err := range results {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrConflict):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("winners = %d, want exactly 1", won)
	}
	if conflicted != racers-1 {
		t.Fatalf("conflicts = %d, want %d", conflicted, racers-1)
	}
}

func TestCommitTurnAppliesMutation(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("f1", "en", "", record.Completion{Missing: []string{"name"}})
	if _, err := m.BeginTurn(s.ID); err != nil {
		t.Fatalf("BeginTurn() error = %v", err)
	}

	err := m.CommitTurn(s.ID, func(live *Session) {
		live.Turns = append(live.Turns,
			Turn{Role: RoleUser, Content: "My name is Jo", At: time.Now().UTC()},
			Turn{Role: RoleAssistant, Content: "Thanks Jo", At: time.Now().UTC()},
		)
		live.Record = record.Partial{"name": "Jo"}
		live.Complete = true
		live.Missing = nil
	})
	if err != nil {
		t.Fatalf("CommitTurn() error = %v", err)
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(got.Turns) != 2 || !got.Complete || got.Record["name"] != "Jo" {
		t.Fatalf("committed state = %+v", got)
	}
	if _, err := m.BeginTurn(s.ID); err != nil {
		t.Fatalf("BeginTurn() after commit error = %v, want slot released", err)
	}
}

func TestAbortTurnLeavesStateUntouched(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("f1", "en", "Hi", record.Completion{Missing: []string{"name"}})
	before, _ := m.Get(s.ID)

	if _, err := m.BeginTurn(s.ID); err != nil {
		t.Fatalf("BeginTurn() error = %v", err)
	}
	m.AbortTurn(s.ID)

	after, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(after.Turns) != len(before.Turns) || after.Complete != before.Complete {
		t.Fatalf("state changed by aborted turn: before=%+v after=%+v", before, after)
	}
}

func TestEndRemovesSession(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("f1", "en", "", record.Completion{})

	final, err := m.End(s.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if final.Status != StatusEnded {
		t.Fatalf("final status = %q, want ended", final.Status)
	}
	if _, err := m.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after End error = %v, want ErrNotFound", err)
	}
}

func TestExpireInactiveInvokesHookAndRemoves(t *testing.T) {
	m := NewManager(10 * time.Millisecond)
	var mu sync.Mutex
	var expired []string
	m.SetExpireHook(func(s *Session) {
		mu.Lock()
		expired = append(expired, s.ID)
		mu.Unlock()
	})

	s := m.Create("f1", "en", "", record.Completion{})
	time.Sleep(20 * time.Millisecond)
	m.expireInactive()

	mu.Lock()
	defer mu.Unlock()
	if len(expired) != 1 || expired[0] != s.ID {
		t.Fatalf("expired = %v, want [%s]", expired, s.ID)
	}
	if _, err := m.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired session still retrievable")
	}
}

func TestExpireSkipsSessionMidTurn(t *testing.T) {
	m := NewManager(10 * time.Millisecond)
	s := m.Create("f1", "en", "", record.Completion{})
	if _, err := m.BeginTurn(s.ID); err != nil {
		t.Fatalf("BeginTurn() error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	m.expireInactive()

	if _, err := m.Get(s.ID); err != nil {
		t.Fatalf("session mid-turn was expired: %v", err)
	}
}
