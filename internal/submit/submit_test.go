package submit

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"github.com/avoncourt/voxform/internal/record"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleSubmission() Submission {
	return Submission{
		ID:        "sub-1",
		FormID:    "form-1",
		SessionID: "sess-1",
		Record:    record.Partial{"name": "Jo", "phone": "555-0100"},
		At:        time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestWebhookSubmitterPostsJSON(t *testing.T) {
	var got Submission
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := sonic.Unmarshal(body, &got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewWebhookSubmitter(srv.URL, time.Second, 0, discardLogger())
	if err := s.Submit(context.Background(), sampleSubmission()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if got.ID != "sub-1" || got.Record["name"] != "Jo" {
		t.Fatalf("delivered submission = %+v", got)
	}
}

func TestWebhookSubmitterRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := NewWebhookSubmitter(srv.URL, time.Second, 3, discardLogger())
	if err := s.Submit(context.Background(), sampleSubmission()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestWebhookSubmitterDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewWebhookSubmitter(srv.URL, time.Second, 3, discardLogger())
	if err := s.Submit(context.Background(), sampleSubmission()); err == nil {
		t.Fatalf("Submit() error = nil, want status failure")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestLogSubmitterAlwaysSucceeds(t *testing.T) {
	s := NewLogSubmitter(discardLogger())
	if err := s.Submit(context.Background(), sampleSubmission()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
}
