// Package submit delivers completed intake records to the business.
package submit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"github.com/avoncourt/voxform/internal/record"
	"github.com/avoncourt/voxform/internal/reliability"
)

// Submission is one completed (or final) intake record.
type Submission struct {
	ID        string         `json:"id"`
	FormID    string         `json:"form_id"`
	SessionID string         `json:"session_id"`
	Record    record.Partial `json:"record"`
	At        time.Time      `json:"at"`
}

type Submitter interface {
	Submit(ctx context.Context, sub Submission) error
}

// LogSubmitter records deliveries at info level. It is the default sink
// when no webhook is configured.
type LogSubmitter struct {
	logger *slog.Logger
}

func NewLogSubmitter(logger *slog.Logger) *LogSubmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSubmitter{logger: logger.With("component", "submit")}
}

func (s *LogSubmitter) Submit(_ context.Context, sub Submission) error {
	s.logger.Info("submission recorded",
		"submission_id", sub.ID,
		"form_id", sub.FormID,
		"session_id", sub.SessionID,
		"fields", len(sub.Record),
	)
	return nil
}

type statusError struct {
	Status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("webhook responded %d", e.Status)
}

// WebhookSubmitter POSTs the submission JSON to a configured endpoint,
// retrying transient failures.
type WebhookSubmitter struct {
	url     string
	client  *http.Client
	retries int
	logger  *slog.Logger
}

func NewWebhookSubmitter(url string, timeout time.Duration, retries int, logger *slog.Logger) *WebhookSubmitter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookSubmitter{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		retries: retries,
		logger:  logger.With("component", "submit"),
	}
}

func (s *WebhookSubmitter) Submit(ctx context.Context, sub Submission) error {
	body, err := sonic.Marshal(sub)
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 300 {
			return &statusError{Status: resp.StatusCode}
		}
		return nil
	}

	err = reliability.Do(ctx, s.retries, 250*time.Millisecond, 4*time.Second, op, retryableDelivery, func(attempt int, err error) {
		s.logger.Warn("submission delivery retry",
			"submission_id", sub.ID,
			"attempt", attempt,
			"error", err,
		)
	})
	if err != nil {
		return fmt.Errorf("deliver submission %s: %w", sub.ID, err)
	}
	return nil
}

func retryableDelivery(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return reliability.IsRetryableHTTPStatus(se.Status)
	}
	return reliability.IsRetryableTransport(err)
}
