// Package provider constructs the chat models behind the agent and wraps
// their invocation with the service call policy: bounded per-attempt
// timeouts, classified retries, and a typed error for everything upstream.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/avoncourt/voxform/internal/reliability"
)

// Error wraps an upstream model or voice failure.
type Error struct {
	Op        string
	Status    int
	Err       error
	Retryable bool
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether another attempt at the failed call may help.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return reliability.IsRetryableTransport(err)
}

// Options selects and configures the chat model backend.
type Options struct {
	Mode    string
	APIKey  string
	BaseURL string
	Model   string
}

// NewChatModel builds the configured backend. Mode auto resolves to the
// real backend when an API key is present and to the mock otherwise, so a
// keyless checkout still runs end to end.
func NewChatModel(ctx context.Context, opts Options) (model.ToolCallingChatModel, string, error) {
	mode := strings.ToLower(strings.TrimSpace(opts.Mode))
	if mode == "" {
		mode = "auto"
	}
	switch mode {
	case "auto":
		if strings.TrimSpace(opts.APIKey) == "" {
			return NewMockChatModel(), "mock", nil
		}
		mode = "openai"
		fallthrough
	case "openai":
		if strings.TrimSpace(opts.APIKey) == "" {
			return nil, "", errors.New("OPENAI_API_KEY is required for openai mode")
		}
		cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:  opts.APIKey,
			Model:   opts.Model,
			BaseURL: opts.BaseURL,
		})
		if err != nil {
			return nil, "", fmt.Errorf("init openai chat model: %w", err)
		}
		return cm, "openai", nil
	case "mock":
		return NewMockChatModel(), "mock", nil
	default:
		return nil, "", fmt.Errorf("unsupported provider mode %q", opts.Mode)
	}
}

// RetryObserver sees each scheduled retry, for metrics and logs.
type RetryObserver func(op string, attempt int, err error)

// Caller invokes a chat model under the call policy. One Caller is shared
// by reply generation and extraction; the op label tells them apart.
type Caller struct {
	model       model.ToolCallingChatModel
	timeout     time.Duration
	retries     int
	backoffBase time.Duration
	backoffCap  time.Duration
	onRetry     RetryObserver
	defaults    []model.Option
}

func NewCaller(m model.ToolCallingChatModel, timeout time.Duration, retries int, defaults ...model.Option) *Caller {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Caller{
		model:       m,
		timeout:     timeout,
		retries:     retries,
		backoffBase: 250 * time.Millisecond,
		backoffCap:  4 * time.Second,
		defaults:    defaults,
	}
}

// SetRetryObserver registers the retry hook. Not safe to call after the
// Caller is in use.
func (c *Caller) SetRetryObserver(obs RetryObserver) { c.onRetry = obs }

// Generate runs one model call with retries. Cancellation of the parent
// context stops the attempt loop; a per-attempt timeout keeps any single
// call bounded.
func (c *Caller) Generate(ctx context.Context, op string, msgs []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	var out *schema.Message
	attempt := func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		all := append(append([]model.Option(nil), c.defaults...), opts...)
		resp, err := c.model.Generate(callCtx, msgs, all...)
		if err != nil {
			return err
		}
		out = resp
		return nil
	}
	retryable := func(err error) bool {
		if ctx.Err() != nil {
			return false
		}
		return !errors.Is(err, context.Canceled)
	}
	onRetry := func(attemptNo int, err error) {
		if c.onRetry != nil {
			c.onRetry(op, attemptNo, err)
		}
	}
	if err := reliability.Do(ctx, c.retries, c.backoffBase, c.backoffCap, attempt, retryable, onRetry); err != nil {
		return nil, &Error{Op: op, Err: err, Retryable: retryable(err)}
	}
	return out, nil
}
