package reliability

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{404, false},
		{429, true},
		{500, true},
		{502, true},
		{503, true},
		{504, true},
	}
	for _, tc := range cases {
		got := IsRetryableHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestIsRetryableTransport(t *testing.T) {
	if IsRetryableTransport(nil) {
		t.Fatalf("nil error classified retryable")
	}
	if IsRetryableTransport(errors.New("schema mismatch")) {
		t.Fatalf("plain error classified retryable")
	}
	if !IsRetryableTransport(fmt.Errorf("dial: %w", syscall.ECONNREFUSED)) {
		t.Fatalf("ECONNREFUSED not classified retryable")
	}
}

func TestExponentialBackoffCap(t *testing.T) {
	base := 100 * time.Millisecond
	capDur := 700 * time.Millisecond
	if got := ExponentialBackoff(0, base, capDur); got != base {
		t.Fatalf("attempt 0 = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(10, base, capDur); got != capDur {
		t.Fatalf("attempt 10 = %v, want %v", got, capDur)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 5, time.Millisecond, 10*time.Millisecond,
		func() error { calls++; return errors.New("fatal") },
		func(error) bool { return false },
		nil)
	if err == nil {
		t.Fatalf("Do() error = nil, want fatal error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	retries := 0
	err := Do(context.Background(), 5, time.Millisecond, 5*time.Millisecond,
		func() error {
			calls++
			if calls < 3 {
				return errors.New("again")
			}
			return nil
		},
		func(error) bool { return true },
		func(attempt int, err error) { retries++ })
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if retries != 2 {
		t.Fatalf("retries observed = %d, want 2", retries)
	}
}

func TestDoHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, 3, 50*time.Millisecond, time.Second,
		func() error { return errors.New("again") },
		func(error) bool { return true },
		nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() error = %v, want context.Canceled", err)
	}
}
