package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
)

func TestSplitSystem(t *testing.T) {
	tests := []struct {
		name       string
		messages   []Message
		wantSystem string
		wantRest   int
	}{
		{"no system", []Message{{Role: RoleUser, Content: "hi"}}, "", 1},
		{"leading system", []Message{
			{Role: RoleSystem, Content: "be kind"},
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: "hello"},
		}, "be kind", 2},
		{"several system messages joined", []Message{
			{Role: RoleSystem, Content: "one"},
			{Role: RoleUser, Content: "hi"},
			{Role: RoleSystem, Content: "two"},
		}, "one\n\ntwo", 1},
		{"empty", nil, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			system, rest := SplitSystem(tt.messages)
			if system != tt.wantSystem {
				t.Errorf("system = %q, want %q", system, tt.wantSystem)
			}
			if len(rest) != tt.wantRest {
				t.Errorf("len(rest) = %d, want %d", len(rest), tt.wantRest)
			}
			for _, msg := range rest {
				if msg.Role == RoleSystem {
					t.Error("system message left in rest")
				}
			}
		})
	}
}

func TestStatusError(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantCode      string
		wantRetryable bool
	}{
		{"rate limit", 429, "rate_limit", true},
		{"overloaded", 529, "server_error", true},
		{"internal", 500, "server_error", true},
		{"unavailable", 503, "server_error", true},
		{"bad key", 401, "authentication", false},
		{"forbidden", 403, "authentication", false},
		{"bad request", 400, "invalid_request", false},
		{"too large", 413, "invalid_request", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cause := errors.New("sdk")
			pe := StatusError("anthropic", tt.status, cause)
			if pe.Code != tt.wantCode || pe.Retryable != tt.wantRetryable {
				t.Errorf("got (%s, %v), want (%s, %v)", pe.Code, pe.Retryable, tt.wantCode, tt.wantRetryable)
			}
			if !errors.Is(pe, cause) || IsRetryable(pe) != tt.wantRetryable {
				t.Errorf("unexpected ProviderError %+v", pe)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantCode      string
		wantRetryable bool
	}{
		{"dial failure", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, "network", true},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), "network", true},
		{"truncated body", fmt.Errorf("decode: %w", io.ErrUnexpectedEOF), "network", true},
		{"status digits in text", errors.New("prompt is 4000 tokens over the 400 limit"), "unknown", true},
		{"unknown", errors.New("something odd"), "unknown", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify("openai", tt.err)
			var pe *ProviderError
			if !errors.As(err, &pe) {
				t.Fatalf("Classify returned %T, want *ProviderError", err)
			}
			if pe.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", pe.Code, tt.wantCode)
			}
			if pe.Retryable != tt.wantRetryable || IsRetryable(err) != tt.wantRetryable {
				t.Errorf("Retryable = %v, want %v", pe.Retryable, tt.wantRetryable)
			}
			if !errors.Is(err, tt.err) {
				t.Error("ProviderError should unwrap to the SDK error")
			}
		})
	}

	t.Run("context errors pass through", func(t *testing.T) {
		wrapped := fmt.Errorf("request: %w", context.DeadlineExceeded)
		if got := Classify("google", wrapped); got != wrapped {
			t.Errorf("Classify = %v, want the original error", got)
		}
	})

	t.Run("nil stays nil", func(t *testing.T) {
		if Classify("anthropic", nil) != nil {
			t.Error("Classify(nil) should be nil")
		}
	})

	t.Run("missing key is not retryable", func(t *testing.T) {
		if IsRetryable(ErrNoAPIKey) {
			t.Error("ErrNoAPIKey should not be retryable")
		}
	})
}
