package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// ErrNoAPIKey is returned by provider adapters constructed without a key.
var ErrNoAPIKey = errors.New("API key is required")

// ProviderError is a classified provider failure.
//
// Adapters wrap SDK errors in a ProviderError so the Retrying Invoker can
// tell transient failures (rate limits, 5xx, connection resets) from
// permanent ones (bad key, bad request) without knowing the SDK.
type ProviderError struct {
	Provider  string
	Code      string
	Message   string
	Retryable bool
	Cause     error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Code, e.Message)
}

// Unwrap returns the SDK error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// StatusError classifies a failure by the HTTP status the SDK reported:
//   - 429: rate limit exceeded
//   - 401, 403: authentication and permission errors
//   - 5xx, including Anthropic's 529 overload: server errors
//   - any other 4xx: invalid requests
func StatusError(provider string, code int, cause error) *ProviderError {
	out := &ProviderError{
		Provider: provider,
		Message:  fmt.Sprintf("HTTP %d %s", code, http.StatusText(code)),
		Cause:    cause,
	}
	switch {
	case code == http.StatusTooManyRequests:
		out.Code, out.Retryable = "rate_limit", true
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		out.Code = "authentication"
	case code >= 500:
		out.Code, out.Retryable = "server_error", true
	case code >= 400:
		out.Code = "invalid_request"
	default:
		out.Code, out.Retryable = fmt.Sprintf("status_%d", code), true
	}
	return out
}

// Classify maps an SDK error that carries no HTTP status onto a
// ProviderError. Adapters try StatusError first. Transport failures are
// recognized by type and everything else is unknown and retryable.
// Context errors pass through untouched so cancellation keeps its identity.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrNoAPIKey) {
		return err
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}

	out := &ProviderError{Provider: provider, Message: err.Error(), Cause: err}
	var netErr net.Error
	switch {
	case errors.As(err, &netErr), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED):
		out.Code, out.Retryable = "network", true
	default:
		out.Code, out.Retryable = "unknown", true
	}
	return out
}

// IsRetryable reports whether err is worth another attempt. It is meant for
// graph.RetryPolicy.Retryable: unclassified errors, timeouts and validation
// rejections are retryable, a ProviderError decides for itself.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrNoAPIKey) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return true
}
