package graph_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dshills/coachgraph/graph"
)

var errTransient = errors.New("connection reset")

func noSleep(context.Context, time.Duration) error { return nil }

func newInvoker(t *testing.T, policy graph.RetryPolicy) *graph.Invoker {
	t.Helper()
	inv, err := graph.NewInvoker(policy, graph.WithSleep(noSleep))
	if err != nil {
		t.Fatalf("NewInvoker: %v", err)
	}
	return inv
}

// scripted returns a call that replays replies in order, one per attempt.
// An empty reply with a non-nil error in errs fails the attempt.
func scripted(replies []string, errs []error, calls *int32) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		n := int(atomic.AddInt32(calls, 1)) - 1
		if n < len(errs) && errs[n] != nil {
			return "", errs[n]
		}
		if n < len(replies) {
			return replies[n], nil
		}
		return "", errTransient
	}
}

var nonEmpty = graph.ValidatorFunc[string](func(candidate string) (string, error) {
	if strings.TrimSpace(candidate) == "" {
		return "", errors.New("empty reply")
	}
	return strings.TrimSpace(candidate), nil
})

func TestInvokeFirstAccepted(t *testing.T) {
	tests := []struct {
		name      string
		replies   []string
		errs      []error
		want      string
		wantCalls int32
	}{
		{"first attempt", []string{"hello"}, nil, "hello", 1},
		{"after error", []string{"", "hello"}, []error{errTransient}, "hello", 2},
		{"after rejection", []string{"  ", "hello"}, nil, "hello", 2},
		{"third attempt", []string{"", "", "hello"}, []error{errTransient, errTransient}, "hello", 3},
		{"first of several valid", []string{"one", "two"}, nil, "one", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			inv := newInvoker(t, graph.RetryPolicy{MaxAttempts: 3})

			got, err := graph.Invoke(context.Background(), inv, "greeting", scripted(tt.replies, tt.errs, &calls), nonEmpty)
			if err != nil {
				t.Fatalf("Invoke: %v", err)
			}
			if got != tt.want {
				t.Errorf("Invoke = %q, want %q", got, tt.want)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestInvokeBound(t *testing.T) {
	for _, bound := range []int{1, 3, 5} {
		var calls int32
		inv := newInvoker(t, graph.RetryPolicy{MaxAttempts: bound})

		_, err := graph.Invoke(context.Background(), inv, "mood_check", scripted(nil, nil, &calls), nonEmpty)
		if !errors.Is(err, graph.ErrRetriesExhausted) {
			t.Fatalf("bound %d: err = %v, want ErrRetriesExhausted", bound, err)
		}
		if int(calls) != bound {
			t.Errorf("bound %d: made %d calls", bound, calls)
		}
	}
}

func TestInvokeExhaustedCarriesLabel(t *testing.T) {
	var calls int32
	inv := newInvoker(t, graph.DefaultRetryPolicy())

	_, err := graph.Invoke(context.Background(), inv, "commitment_retry", scripted([]string{"", "", ""}, nil, &calls), nonEmpty)

	var retryErr *graph.RetryError
	if !errors.As(err, &retryErr) {
		t.Fatalf("err = %T %v, want *RetryError", err, err)
	}
	if retryErr.Label != "commitment_retry" || retryErr.Attempts != graph.DefaultMaxAttempts {
		t.Errorf("RetryError = %+v", retryErr)
	}
	if !strings.Contains(err.Error(), "commitment_retry") {
		t.Errorf("error %q does not name the label", err)
	}
}

func TestInvokeTimeoutTwiceThenSuccess(t *testing.T) {
	var calls int32
	call := func(ctx context.Context) (string, error) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "done", nil
	}

	inv := newInvoker(t, graph.RetryPolicy{MaxAttempts: 3, AttemptTimeout: 20 * time.Millisecond})
	got, err := graph.Invoke(context.Background(), inv, "focus", call, nonEmpty)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != "done" || calls != 3 {
		t.Errorf("Invoke = %q after %d calls, want done after 3", got, calls)
	}
}

func TestInvokeTimeoutExhaustion(t *testing.T) {
	call := func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}

	inv := newInvoker(t, graph.RetryPolicy{MaxAttempts: 2, AttemptTimeout: 10 * time.Millisecond})
	_, err := graph.Invoke(context.Background(), inv, "focus", call, nonEmpty)
	if !errors.Is(err, graph.ErrRetriesExhausted) {
		t.Fatalf("err = %v, want ErrRetriesExhausted", err)
	}
	if !errors.Is(err, graph.ErrAttemptTimeout) {
		t.Errorf("err = %v, want it to wrap ErrAttemptTimeout", err)
	}
}

func TestInvokeParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	call := func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		cancel()
		return "", errTransient
	}

	inv := newInvoker(t, graph.DefaultRetryPolicy())
	_, err := graph.Invoke(ctx, inv, "focus", call, nonEmpty)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, graph.ErrRetriesExhausted) {
		t.Error("cancellation must not be reported as exhaustion")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestInvokeNonRetryable(t *testing.T) {
	errAuth := errors.New("invalid api key")
	var calls int32
	policy := graph.RetryPolicy{
		MaxAttempts: 3,
		Retryable:   func(err error) bool { return !errors.Is(err, errAuth) },
	}

	inv := newInvoker(t, policy)
	_, err := graph.Invoke(context.Background(), inv, "welcome", scripted(nil, []error{errAuth}, &calls), nonEmpty)
	if !errors.Is(err, errAuth) || !errors.Is(err, graph.ErrRetriesExhausted) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestInvokeAttemptContext(t *testing.T) {
	var seen []graph.Attempt
	call := func(ctx context.Context) (string, error) {
		a, ok := graph.AttemptFromContext(ctx)
		if !ok {
			t.Error("attempt missing from context")
		}
		seen = append(seen, a)
		return "", errTransient
	}

	inv := newInvoker(t, graph.RetryPolicy{MaxAttempts: 3})
	_, _ = graph.Invoke(context.Background(), inv, "focus", call, nonEmpty)

	if len(seen) != 3 {
		t.Fatalf("saw %d attempts, want 3", len(seen))
	}
	wantPenultimate := []bool{false, true, true}
	for i, a := range seen {
		if a.Number != i+1 || a.Max != 3 {
			t.Errorf("attempt %d = %+v", i, a)
		}
		if a.Penultimate() != wantPenultimate[i] {
			t.Errorf("attempt %d Penultimate = %v, want %v", a.Number, a.Penultimate(), wantPenultimate[i])
		}
	}

	if (graph.Attempt{Number: 1, Max: 1}).Penultimate() {
		t.Error("a single attempt has no penultimate")
	}
}

func TestInvokeNilInvokerUsesDefaults(t *testing.T) {
	var calls int32
	got, err := graph.Invoke(context.Background(), nil, "welcome", scripted([]string{"hi"}, nil, &calls), nonEmpty)
	if err != nil || got != "hi" {
		t.Fatalf("Invoke = %q, %v", got, err)
	}
}

func TestNewInvokerRejectsInvalidPolicy(t *testing.T) {
	if _, err := graph.NewInvoker(graph.RetryPolicy{MaxAttempts: 0}); !errors.Is(err, graph.ErrInvalidRetryPolicy) {
		t.Errorf("err = %v, want ErrInvalidRetryPolicy", err)
	}
}
