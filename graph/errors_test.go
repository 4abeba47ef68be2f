package graph_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dshills/coachgraph/graph"
)

func TestEngineErrorSentinels(t *testing.T) {
	tests := []struct {
		code   string
		target error
		want   bool
	}{
		{"MAX_STEPS_EXCEEDED", graph.ErrMaxStepsExceeded, true},
		{"RUN_HALTED", graph.ErrHalted, true},
		{"NO_ROUTE", graph.ErrHalted, false},
		{"RUN_HALTED", graph.ErrMaxStepsExceeded, false},
	}
	for _, tt := range tests {
		err := fmt.Errorf("step: %w", &graph.EngineError{Message: "x", Code: tt.code})
		if got := errors.Is(err, tt.target); got != tt.want {
			t.Errorf("errors.Is(%s, %v) = %v, want %v", tt.code, tt.target, got, tt.want)
		}
	}
}

func TestEngineErrorMessage(t *testing.T) {
	if got := (&graph.EngineError{Message: "no valid route", Code: "NO_ROUTE"}).Error(); got != "NO_ROUTE: no valid route" {
		t.Errorf("Error() = %q", got)
	}
	if got := (&graph.EngineError{Message: "plain"}).Error(); got != "plain" {
		t.Errorf("Error() = %q", got)
	}
}

func TestNodeErrorChain(t *testing.T) {
	retryErr := &graph.RetryError{Label: "focus", Attempts: 3, Last: errors.New("timeout")}
	err := &graph.NodeError{Message: "stage failed", Code: "STAGE_FAILED", NodeID: "focus", Cause: retryErr}

	if !errors.Is(err, graph.ErrRetriesExhausted) {
		t.Error("NodeError should unwrap to ErrRetriesExhausted")
	}
	want := "node focus: stage failed: exhausted retries for focus after 3 attempts: timeout"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
