package graph

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestSuspendWithoutResumption(t *testing.T) {
	_, err := Suspend(context.Background(), "reply", "How are you?")

	intr, ok := GetInterrupt(err)
	if !ok {
		t.Fatalf("Suspend error = %v, want *Interrupt", err)
	}
	if intr.Key != "reply" || intr.Prompt != "How are you?" || intr.Timestamp.IsZero() {
		t.Errorf("interrupt = %+v", intr)
	}
	if !IsInterrupt(fmt.Errorf("stage: %w", err)) {
		t.Error("IsInterrupt should see through wrapping")
	}
	if IsInterrupt(errors.New("plain")) {
		t.Error("plain error reported as interrupt")
	}
}

func TestSuspendDeliversInputOnce(t *testing.T) {
	r := &resumption{key: "reply", input: "overwhelmed"}
	ctx := withResumption(context.Background(), r)

	// A different key suspends and leaves the input in place.
	if _, err := Suspend(ctx, "other", "?"); !IsInterrupt(err) {
		t.Errorf("Suspend(other) = %v, want interrupt", err)
	}
	if r.wasConsumed() {
		t.Fatal("input consumed by the wrong key")
	}

	input, err := Suspend(ctx, "reply", "?")
	if err != nil || input != "overwhelmed" {
		t.Fatalf("Suspend(reply) = %q, %v", input, err)
	}
	if !r.wasConsumed() {
		t.Error("input should be consumed")
	}

	if _, err := Suspend(ctx, "reply", "again?"); !IsInterrupt(err) {
		t.Errorf("second Suspend(reply) = %v, want interrupt", err)
	}
}
