package model

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMockChatModel_Responses(t *testing.T) {
	t.Run("returns responses in order then repeats the last", func(t *testing.T) {
		mock := &MockChatModel{
			Responses: []ChatOut{{Text: "first"}, {Text: "second"}},
		}
		messages := []Message{{Role: RoleUser, Content: "Hi"}}

		for i, want := range []string{"first", "second", "second"} {
			out, err := mock.Chat(context.Background(), messages, nil)
			if err != nil {
				t.Fatalf("call %d: %v", i, err)
			}
			if out.Text != want {
				t.Errorf("call %d: Text = %q, want %q", i, out.Text, want)
			}
		}
	})

	t.Run("no responses yields empty output", func(t *testing.T) {
		mock := &MockChatModel{}
		out, err := mock.Chat(context.Background(), nil, nil)
		if err != nil || out.Text != "" {
			t.Errorf("Chat = (%+v, %v), want empty", out, err)
		}
	})
}

func TestMockChatModel_ErrorInjection(t *testing.T) {
	t.Run("Err applies to every call", func(t *testing.T) {
		want := errors.New("API error")
		mock := &MockChatModel{Err: want, Responses: []ChatOut{{Text: "x"}}}
		for i := 0; i < 2; i++ {
			if _, err := mock.Chat(context.Background(), nil, nil); !errors.Is(err, want) {
				t.Errorf("call %d: err = %v, want %v", i, err, want)
			}
		}
	})

	t.Run("Errs applies per call without consuming responses", func(t *testing.T) {
		boom := errors.New("boom")
		mock := &MockChatModel{
			Errs:      []error{boom, nil, boom},
			Responses: []ChatOut{{Text: "a"}, {Text: "b"}},
		}

		if _, err := mock.Chat(context.Background(), nil, nil); !errors.Is(err, boom) {
			t.Fatalf("call 0: err = %v, want boom", err)
		}
		out, err := mock.Chat(context.Background(), nil, nil)
		if err != nil || out.Text != "a" {
			t.Fatalf("call 1 = (%q, %v), want (a, nil)", out.Text, err)
		}
		if _, err := mock.Chat(context.Background(), nil, nil); !errors.Is(err, boom) {
			t.Fatalf("call 2: err = %v, want boom", err)
		}
		out, _ = mock.Chat(context.Background(), nil, nil)
		if out.Text != "b" {
			t.Errorf("call 3 Text = %q, want b", out.Text)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		mock := &MockChatModel{Responses: []ChatOut{{Text: "x"}}}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := mock.Chat(ctx, nil, nil); !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
		if mock.CallCount() != 0 {
			t.Error("cancelled call should not be recorded")
		}
	})
}

func TestMockChatModel_Stall(t *testing.T) {
	mock := &MockChatModel{Stall: 1, Responses: []ChatOut{{Text: "late"}}}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := mock.Chat(ctx, nil, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("stalled call err = %v, want DeadlineExceeded", err)
	}

	out, err := mock.Chat(context.Background(), nil, nil)
	if err != nil || out.Text != "late" {
		t.Errorf("second call = (%q, %v), want (late, nil)", out.Text, err)
	}
}

func TestMockChatModel_CallHistory(t *testing.T) {
	mock := &MockChatModel{Responses: []ChatOut{{Text: "ok"}}}
	format := &ResponseFormat{Name: "mood"}
	messages := []Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "hi"}}

	_, _ = mock.Chat(context.Background(), messages, format)
	messages[1].Content = "mutated"

	call, ok := mock.LastCall()
	if !ok {
		t.Fatal("LastCall reported no calls")
	}
	if call.Format != format {
		t.Error("Format not recorded")
	}
	if call.Messages[1].Content != "hi" {
		t.Errorf("recorded message = %q, want a copy taken at call time", call.Messages[1].Content)
	}

	mock.Reset()
	if mock.CallCount() != 0 {
		t.Errorf("CallCount after Reset = %d, want 0", mock.CallCount())
	}
	if _, ok := mock.LastCall(); ok {
		t.Error("LastCall after Reset should report no calls")
	}
}

func TestMockChatModel_Concurrency(t *testing.T) {
	mock := &MockChatModel{Responses: []ChatOut{{Text: "ok"}}}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = mock.Chat(context.Background(), nil, nil)
		}()
	}
	wg.Wait()

	if mock.CallCount() != 20 {
		t.Errorf("CallCount = %d, want 20", mock.CallCount())
	}
}
