package openai

import (
	"context"
	"errors"
	"testing"

	"github.com/dshills/coachgraph/graph/model"
	"github.com/openai/openai-go"
)

func TestOpenAIChatModel_Construction(t *testing.T) {
	t.Run("creates model with the given name", func(t *testing.T) {
		m := NewChatModel("test-api-key", "gpt-4o")
		if m.Name() != "gpt-4o" {
			t.Errorf("Name = %q, want gpt-4o", m.Name())
		}
	})

	t.Run("empty name selects the default model", func(t *testing.T) {
		m := NewChatModel("test-api-key", "")
		if m.Name() != DefaultModel {
			t.Errorf("Name = %q, want %q", m.Name(), DefaultModel)
		}
	})
}

func TestOpenAIChatModel_Chat(t *testing.T) {
	t.Run("sends messages and returns response", func(t *testing.T) {
		mockClient := &mockOpenAIClient{response: "Hello! How are you feeling today?"}
		m := &ChatModel{client: mockClient, modelName: "gpt-4o"}

		out, err := m.Chat(context.Background(), []model.Message{
			{Role: model.RoleSystem, Content: "You are a coach."},
			{Role: model.RoleUser, Content: "Hi there!"},
		}, nil)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if out.Text != "Hello! How are you feeling today?" {
			t.Errorf("unexpected text %q", out.Text)
		}
		if out.Model != "gpt-4o" {
			t.Errorf("Model = %q, want gpt-4o", out.Model)
		}
		if mockClient.callCount != 1 {
			t.Errorf("expected 1 API call, got %d", mockClient.callCount)
		}
	})

	t.Run("free text leaves response format unset", func(t *testing.T) {
		mockClient := &mockOpenAIClient{response: "ok"}
		m := &ChatModel{client: mockClient, modelName: "gpt-4o"}

		_, _ = m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "hi"}}, nil)
		if mockClient.lastParams.ResponseFormat.OfJSONObject != nil {
			t.Error("JSON mode should be off for a nil format")
		}
	})

	t.Run("response format enables JSON mode", func(t *testing.T) {
		mockClient := &mockOpenAIClient{response: `{"response":"hi","resolved":true}`}
		m := &ChatModel{client: mockClient, modelName: "gpt-4o"}

		_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "reply in json"}},
			&model.ResponseFormat{Name: "mood"})
		if err != nil {
			t.Fatal(err)
		}
		if mockClient.lastParams.ResponseFormat.OfJSONObject == nil {
			t.Error("expected JSON-object response format")
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		mockClient := &mockOpenAIClient{response: "Response"}
		m := &ChatModel{client: mockClient, modelName: "gpt-4o"}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := m.Chat(ctx, []model.Message{{Role: model.RoleUser, Content: "Test"}}, nil)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if mockClient.callCount != 0 {
			t.Error("cancelled call should not reach the API")
		}
	})
}

func TestOpenAIChatModel_ErrorHandling(t *testing.T) {
	t.Run("classifies rate limits as retryable", func(t *testing.T) {
		sdkErr := &openai.Error{StatusCode: 429}
		m := &ChatModel{client: &mockOpenAIClient{err: sdkErr}, modelName: "gpt-4o"}

		_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "Test"}}, nil)
		var pe *model.ProviderError
		if !errors.As(err, &pe) {
			t.Fatalf("expected *model.ProviderError, got %T", err)
		}
		if pe.Provider != "openai" || pe.Code != "rate_limit" || !pe.Retryable {
			t.Errorf("unexpected classification %+v", pe)
		}
		if !errors.Is(err, sdkErr) {
			t.Error("classified error should unwrap to the SDK error")
		}
	})

	t.Run("authentication failures are permanent", func(t *testing.T) {
		m := &ChatModel{client: &mockOpenAIClient{err: &openai.Error{StatusCode: 401}}, modelName: "gpt-4o"}

		_, err := m.Chat(context.Background(), nil, nil)
		if model.IsRetryable(err) {
			t.Errorf("401 should not be retryable: %v", err)
		}
	})

	t.Run("status digits in a message do not classify", func(t *testing.T) {
		m := &ChatModel{client: &mockOpenAIClient{err: errors.New("context has 4000 tokens")}, modelName: "gpt-4o"}

		_, err := m.Chat(context.Background(), nil, nil)
		var pe *model.ProviderError
		if !errors.As(err, &pe) || pe.Code != "unknown" || !pe.Retryable {
			t.Errorf("unexpected classification %v", err)
		}
	})

	t.Run("handles empty API key", func(t *testing.T) {
		m := NewChatModel("", "gpt-4o")

		_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "Test"}}, nil)
		if !errors.Is(err, model.ErrNoAPIKey) {
			t.Errorf("expected ErrNoAPIKey, got %v", err)
		}
	})
}

func TestOpenAIChatModel_MessageConversion(t *testing.T) {
	msgs := convertMessages([]model.Message{
		{Role: model.RoleSystem, Content: "System prompt"},
		{Role: model.RoleUser, Content: "User message"},
		{Role: model.RoleAssistant, Content: "Assistant response"},
	})

	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].OfSystem == nil {
		t.Error("message 0 should be a system message")
	}
	if msgs[1].OfUser == nil {
		t.Error("message 1 should be a user message")
	}
	if msgs[2].OfAssistant == nil {
		t.Error("message 2 should be an assistant message")
	}
}

type mockOpenAIClient struct {
	response   string
	err        error
	callCount  int
	lastParams openai.ChatCompletionNewParams
}

func (m *mockOpenAIClient) createChatCompletion(_ context.Context, params openai.ChatCompletionNewParams) (string, error) {
	m.callCount++
	m.lastParams = params
	if m.err != nil {
		return "", m.err
	}
	return m.response, nil
}
