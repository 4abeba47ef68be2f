// Package anthropic adapts the Anthropic messages API to model.ChatModel.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/dshills/coachgraph/graph/model"
)

// DefaultModel is used when NewChatModel is given an empty model name.
const DefaultModel = "claude-3-5-haiku-latest"

// defaultMaxTokens bounds a single reply. Stage replies are short.
const defaultMaxTokens = 1024

// ChatModel implements model.ChatModel for Anthropic's API.
//
// System messages are sent as system blocks. The messages API has no JSON
// mode, so a non-nil response format appends a JSON instruction and the
// rendered schema to the system prompt.
//
// Example usage:
//
//	m := anthropic.NewChatModel(os.Getenv("ANTHROPIC_API_KEY"), "")
//	out, err := m.Chat(ctx, messages, &model.ResponseFormat{Name: "mood", Schema: schema})
type ChatModel struct {
	modelName string
	maxTokens int64
	client    anthropicClient
}

// anthropicClient is the slice of the SDK the adapter uses.
// This allows for easy mocking in tests.
type anthropicClient interface {
	createMessage(ctx context.Context, params anthropic.MessageNewParams) (string, error)
}

// NewChatModel creates a new Anthropic ChatModel. An empty modelName selects
// DefaultModel.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	return &ChatModel{
		modelName: modelName,
		maxTokens: defaultMaxTokens,
		client:    newDefaultClient(apiKey),
	}
}

// Name returns the configured model name.
func (m *ChatModel) Name() string {
	return m.modelName
}

// Chat implements the model.ChatModel interface.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, format *model.ResponseFormat) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	system, conversation := model.SplitSystem(messages)
	if format != nil {
		system = appendJSONInstruction(system, format)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.modelName),
		MaxTokens: m.maxTokens,
		Messages:  convertMessages(conversation),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	text, err := m.client.createMessage(ctx, params)
	if err != nil {
		return model.ChatOut{}, translateError(err)
	}
	return model.ChatOut{Text: text, Model: m.modelName}, nil
}

// convertMessages maps the conversation onto user and assistant turns. The
// API needs at least one message, so an empty conversation becomes a single
// user turn asking the model to begin.
func convertMessages(messages []model.Message) []anthropic.MessageParam {
	if len(messages) == 0 {
		return []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock("Begin."))}
	}
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == model.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
			continue
		}
		out = append(out, anthropic.NewUserMessage(block))
	}
	return out
}

func appendJSONInstruction(system string, format *model.ResponseFormat) string {
	var b strings.Builder
	b.WriteString(system)
	if system != "" {
		b.WriteString("\n\n")
	}
	b.WriteString("Respond with a single JSON object and nothing else.")
	if format.Schema != nil {
		if schema, err := json.Marshal(format.Schema); err == nil {
			b.WriteString(" The object must match this JSON schema: ")
			b.Write(schema)
		}
	}
	return b.String()
}

// translateError classifies SDK errors by the HTTP status they carry.
func translateError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return model.StatusError("anthropic", apiErr.StatusCode, err)
	}
	return model.Classify("anthropic", err)
}

// defaultClient wraps the official anthropic-sdk-go client.
type defaultClient struct {
	client *anthropic.Client
}

func newDefaultClient(apiKey string) *defaultClient {
	if apiKey == "" {
		return &defaultClient{}
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &defaultClient{client: &client}
}

func (c *defaultClient) createMessage(ctx context.Context, params anthropic.MessageNewParams) (string, error) {
	if c.client == nil {
		return "", model.ErrNoAPIKey
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", errors.New("no text content in Anthropic response")
	}
	return text.String(), nil
}
