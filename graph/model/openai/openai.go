// Package openai adapts the OpenAI chat completions API to model.ChatModel.
package openai

import (
	"context"
	"errors"

	"github.com/dshills/coachgraph/graph/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// DefaultModel is used when NewChatModel is given an empty model name.
const DefaultModel = "gpt-4o-mini"

// ChatModel implements model.ChatModel for OpenAI's API.
//
// A non-nil response format switches the request to JSON-object mode. The
// schema itself is not sent: JSON-object mode only guarantees syntactically
// valid JSON, and the stage prompt plus its validator take care of the
// fields.
//
// Example usage:
//
//	m := openai.NewChatModel(os.Getenv("OPENAI_API_KEY"), "gpt-4o-mini")
//	out, err := m.Chat(ctx, messages, nil)
type ChatModel struct {
	modelName string
	client    openaiClient
}

// openaiClient is the slice of the SDK the adapter uses.
// This allows for easy mocking in tests.
type openaiClient interface {
	createChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (string, error)
}

// NewChatModel creates a new OpenAI ChatModel. An empty modelName selects
// DefaultModel. An empty apiKey yields a model whose calls fail with
// model.ErrNoAPIKey.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	return &ChatModel{
		modelName: modelName,
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

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.modelName),
		Messages: convertMessages(messages),
	}
	if format != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: openai.Ptr(shared.NewResponseFormatJSONObjectParam()),
		}
	}

	text, err := m.client.createChatCompletion(ctx, params)
	if err != nil {
		return model.ChatOut{}, translateError(err)
	}
	return model.ChatOut{Text: text, Model: m.modelName}, nil
}

// translateError classifies SDK errors by the HTTP status they carry.
func translateError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return model.StatusError("openai", apiErr.StatusCode, err)
	}
	return model.Classify("openai", err)
}

func convertMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			})
		case model.RoleAssistant:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Content: openai.ChatCompletionAssistantMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			})
		default:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			})
		}
	}
	return out
}

// defaultClient wraps the official openai-go SDK.
type defaultClient struct {
	client *openai.Client
}

func newDefaultClient(apiKey string) *defaultClient {
	if apiKey == "" {
		return &defaultClient{}
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &defaultClient{client: &client}
}

func (c *defaultClient) createChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	if c.client == nil {
		return "", model.ErrNoAPIKey
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("no response from OpenAI API")
	}
	return completion.Choices[0].Message.Content, nil
}
