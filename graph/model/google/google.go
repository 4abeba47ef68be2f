// Package google provides ChatModel adapter for Google Gemini API.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/coachgraph/graph/model"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// DefaultModel is used when NewChatModel is given an empty model name.
const DefaultModel = "gemini-2.5-flash"

// ChatModel implements model.ChatModel for Google's Gemini API.
//
// System messages are sent as the model's system instruction, earlier turns
// as chat history, and the final user turn as the message. A non-nil
// response format sets the JSON MIME type and converts the format's schema
// into a genai.Schema, so Gemini constrains the reply itself.
//
// Example usage:
//
//	m := google.NewChatModel(os.Getenv("GOOGLE_API_KEY"), "gemini-2.5-flash")
//	out, err := m.Chat(ctx, messages, nil)
//	if err != nil {
//	    var safetyErr *google.SafetyFilterError
//	    if errors.As(err, &safetyErr) {
//	        log.Printf("Content blocked: %s", safetyErr.Category())
//	    }
//	}
type ChatModel struct {
	modelName string
	client    googleClient
}

// googleClient defines the interface for Google Gemini API operations.
// This allows for easy mocking in tests.
type googleClient interface {
	generateContent(ctx context.Context, req request) (string, error)
}

// request is a provider-shaped conversation.
type request struct {
	system  string
	history []*genai.Content
	message []genai.Part
	schema  *genai.Schema
	json    bool
}

// NewChatModel creates a new Google ChatModel. An empty modelName selects
// DefaultModel.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	return &ChatModel{
		modelName: modelName,
		client:    &defaultClient{apiKey: apiKey, modelName: modelName},
	}
}

// Name returns the configured model name.
func (m *ChatModel) Name() string {
	return m.modelName
}

// Chat implements the model.ChatModel interface.
//
// Safety blocks are returned as *SafetyFilterError, which the invoker
// treats like any other failed attempt.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, format *model.ResponseFormat) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	req := buildRequest(messages)
	if format != nil {
		req.json = true
		req.schema = convertSchemaToGenai(format.Schema)
	}

	text, err := m.client.generateContent(ctx, req)
	if err != nil {
		var safetyErr *SafetyFilterError
		if errors.As(err, &safetyErr) {
			return model.ChatOut{}, err
		}
		return model.ChatOut{}, translateError(err)
	}
	return model.ChatOut{Text: text, Model: m.modelName}, nil
}

// translateError classifies REST errors by the HTTP status they carry.
func translateError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return model.StatusError("google", apiErr.Code, err)
	}
	return model.Classify("google", err)
}

// buildRequest splits the conversation into system instruction, history and
// the message to send. When the conversation does not end with a user turn,
// everything goes to history and the model is asked to continue.
func buildRequest(messages []model.Message) request {
	system, conversation := model.SplitSystem(messages)
	req := request{system: system}

	last := len(conversation) - 1
	if last >= 0 && conversation[last].Role == model.RoleUser {
		req.message = []genai.Part{genai.Text(conversation[last].Content)}
		conversation = conversation[:last]
	} else {
		req.message = []genai.Part{genai.Text("Continue.")}
	}

	for _, msg := range conversation {
		role := "user"
		if msg.Role == model.RoleAssistant {
			role = "model"
		}
		req.history = append(req.history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}
	return req
}

// defaultClient wraps the official Google Gemini SDK client.
type defaultClient struct {
	apiKey    string
	modelName string
}

func (c *defaultClient) generateContent(ctx context.Context, req request) (string, error) {
	if c.apiKey == "" {
		return "", model.ErrNoAPIKey
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return "", fmt.Errorf("failed to create Google client: %w", err)
	}
	defer func() { _ = client.Close() }()

	genModel := client.GenerativeModel(c.modelName)
	if req.system != "" {
		genModel.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.system)}}
	}
	if req.json {
		genModel.ResponseMIMEType = "application/json"
		genModel.ResponseSchema = req.schema
	}

	session := genModel.StartChat()
	session.History = req.history

	resp, err := session.SendMessage(ctx, req.message...)
	if err != nil {
		return "", fmt.Errorf("google API error: %w", err)
	}
	return convertResponse(resp)
}

// convertSchemaToGenai converts a JSON schema map to genai.Schema format.
// Only the flat object shapes produced by shape.Shape.Schema are handled:
// top-level properties with a type and description, and the required list.
func convertSchemaToGenai(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}

	result := &genai.Schema{
		Type: genai.TypeObject,
	}

	if props, ok := schema["properties"].(map[string]interface{}); ok {
		properties := make(map[string]*genai.Schema)
		for key, val := range props {
			if propMap, ok := val.(map[string]interface{}); ok {
				propSchema := &genai.Schema{}
				if typeStr, ok := propMap["type"].(string); ok {
					propSchema.Type = convertTypeString(typeStr)
				}
				if desc, ok := propMap["description"].(string); ok {
					propSchema.Description = desc
				}
				if enum, ok := propMap["enum"].([]string); ok {
					propSchema.Enum = enum
				}
				properties[key] = propSchema
			}
		}
		result.Properties = properties
	}

	if required, ok := schema["required"].([]string); ok {
		result.Required = required
	} else if required, ok := schema["required"].([]interface{}); ok {
		requiredStrs := make([]string, 0, len(required))
		for _, v := range required {
			if s, ok := v.(string); ok {
				requiredStrs = append(requiredStrs, s)
			}
		}
		result.Required = requiredStrs
	}

	return result
}

// convertTypeString converts a JSON Schema type string to genai.Type constant.
func convertTypeString(typeStr string) genai.Type {
	switch typeStr {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

// convertResponse extracts the text of the first candidate. A candidate
// stopped by the safety filter becomes a *SafetyFilterError naming the
// blocked categories.
func convertResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("no candidates in Gemini response")
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		var blocked []string
		for _, rating := range candidate.SafetyRatings {
			if rating != nil && rating.Blocked {
				blocked = append(blocked, fmt.Sprint(rating.Category))
			}
		}
		return "", &SafetyFilterError{reason: "SAFETY", category: strings.Join(blocked, ",")}
	}
	if candidate.Content == nil {
		return "", errors.New("empty candidate in Gemini response")
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	return text.String(), nil
}

// SafetyFilterError represents a Google safety filter block.
//
// Use errors.As to check for this error type:
//
//	var safetyErr *google.SafetyFilterError
//	if errors.As(err, &safetyErr) {
//	    log.Printf("Content blocked: %s", safetyErr.Category())
//	}
type SafetyFilterError struct {
	reason   string
	category string
}

// Error implements the error interface.
func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.category
}

// Category returns the safety categories that triggered the block.
func (e *SafetyFilterError) Category() string {
	return e.category
}

// Reason returns why the content was blocked.
func (e *SafetyFilterError) Reason() string {
	return e.reason
}
