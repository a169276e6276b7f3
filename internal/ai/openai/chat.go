package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"medical-ai-platform/internal/ai"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jsonSchemaFormat struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

type responseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *jsonSchemaFormat `json:"json_schema,omitempty"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		FinishReason string `json:"finish_reason"`
		Message      struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
	} `json:"choices"`
}

// GenerateJSON calls chat completions with a strict json_schema response
// format and returns the raw JSON content of the first choice.
func (c *Client) GenerateJSON(ctx context.Context, req ai.JSONRequest) (json.RawMessage, error) {
	body := chatRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		ResponseFormat: responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchemaFormat{
				Name:   req.SchemaName,
				Strict: true,
				Schema: req.Schema,
			},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	var out chatResponse
	if err := c.do(ctx, "/v1/chat/completions", "application/json", payload, &out); err != nil {
		return nil, fmt.Errorf("openai chat: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, ai.ErrEmptyOutput
	}
	choice := out.Choices[0]
	if choice.Message.Refusal != "" {
		return nil, fmt.Errorf("%w: %s", ai.ErrRefused, choice.Message.Refusal)
	}
	if choice.FinishReason == "length" {
		return nil, ai.ErrTruncated
	}
	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		return nil, ai.ErrEmptyOutput
	}
	if !json.Valid([]byte(content)) {
		return nil, fmt.Errorf("openai chat: content is not valid JSON")
	}
	return json.RawMessage(content), nil
}
