package ai

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"
)

const (
	suggestTimeout     = 15 * time.Second
	suggestMaxTokens   = 150
	suggestTemperature = 0.7
	suggestMaxInputLen = 1200
	maxSuggestions     = 3
)

// Suggester proposes follow-up prompts the user might send next. It is
// strictly best-effort: any failure yields an empty slice, never an error
// surfaced to the turn.
type Suggester struct {
	client *openai.Client
	model  string
}

// NewSuggester creates a follow-up suggester backed by the auxiliary model.
func NewSuggester(cfg *Config) *Suggester {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.HTTPClient = newHTTPClient()

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = providerBaseURLs[cfg.Provider]
	}
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}

	return &Suggester{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
	}
}

// Suggest returns up to three follow-up prompts for the latest exchange.
func (s *Suggester) Suggest(ctx context.Context, userMessage, assistantReply string) []string {
	ctx, cancel := context.WithTimeout(ctx, suggestTimeout)
	defer cancel()

	if len(userMessage) > suggestMaxInputLen {
		userMessage = userMessage[:suggestMaxInputLen] + "..."
	}
	if len(assistantReply) > suggestMaxInputLen {
		assistantReply = assistantReply[:suggestMaxInputLen] + "..."
	}

	req := openai.ChatCompletionRequest{
		Model:       s.model,
		MaxTokens:   suggestMaxTokens,
		Temperature: suggestTemperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: suggestSystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: "User message: " + userMessage + "\n\nAssistant reply: " + assistantReply,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "followup_suggestions",
				Strict: true,
				Schema: suggestJSONSchema,
			},
		},
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Warn("suggestion_generation_failed", "model", s.model, "error", err)
		return nil
	}
	if len(resp.Choices) == 0 {
		return nil
	}

	var result struct {
		Suggestions []string `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &result); err != nil {
		slog.Warn("suggestion_parse_failed",
			"model", s.model,
			"content", resp.Choices[0].Message.Content,
			"error", err)
		return nil
	}

	suggestions := make([]string, 0, maxSuggestions)
	for _, sg := range result.Suggestions {
		if sg == "" {
			continue
		}
		suggestions = append(suggestions, sg)
		if len(suggestions) == maxSuggestions {
			break
		}
	}
	return suggestions
}

const suggestSystemPrompt = `You propose short follow-up prompts a user might send next in a chat.

Rules:
1. Return 1-3 suggestions, each a complete prompt under 12 words.
2. Suggestions continue the current topic; never change the subject.
3. Write from the user's perspective ("Show me...", "How does...").
4. No numbering, no quotes, no duplicate phrasing.
`

var suggestJSONSchema = &jsonSchema{
	Type:                 "object",
	AdditionalProperties: false,
	Required:             []string{"suggestions"},
	Properties: map[string]*jsonSchema{
		"suggestions": {
			Type:        "array",
			Description: "Up to three follow-up prompts",
			Items: &jsonSchema{
				Type: "string",
			},
		},
	},
}
