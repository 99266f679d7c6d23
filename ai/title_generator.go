package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"
)

// LLM parameters for title generation
const (
	titleTimeout      = 15 * time.Second
	titleMaxTokens    = 30
	titleTemperature  = 0.1
	titleMaxInputLen  = 500
	titleMaxRuneCount = 60
)

// TitleGenerator produces short conversation titles from the first
// exchange. It runs after the first assistant turn completes and only
// for conversations whose title has not been set by the user.
type TitleGenerator struct {
	client *openai.Client
	model  string
}

// NewTitleGenerator creates a title generator backed by the auxiliary model.
func NewTitleGenerator(cfg *Config) *TitleGenerator {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.HTTPClient = newHTTPClient()

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = providerBaseURLs[cfg.Provider]
	}
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}

	return &TitleGenerator{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
	}
}

// Generate generates a title based on the first user message and the
// assistant's reply.
func (tg *TitleGenerator) Generate(ctx context.Context, userMessage, assistantReply string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()

	if len(userMessage) > titleMaxInputLen {
		userMessage = userMessage[:titleMaxInputLen] + "..."
	}
	if len(assistantReply) > titleMaxInputLen {
		assistantReply = assistantReply[:titleMaxInputLen] + "..."
	}
	prompt := fmt.Sprintf("User message: %s\n\nAssistant reply: %s\n\nGenerate a short title for this conversation.", userMessage, assistantReply)

	req := openai.ChatCompletionRequest{
		Model:       tg.model,
		MaxTokens:   titleMaxTokens,
		Temperature: titleTemperature,
		Stop:        []string{"\n"},
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: titleSystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "title_generation",
				Strict: true,
				Schema: titleJSONSchema,
			},
		},
	}

	start := time.Now()
	resp, err := tg.client.CreateChatCompletion(ctx, req)
	latency := time.Since(start)

	if err != nil {
		slog.Error("title_generation_failed",
			"model", tg.model,
			"error", err,
			"latency_ms", latency.Milliseconds())
		return "", fmt.Errorf("LLM request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from LLM")
	}

	var result struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &result); err != nil {
		slog.Warn("title_generation_parse_failed",
			"model", tg.model,
			"content", resp.Choices[0].Message.Content,
			"error", err)
		return "", fmt.Errorf("parse response failed: %w", err)
	}

	if result.Title == "" {
		return "", fmt.Errorf("empty title in response")
	}

	// Truncate to max length (rune-aware for UTF-8)
	runes := []rune(result.Title)
	if len(runes) > titleMaxRuneCount {
		result.Title = string(runes[:titleMaxRuneCount])
	}

	slog.Debug("title_generation_success",
		"model", tg.model,
		"title", result.Title,
		"latency_ms", latency.Milliseconds(),
		"tokens_total", resp.Usage.TotalTokens)

	return result.Title, nil
}

// titleSystemPrompt is the system prompt for title generation.
const titleSystemPrompt = `You generate concise titles for chat conversations.

Rules:
1. 3-8 words, plain language, no quotes or trailing punctuation.
2. The title reflects the core topic of the exchange, not the phrasing.
3. Avoid filler like "Discussion about" or "Question regarding".
4. For a direct question, the question topic itself works as the title.
5. Keep a neutral tone.

Examples:
- "How do I connect to PostgreSQL from Go?" -> "Go PostgreSQL Connection"
- "Write a binary search implementation" -> "Binary Search Implementation"
- "What's the weather like today?" -> "Weather Inquiry"
`

// titleJSONSchema defines the JSON schema for title generation response.
var titleJSONSchema = &jsonSchema{
	Type:                 "object",
	AdditionalProperties: false,
	Required:             []string{"title"},
	Properties: map[string]*jsonSchema{
		"title": {
			Type:        "string",
			Description: "Short conversation title, 3-8 words",
		},
	},
}

// jsonSchema implements json.Marshaler for OpenAI's JSON Schema format.
// The alias type prevents infinite recursion during marshaling.
type jsonSchema struct {
	Properties           map[string]*jsonSchema `json:"properties,omitempty"`
	Items                *jsonSchema            `json:"items,omitempty"`
	Type                 string                 `json:"type"`
	Description          string                 `json:"description,omitempty"`
	Required             []string               `json:"required,omitempty"`
	AdditionalProperties bool                   `json:"additionalProperties"`
}

func (s *jsonSchema) MarshalJSON() ([]byte, error) {
	type alias jsonSchema
	return json.Marshal((*alias)(s))
}
