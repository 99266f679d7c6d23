// Package ai provides the LLM client used for streaming chat turns,
// title generation, and follow-up suggestions.
package ai

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
)

// Message represents a chat message sent to the model. Images carries
// data URLs for multimodal user messages; it is empty for text-only turns.
type Message struct {
	Role    string // system, user, assistant
	Content string
	Images  []string
}

// Delta is a single streamed chunk. Reasoning marks chunks that belong to
// the model's thinking channel rather than the visible answer.
type Delta struct {
	Text      string
	Reasoning bool
}

// CallStats carries token usage and timing for a single LLM call.
type CallStats struct {
	PromptTokens     int   `json:"prompt_tokens"`
	CompletionTokens int   `json:"completion_tokens"`
	TotalTokens      int   `json:"total_tokens"`
	TimeToFirstMs    int64 `json:"time_to_first_ms"`
	TotalDurationMs  int64 `json:"total_duration_ms"`
}

// StreamResult is the terminal value of a successful stream.
type StreamResult struct {
	FinishReason string
	Stats        *CallStats
}

// Sampling holds the per-turn generation parameters after resolution.
type Sampling struct {
	Temperature float32
	TopP        float32 // 0 means unset
	MaxTokens   int
	Reasoning   bool
}

const (
	defaultTemperature       = 0.7
	defaultMaxTokens         = 4096
	reasoningMinMaxTokens    = 16384
	streamTimeout            = 5 * time.Minute
	defaultCompleteTimeoutMs = 120_000
)

// ResolveSampling turns optional user settings into concrete parameters.
// TopP, when set to a non-default value, takes precedence over temperature
// (the two should not both be moved off their defaults). Extended reasoning
// forces temperature 1.0 and guarantees enough output budget for the
// thinking channel.
func ResolveSampling(temperature, topP *float32, maxTokens int, reasoning bool) Sampling {
	s := Sampling{
		Temperature: defaultTemperature,
		MaxTokens:   maxTokens,
	}
	if s.MaxTokens <= 0 {
		s.MaxTokens = defaultMaxTokens
	}

	if topP != nil && *topP > 0 && *topP < 1 {
		s.TopP = *topP
		s.Temperature = 1.0
	} else if temperature != nil {
		s.Temperature = *temperature
	}

	if reasoning {
		s.Reasoning = true
		s.Temperature = 1.0
		s.TopP = 0
		if s.MaxTokens < reasoningMinMaxTokens {
			s.MaxTokens = reasoningMinMaxTokens
		}
	}
	return s
}

// Service is the LLM client interface.
type Service interface {
	// Complete performs a synchronous call. Returns content, statistics, and error.
	Complete(ctx context.Context, model string, messages []Message, sampling Sampling) (string, *CallStats, error)

	// Stream performs a streaming call. Deltas arrive on the first channel;
	// the result channel delivers exactly one value when the stream finishes
	// cleanly; the error channel delivers at most one value otherwise. All
	// three channels are closed when the goroutine exits.
	Stream(ctx context.Context, model string, messages []Message, sampling Sampling) (<-chan Delta, <-chan *StreamResult, <-chan error)

	// DefaultModel returns the model used when a conversation does not pin one.
	DefaultModel() string

	// Warmup sends a lightweight ping request to establish the upstream connection.
	Warmup(ctx context.Context)
}

type service struct {
	client   *openai.Client
	provider string
	model    string
	timeout  int // seconds
}

// Config represents LLM client configuration.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  int // request timeout in seconds, default 120
}

var providerBaseURLs = map[string]string{
	"deepseek":    "https://api.deepseek.com",
	"siliconflow": "https://api.siliconflow.cn/v1",
	"openrouter":  "https://openrouter.ai/api/v1",
	"ollama":      "http://localhost:11434/v1",
}

// NewService creates a new LLM client for any OpenAI-compatible provider.
func NewService(cfg *Config) (Service, error) {
	if cfg.Model == "" {
		return nil, errors.New("llm model required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.HTTPClient = newHTTPClient()

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = providerBaseURLs[cfg.Provider]
	}
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCompleteTimeoutMs / 1000
	}

	return &service{
		client:   openai.NewClientWithConfig(clientConfig),
		provider: cfg.Provider,
		model:    cfg.Model,
		timeout:  timeout,
	}, nil
}

func (s *service) DefaultModel() string {
	return s.model
}

func (s *service) Complete(ctx context.Context, model string, messages []Message, sampling Sampling) (string, *CallStats, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.timeout)*time.Second)
	defer cancel()

	start := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, s.buildRequest(model, messages, sampling))
	if err != nil {
		slog.Error("llm complete failed", "model", model, "error", err)
		return "", nil, errors.Wrap(err, "llm completion failed")
	}
	if len(resp.Choices) == 0 {
		return "", nil, errors.New("empty response from llm")
	}

	total := time.Since(start)
	stats := &CallStats{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		TimeToFirstMs:    total.Milliseconds(),
		TotalDurationMs:  total.Milliseconds(),
	}
	return resp.Choices[0].Message.Content, stats, nil
}

func (s *service) Stream(ctx context.Context, model string, messages []Message, sampling Sampling) (<-chan Delta, <-chan *StreamResult, <-chan error) {
	deltaChan := make(chan Delta, 16)
	resultChan := make(chan *StreamResult, 1)
	errChan := make(chan error, 1)

	go func() {
		defer close(deltaChan)
		defer close(resultChan)
		defer close(errChan)

		ctx, cancel := context.WithTimeout(ctx, streamTimeout)
		defer cancel()

		req := s.buildRequest(model, messages, sampling)
		req.Stream = true
		req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

		start := time.Now()
		var firstChunk time.Time
		finishReason := ""
		var usage *openai.Usage

		slog.Debug("llm stream starting", "model", model, "messages", len(messages))
		stream, err := s.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			slog.Error("llm stream create failed", "model", model, "error", err)
			sendErr(errChan, errors.Wrap(err, "create stream failed"))
			return
		}
		defer func() { _ = stream.Close() }()

		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) || strings.Contains(err.Error(), "EOF") {
					total := time.Since(start)
					stats := &CallStats{
						TimeToFirstMs:   sinceOrZero(firstChunk, start),
						TotalDurationMs: total.Milliseconds(),
					}
					if usage != nil {
						stats.PromptTokens = usage.PromptTokens
						stats.CompletionTokens = usage.CompletionTokens
						stats.TotalTokens = usage.TotalTokens
					}
					slog.Debug("llm stream completed",
						"model", model,
						"finish_reason", finishReason,
						"total_tokens", stats.TotalTokens,
						"duration_ms", total.Milliseconds())
					resultChan <- &StreamResult{FinishReason: finishReason, Stats: stats}
					return
				}
				if ctx.Err() != nil {
					sendErr(errChan, ctx.Err())
					return
				}
				slog.Error("llm stream receive error", "model", model, "error", err)
				sendErr(errChan, errors.Wrap(err, "stream recv failed"))
				return
			}

			if response.Usage != nil && response.Usage.TotalTokens > 0 {
				u := *response.Usage
				usage = &u
			}
			if len(response.Choices) == 0 {
				continue
			}

			choice := response.Choices[0]
			if choice.FinishReason != "" {
				finishReason = string(choice.FinishReason)
			}

			if choice.Delta.ReasoningContent != "" {
				if firstChunk.IsZero() {
					firstChunk = time.Now()
				}
				if !send(ctx, deltaChan, Delta{Text: choice.Delta.ReasoningContent, Reasoning: true}) {
					return
				}
			}
			if choice.Delta.Content != "" {
				if firstChunk.IsZero() {
					firstChunk = time.Now()
				}
				if !send(ctx, deltaChan, Delta{Text: choice.Delta.Content}) {
					return
				}
			}
		}
	}()

	return deltaChan, resultChan, errChan
}

func (s *service) buildRequest(model string, messages []Message, sampling Sampling) openai.ChatCompletionRequest {
	if model == "" {
		model = s.model
	}
	req := openai.ChatCompletionRequest{
		Model:     model,
		MaxTokens: sampling.MaxTokens,
		Messages:  convertMessages(messages),
	}
	// At most one sampling knob goes upstream: a forwarded top_p leaves
	// temperature at the provider default.
	if sampling.TopP > 0 {
		req.TopP = sampling.TopP
	} else {
		req.Temperature = sampling.Temperature
	}
	return req
}

func (s *service) Warmup(ctx context.Context) {
	warmupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	_, err := s.client.CreateChatCompletion(warmupCtx, openai.ChatCompletionRequest{
		Model:     s.model,
		MaxTokens: 1,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "Hi"},
		},
	})
	if err != nil {
		slog.Warn("llm warmup ping failed, first request may be slower",
			"provider", s.provider,
			"model", s.model,
			"error", err,
			"duration_ms", time.Since(start).Milliseconds())
		return
	}
	slog.Info("llm connection warmed up",
		"provider", s.provider,
		"model", s.model,
		"duration_ms", time.Since(start).Milliseconds())
}

func send(ctx context.Context, ch chan<- Delta, d Delta) bool {
	select {
	case ch <- d:
		return true
	case <-ctx.Done():
		return false
	}
}

func sendErr(ch chan<- error, err error) {
	select {
	case ch <- err:
	default:
	}
}

func sinceOrZero(t, fallback time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Sub(fallback).Milliseconds()
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case "system":
			role = openai.ChatMessageRoleSystem
		case "assistant":
			role = openai.ChatMessageRoleAssistant
		}

		if len(m.Images) == 0 {
			out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
			continue
		}

		parts := make([]openai.ChatMessagePart, 0, len(m.Images)+1)
		if m.Content != "" {
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: m.Content,
			})
		}
		for _, url := range m.Images {
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: url},
			})
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, MultiContent: parts})
	}
	return out
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Minute,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}
