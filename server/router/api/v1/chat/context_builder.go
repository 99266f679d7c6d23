package chat

import (
	"strings"

	"github.com/hrygo/loom/ai"
	"github.com/hrygo/loom/store"
)

// defaultSystemPrompt sets baseline behavior and teaches the model the
// artifact tag convention the extractor parses on the way back.
const defaultSystemPrompt = `You are a helpful assistant.

When you produce a substantial, self-contained piece of content (code file, HTML page, SVG image, React component, Mermaid diagram, or standalone document), wrap it in an artifact block:

<loomArtifact identifier="kebab-case-id" type="code" language="python" title="Short Title">
...content...
</loomArtifact>

Use type one of: code, html, svg, react, mermaid, text. Keep the identifier stable when revising an earlier artifact. Never nest artifact blocks.`

// Thinking delimiters wrap the model's reasoning channel when it is
// prepended to the persisted assistant content.
const (
	thinkingOpen  = "<thinking>\n"
	thinkingClose = "\n</thinking>\n\n"
)

// wrapThinking prepends reasoning to visible content inside the fixed
// delimiter pair.
func wrapThinking(reasoning, visible string) string {
	if reasoning == "" {
		return visible
	}
	return thinkingOpen + reasoning + thinkingClose + visible
}

// stripThinking removes a leading thinking block, returning the visible
// answer only. Content without the wrapper passes through unchanged.
func stripThinking(content string) string {
	if !strings.HasPrefix(content, thinkingOpen) {
		return content
	}
	end := strings.Index(content, thinkingClose)
	if end < 0 {
		return content
	}
	return content[end+len(thinkingClose):]
}

// BuildContext reshapes a conversation's history into the model request.
// A system prompt in the conversation settings replaces the default
// entirely rather than being appended to it; the sampling parameters come
// from the same settings blob.
func BuildContext(conversation *store.Conversation, history []*store.Message) ([]ai.Message, ai.Sampling) {
	systemPrompt := defaultSystemPrompt
	var sampling ai.Sampling

	if settings := conversation.Settings; settings != nil {
		if settings.SystemPrompt != nil && *settings.SystemPrompt != "" {
			systemPrompt = *settings.SystemPrompt
		}
		sampling = ai.ResolveSampling(settings.Temperature, settings.TopP, settings.MaxTokens, settings.Reasoning)
	} else {
		sampling = ai.ResolveSampling(nil, nil, 0, false)
	}

	messages := make([]ai.Message, 0, len(history)+1)
	messages = append(messages, ai.Message{Role: "system", Content: systemPrompt})

	for _, m := range history {
		switch m.Role {
		case store.RoleUser:
			messages = append(messages, ai.Message{
				Role:    "user",
				Content: m.Content,
				Images:  attachmentDataURLs(m.Attachments),
			})
		case store.RoleAssistant:
			// Reasoning blocks are for the reader, not the model.
			content := stripThinking(m.Content)
			if content == "" {
				continue
			}
			messages = append(messages, ai.Message{Role: "assistant", Content: content})
		case store.RoleSystem:
			messages = append(messages, ai.Message{Role: "system", Content: m.Content})
		}
	}

	return messages, sampling
}

// attachmentDataURLs converts image attachments to data URLs in their
// original order. Non-image attachments are skipped.
func attachmentDataURLs(attachments []store.Attachment) []string {
	var urls []string
	for _, a := range attachments {
		if !strings.HasPrefix(a.Mime, "image/") {
			continue
		}
		urls = append(urls, "data:"+a.Mime+";base64,"+a.Data)
	}
	return urls
}
