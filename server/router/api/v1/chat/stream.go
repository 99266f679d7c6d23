package chat

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/loom/ai"
	"github.com/hrygo/loom/ai/metrics"
	"github.com/hrygo/loom/store"
)

// EmitFunc pushes one event to the client. Returning an error stops the
// turn; events are emitted strictly in production order.
type EmitFunc func(event Event) error

// StreamController runs the per-turn protocol: persist the user message
// first, forward model deltas verbatim, and commit all terminal state in
// one finalize step. A turn produces exactly one terminal event.
type StreamController struct {
	store     *store.Store
	thread    *ThreadService
	llm       ai.Service
	titles    *ai.TitleGenerator
	suggester *ai.Suggester
	exporter  *metrics.Exporter
}

// NewStreamController wires the controller. The title generator, suggester,
// and metrics exporter are optional; a nil value disables that step.
func NewStreamController(s *store.Store, thread *ThreadService, llm ai.Service, titles *ai.TitleGenerator, suggester *ai.Suggester, exporter *metrics.Exporter) *StreamController {
	return &StreamController{
		store:     s,
		thread:    thread,
		llm:       llm,
		titles:    titles,
		suggester: suggester,
		exporter:  exporter,
	}
}

// SendMessage runs one full turn for a new user message.
//
// The user message is persisted and acknowledged before the model is
// called, so the user's input survives any upstream failure. Aborts during
// streaming discard the partial assistant text entirely: nothing is
// persisted for it and no further events are sent.
func (c *StreamController) SendMessage(ctx context.Context, conversationID int32, content string, attachments []store.Attachment, emit EmitFunc) error {
	conversation, err := c.store.GetConversation(ctx, &store.FindConversation{ID: &conversationID})
	if err != nil {
		return err
	}
	firstExchange := conversation.MessageCount == 0

	userMsg, err := c.thread.AppendMessage(ctx, conversationID, store.RoleUser, content, attachments)
	if err != nil {
		return err
	}
	if err := emit(Event{Name: EventUserMessage, Data: &UserMessagePayload{Message: ToMessageView(userMsg)}}); err != nil {
		return err
	}

	history, err := c.store.ListMessages(ctx, &store.FindMessage{ConversationID: &conversationID})
	if err != nil {
		return c.fail(emit, err)
	}

	slot := &store.Message{
		ConversationID:  conversationID,
		Role:            store.RoleAssistant,
		ParentMessageID: &userMsg.ID,
	}
	return c.run(ctx, conversation, userMsg.Content, history, slot, firstExchange, emit)
}

// RegenerateStream runs a turn that fills a new variation of an existing
// assistant message. The variation row is only created once the stream
// completes, so an abort leaves no empty message behind.
func (c *StreamController) RegenerateStream(ctx context.Context, messageID int64, emit EmitFunc) error {
	original, slot, err := c.thread.PrepareVariation(ctx, messageID)
	if err != nil {
		return err
	}

	conversation, err := c.store.GetConversation(ctx, &store.FindConversation{ID: &original.ConversationID})
	if err != nil {
		return err
	}

	all, err := c.store.ListMessages(ctx, &store.FindMessage{ConversationID: &original.ConversationID})
	if err != nil {
		return err
	}
	// Replay only the prefix before the message being regenerated; later
	// messages and sibling variations are not part of this context. Earlier
	// members of the slot's own group count as siblings, not prefix.
	history := make([]*store.Message, 0, len(all))
	for _, m := range all {
		if m.ID >= original.ID {
			continue
		}
		if m.VariationGroupID != nil && slot.VariationGroupID != nil && *m.VariationGroupID == *slot.VariationGroupID {
			continue
		}
		history = append(history, m)
	}

	lastUser := ""
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == store.RoleUser {
			lastUser = history[i].Content
			break
		}
	}

	return c.run(ctx, conversation, lastUser, history, slot, false, emit)
}

// run streams the model call and finalizes the turn. slot carries the
// lineage fields of the assistant message to be created on completion.
func (c *StreamController) run(ctx context.Context, conversation *store.Conversation, userContent string, history []*store.Message, slot *store.Message, firstExchange bool, emit EmitFunc) error {
	messages, sampling := BuildContext(conversation, history)
	model := conversation.Model
	if model == "" {
		model = c.llm.DefaultModel()
	}

	start := time.Now()
	if c.exporter != nil {
		c.exporter.StreamStarted()
	}
	status := "error"
	defer func() {
		if c.exporter != nil {
			c.exporter.StreamFinished(model, status, time.Since(start))
		}
	}()

	deltas, results, errs := c.llm.Stream(ctx, model, messages, sampling)

	var visible, reasoning strings.Builder
	relay := func(delta ai.Delta) error {
		name := EventContentDelta
		if delta.Reasoning {
			name = EventThinkingBlock
			reasoning.WriteString(delta.Text)
		} else {
			visible.WriteString(delta.Text)
		}
		return emit(Event{Name: name, Data: &DeltaPayload{Text: delta.Text}})
	}
	// drain forwards every delta still buffered once the stream's terminal
	// value has arrived. A select has no channel priority, so without this
	// the tail of the answer could be dropped when the result races it.
	drain := func() error {
		if deltas == nil {
			return nil
		}
		for delta := range deltas {
			if err := relay(delta); err != nil {
				return err
			}
		}
		deltas = nil
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			// Client abort: no further events, no persistence. The partial
			// text existed only in the client's rendering buffer.
			status = "aborted"
			slog.Info("turn aborted",
				"conversation_id", conversation.ID,
				"visible_len", visible.Len())
			return errors.Wrap(store.ErrAborted, "turn aborted by client")

		case delta, ok := <-deltas:
			if !ok {
				deltas = nil
				continue
			}
			if err := relay(delta); err != nil {
				status = "aborted"
				return errors.Wrap(store.ErrAborted, "client went away")
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if drainErr := drain(); drainErr != nil {
				status = "aborted"
				return errors.Wrap(store.ErrAborted, "client went away")
			}
			return c.fail(emit, errors.Wrap(store.ErrUpstreamFailure, err.Error()))

		case result, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			if err := drain(); err != nil {
				status = "aborted"
				return errors.Wrap(store.ErrAborted, "client went away")
			}
			if err := c.finalize(ctx, conversation, userContent, slot, visible.String(), reasoning.String(), model, result, firstExchange, emit); err != nil {
				return c.fail(emit, err)
			}
			status = "complete"
			return nil
		}
	}
}

// finalize commits the completed turn: assistant message, artifacts,
// counters, usage record, then the best-effort title and suggestion calls,
// and finally the single terminal event.
func (c *StreamController) finalize(ctx context.Context, conversation *store.Conversation, userContent string, slot *store.Message, visible, reasoning, model string, result *ai.StreamResult, firstExchange bool, emit EmitFunc) error {
	outputTokens := estimateTokens(visible + reasoning)
	inputTokens := int32(0)
	if result.Stats != nil {
		if result.Stats.CompletionTokens > 0 {
			outputTokens = int32(result.Stats.CompletionTokens)
		}
		inputTokens = int32(result.Stats.PromptTokens)
	}

	slot.UID = shortuuid.New()
	slot.Content = wrapThinking(reasoning, visible)
	slot.TokenCount = outputTokens
	slot.FinishReason = result.FinishReason
	slot.CreatedTs = time.Now().UnixMilli()

	assistantMsg, err := c.store.CreateMessage(ctx, slot)
	if err != nil {
		return err
	}

	// Artifacts are parsed from the visible answer only.
	var persisted []*store.Artifact
	for _, extracted := range ExtractArtifacts(visible) {
		artifact, err := c.store.CreateArtifact(ctx, &store.Artifact{
			UID:            shortuuid.New(),
			ConversationID: conversation.ID,
			MessageID:      assistantMsg.ID,
			Identifier:     extracted.Identifier,
			Type:           extracted.Type,
			Language:       extracted.Language,
			Title:          extracted.Title,
			Content:        extracted.Content,
			CreatedTs:      assistantMsg.CreatedTs,
			UpdatedTs:      assistantMsg.CreatedTs,
		})
		if err != nil {
			// An artifact row failure does not fail the turn.
			slog.Warn("artifact persist failed",
				"conversation_id", conversation.ID,
				"identifier", extracted.Identifier,
				"error", err)
			continue
		}
		persisted = append(persisted, artifact)
	}

	cost := ai.EstimateCost(model, inputTokens, outputTokens)
	usage := &UsageView{Model: model, InputTokens: inputTokens, OutputTokens: outputTokens, Cost: cost}
	if _, err := c.store.CreateUsageRecord(ctx, &store.UsageRecord{
		ConversationID: conversation.ID,
		MessageID:      assistantMsg.ID,
		Model:          model,
		InputTokens:    inputTokens,
		OutputTokens:   outputTokens,
		Cost:           cost,
		CreatedTs:      assistantMsg.CreatedTs,
	}); err != nil {
		slog.Warn("usage record persist failed", "conversation_id", conversation.ID, "error", err)
	}
	if c.exporter != nil {
		c.exporter.RecordUsage(model, inputTokens, outputTokens, cost)
	}

	var suggestions []string
	var newTitle string

	var g errgroup.Group
	if firstExchange && c.titles != nil && conversation.TitleSource != store.TitleSourceUser {
		g.Go(func() error {
			title, err := c.titles.Generate(ctx, userContent, visible)
			if err != nil {
				slog.Warn("title generation skipped", "conversation_id", conversation.ID, "error", err)
				return nil
			}
			newTitle = title
			return nil
		})
	}
	if c.suggester != nil {
		g.Go(func() error {
			suggestions = c.suggester.Suggest(ctx, userContent, visible)
			return nil
		})
	}
	_ = g.Wait()

	if newTitle != "" {
		titleSource := store.TitleSourceAuto
		if _, err := c.store.UpdateConversation(ctx, &store.UpdateConversation{
			ID:          conversation.ID,
			Title:       &newTitle,
			TitleSource: &titleSource,
		}); err != nil {
			slog.Warn("title persist failed", "conversation_id", conversation.ID, "error", err)
		} else if err := emit(Event{Name: EventTitleUpdated, Data: &TitleUpdatedPayload{
			ConversationID: conversation.ID,
			Title:          newTitle,
		}}); err != nil {
			return err
		}
	}

	return emit(Event{Name: EventMessageComplete, Data: &CompletePayload{
		Message:     ToMessageView(assistantMsg),
		Usage:       usage,
		Artifacts:   persisted,
		Suggestions: suggestions,
	}})
}

// fail converts any post-acknowledgement failure into the single terminal
// error event. State persisted before the failure is deliberately kept.
func (c *StreamController) fail(emit EmitFunc, err error) error {
	slog.Error("turn failed", "error", err)
	if emitErr := emit(Event{Name: EventError, Data: &ErrorPayload{Message: err.Error()}}); emitErr != nil {
		return err
	}
	return err
}
