package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/loom/ai"
	"github.com/hrygo/loom/store"
)

// mockLLM plays back a scripted stream and records the context it was
// asked to complete.
type mockLLM struct {
	deltas      []ai.Delta
	result      *ai.StreamResult
	err         error
	hang        bool // keep the stream open until the context is cancelled
	gotMessages []ai.Message
}

func (m *mockLLM) Complete(context.Context, string, []ai.Message, ai.Sampling) (string, *ai.CallStats, error) {
	return "", nil, nil
}

func (m *mockLLM) DefaultModel() string { return "mock-model" }

func (m *mockLLM) Warmup(context.Context) {}

func (m *mockLLM) Stream(ctx context.Context, _ string, messages []ai.Message, _ ai.Sampling) (<-chan ai.Delta, <-chan *ai.StreamResult, <-chan error) {
	m.gotMessages = messages
	deltaChan := make(chan ai.Delta, len(m.deltas))
	resultChan := make(chan *ai.StreamResult, 1)
	errChan := make(chan error, 1)

	go func() {
		defer close(deltaChan)
		defer close(resultChan)
		defer close(errChan)

		for _, d := range m.deltas {
			select {
			case deltaChan <- d:
			case <-ctx.Done():
				return
			}
		}
		if m.hang {
			<-ctx.Done()
			return
		}
		if m.err != nil {
			errChan <- m.err
			return
		}
		resultChan <- m.result
	}()

	return deltaChan, resultChan, errChan
}

type eventRecorder struct {
	events []Event
}

func (r *eventRecorder) emit(event Event) error {
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) byName(name string) []Event {
	var out []Event
	for _, e := range r.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func newTestController(s *store.Store, llm ai.Service) *StreamController {
	return NewStreamController(s, NewThreadService(s), llm, nil, nil, nil)
}

func TestSendMessageHappyPath(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conversation := newTestConversation(t, s)

	llm := &mockLLM{
		deltas: []ai.Delta{{Text: "Hi"}, {Text: " there"}},
		result: &ai.StreamResult{
			FinishReason: "stop",
			Stats:        &ai.CallStats{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		},
	}
	c := newTestController(s, llm)

	rec := &eventRecorder{}
	require.NoError(t, c.SendMessage(ctx, conversation.ID, "Hello", nil, rec.emit))

	userEvents := rec.byName(EventUserMessage)
	require.Len(t, userEvents, 1)
	assert.Equal(t, "Hello", userEvents[0].Data.(*UserMessagePayload).Message.Content)

	deltaEvents := rec.byName(EventContentDelta)
	require.NotEmpty(t, deltaEvents)
	assert.Equal(t, "Hi", deltaEvents[0].Data.(*DeltaPayload).Text)

	completeEvents := rec.byName(EventMessageComplete)
	require.Len(t, completeEvents, 1)
	complete := completeEvents[0].Data.(*CompletePayload)
	assert.Equal(t, store.RoleAssistant, complete.Message.Role)
	assert.Equal(t, "Hi there", complete.Message.Content)
	assert.Equal(t, "stop", complete.Message.FinishReason)
	require.NotNil(t, complete.Usage)
	assert.Equal(t, int32(10), complete.Usage.InputTokens)
	assert.Equal(t, int32(5), complete.Usage.OutputTokens)

	// The terminal event comes last and exactly once.
	assert.Equal(t, EventMessageComplete, rec.events[len(rec.events)-1].Name)
	assert.Empty(t, rec.byName(EventError))

	got, err := s.GetConversation(ctx, &store.FindConversation{ID: &conversation.ID})
	require.NoError(t, err)
	assert.Equal(t, int32(2), got.MessageCount)
}

func TestSendMessageThinkingDeltas(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conversation := newTestConversation(t, s)

	llm := &mockLLM{
		deltas: []ai.Delta{
			{Text: "pondering", Reasoning: true},
			{Text: "Answer"},
		},
		result: &ai.StreamResult{FinishReason: "stop", Stats: &ai.CallStats{}},
	}
	c := newTestController(s, llm)

	rec := &eventRecorder{}
	require.NoError(t, c.SendMessage(ctx, conversation.ID, "Think first", nil, rec.emit))

	require.Len(t, rec.byName(EventThinkingBlock), 1)
	complete := rec.byName(EventMessageComplete)[0].Data.(*CompletePayload)

	// Reasoning is wrapped into the persisted content, ahead of the answer.
	assert.Equal(t, wrapThinking("pondering", "Answer"), complete.Message.Content)
	assert.Equal(t, "Answer", stripThinking(complete.Message.Content))
}

func TestSendMessagePersistsExtractedArtifacts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conversation := newTestConversation(t, s)

	body := "Sure:\n<loomArtifact identifier=\"hello-py\" type=\"code\" language=\"python\" title=\"Hello\">print('hi')</loomArtifact>"
	llm := &mockLLM{
		deltas: []ai.Delta{{Text: body}},
		result: &ai.StreamResult{FinishReason: "stop", Stats: &ai.CallStats{}},
	}
	c := newTestController(s, llm)

	rec := &eventRecorder{}
	require.NoError(t, c.SendMessage(ctx, conversation.ID, "write hello", nil, rec.emit))

	complete := rec.byName(EventMessageComplete)[0].Data.(*CompletePayload)
	require.Len(t, complete.Artifacts, 1)
	assert.Equal(t, "hello-py", complete.Artifacts[0].Identifier)
	assert.Equal(t, "print('hi')", complete.Artifacts[0].Content)

	stored, err := s.ListArtifacts(ctx, &store.FindArtifact{ConversationID: &conversation.ID})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, int32(1), stored[0].Version)
}

func TestSendMessageUpstreamFailureKeepsUserMessage(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conversation := newTestConversation(t, s)

	llm := &mockLLM{err: assert.AnError}
	c := newTestController(s, llm)

	rec := &eventRecorder{}
	err := c.SendMessage(ctx, conversation.ID, "doomed", nil, rec.emit)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrUpstreamFailure)

	// One user_message event, one terminal error event, nothing else.
	require.Len(t, rec.byName(EventUserMessage), 1)
	require.Len(t, rec.byName(EventError), 1)
	assert.Empty(t, rec.byName(EventMessageComplete))

	// The user's input survives the failure.
	messages, err := s.ListMessages(ctx, &store.FindMessage{ConversationID: &conversation.ID})
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, store.RoleUser, messages[0].Role)
}

func TestSendMessageAbortDiscardsPartialText(t *testing.T) {
	s := newTestStore(t)
	conversation := newTestConversation(t, s)

	llm := &mockLLM{deltas: []ai.Delta{{Text: "partial"}}, hang: true}
	c := newTestController(s, llm)

	ctx, cancel := context.WithCancel(context.Background())
	rec := &eventRecorder{}
	emitted := make(chan struct{}, 1)
	emit := func(event Event) error {
		_ = rec.emit(event)
		if event.Name == EventContentDelta {
			select {
			case emitted <- struct{}{}:
			default:
			}
		}
		return nil
	}

	go func() {
		<-emitted
		cancel()
	}()

	err := c.SendMessage(ctx, conversation.ID, "Hello", nil, emit)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrAborted)

	// No terminal event after an abort, and no assistant row persisted.
	assert.Empty(t, rec.byName(EventMessageComplete))
	assert.Empty(t, rec.byName(EventError))

	messages, lerr := s.ListMessages(context.Background(), &store.FindMessage{ConversationID: &conversation.ID})
	require.NoError(t, lerr)
	require.Len(t, messages, 1)
	assert.Equal(t, store.RoleUser, messages[0].Role)
}

func TestSendMessageUnknownConversation(t *testing.T) {
	s := newTestStore(t)
	c := newTestController(s, &mockLLM{})

	rec := &eventRecorder{}
	err := c.SendMessage(context.Background(), 424242, "hi", nil, rec.emit)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, rec.events)
}

func TestRegenerateStreamFillsVariation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conversation := newTestConversation(t, s)
	ts := NewThreadService(s)

	_, err := ts.AppendMessage(ctx, conversation.ID, store.RoleUser, "q", nil)
	require.NoError(t, err)
	original, err := ts.AppendMessage(ctx, conversation.ID, store.RoleAssistant, "first answer", nil)
	require.NoError(t, err)

	llm := &mockLLM{
		deltas: []ai.Delta{{Text: "second answer"}},
		result: &ai.StreamResult{FinishReason: "stop", Stats: &ai.CallStats{}},
	}
	c := newTestController(s, llm)

	rec := &eventRecorder{}
	require.NoError(t, c.RegenerateStream(ctx, original.ID, rec.emit))

	complete := rec.byName(EventMessageComplete)[0].Data.(*CompletePayload)
	assert.Equal(t, "second answer", complete.Message.Content)
	require.NotNil(t, complete.Message.VariationGroupID)
	assert.Equal(t, original.ID, *complete.Message.VariationGroupID)
	assert.Equal(t, int32(1), complete.Message.VariationIndex)

	variations, err := ts.ListVariations(ctx, original.ID)
	require.NoError(t, err)
	assert.Len(t, variations, 2)
}

func TestRegenerateStreamAbortLeavesNoEmptyRow(t *testing.T) {
	s := newTestStore(t)
	conversation := newTestConversation(t, s)
	ts := NewThreadService(s)
	ctx := context.Background()

	_, err := ts.AppendMessage(ctx, conversation.ID, store.RoleUser, "q", nil)
	require.NoError(t, err)
	original, err := ts.AppendMessage(ctx, conversation.ID, store.RoleAssistant, "a", nil)
	require.NoError(t, err)

	llm := &mockLLM{hang: true}
	c := newTestController(s, llm)

	abortCtx, cancel := context.WithCancel(ctx)
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	rec := &eventRecorder{}
	err = c.RegenerateStream(abortCtx, original.ID, rec.emit)
	assert.ErrorIs(t, err, store.ErrAborted)

	messages, err := s.ListMessages(ctx, &store.FindMessage{ConversationID: &conversation.ID})
	require.NoError(t, err)
	assert.Len(t, messages, 2)
}

// preloadedLLM fills and closes every channel before Stream returns, so the
// terminal result is already waiting while deltas sit buffered.
type preloadedLLM struct {
	deltas []ai.Delta
	result *ai.StreamResult
}

func (m *preloadedLLM) Complete(context.Context, string, []ai.Message, ai.Sampling) (string, *ai.CallStats, error) {
	return "", nil, nil
}

func (m *preloadedLLM) DefaultModel() string { return "mock-model" }

func (m *preloadedLLM) Warmup(context.Context) {}

func (m *preloadedLLM) Stream(context.Context, string, []ai.Message, ai.Sampling) (<-chan ai.Delta, <-chan *ai.StreamResult, <-chan error) {
	deltaChan := make(chan ai.Delta, len(m.deltas))
	resultChan := make(chan *ai.StreamResult, 1)
	errChan := make(chan error)

	for _, d := range m.deltas {
		deltaChan <- d
	}
	close(deltaChan)
	resultChan <- m.result
	close(resultChan)
	close(errChan)
	return deltaChan, resultChan, errChan
}

func TestSendMessageRelaysBufferedTailBeforeComplete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conversation := newTestConversation(t, s)

	llm := &preloadedLLM{
		deltas: []ai.Delta{{Text: "Hi"}, {Text: " there"}, {Text: ", friend"}},
		result: &ai.StreamResult{FinishReason: "stop", Stats: &ai.CallStats{PromptTokens: 3, CompletionTokens: 3}},
	}
	c := newTestController(s, llm)

	rec := &eventRecorder{}
	require.NoError(t, c.SendMessage(ctx, conversation.ID, "Hello", nil, rec.emit))

	// Every delta reaches the client, in order, ahead of the terminal event.
	deltaEvents := rec.byName(EventContentDelta)
	require.Len(t, deltaEvents, 3)
	assert.Equal(t, EventMessageComplete, rec.events[len(rec.events)-1].Name)

	complete := rec.byName(EventMessageComplete)[0].Data.(*CompletePayload)
	assert.Equal(t, "Hi there, friend", complete.Message.Content)

	messages, err := s.ListMessages(ctx, &store.FindMessage{ConversationID: &conversation.ID})
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "Hi there, friend", messages[1].Content)
}

func TestRegenerateStreamExcludesSiblingVariations(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conversation := newTestConversation(t, s)
	ts := NewThreadService(s)

	_, err := ts.AppendMessage(ctx, conversation.ID, store.RoleUser, "the question", nil)
	require.NoError(t, err)
	anchor, err := ts.AppendMessage(ctx, conversation.ID, store.RoleAssistant, "first answer", nil)
	require.NoError(t, err)

	first := &mockLLM{
		deltas: []ai.Delta{{Text: "second answer"}},
		result: &ai.StreamResult{FinishReason: "stop", Stats: &ai.CallStats{}},
	}
	rec := &eventRecorder{}
	require.NoError(t, newTestController(s, first).RegenerateStream(ctx, anchor.ID, rec.emit))
	sibling := rec.byName(EventMessageComplete)[0].Data.(*CompletePayload).Message

	// Regenerating the new variation must not replay the anchor: it sits
	// earlier in id order but is a sibling, not conversation prefix.
	second := &mockLLM{
		deltas: []ai.Delta{{Text: "third answer"}},
		result: &ai.StreamResult{FinishReason: "stop", Stats: &ai.CallStats{}},
	}
	rec = &eventRecorder{}
	require.NoError(t, newTestController(s, second).RegenerateStream(ctx, sibling.ID, rec.emit))

	sawQuestion := false
	for _, m := range second.gotMessages {
		assert.NotContains(t, m.Content, "first answer")
		assert.NotContains(t, m.Content, "second answer")
		if m.Content == "the question" {
			sawQuestion = true
		}
	}
	assert.True(t, sawQuestion)

	variations, err := ts.ListVariations(ctx, anchor.ID)
	require.NoError(t, err)
	assert.Len(t, variations, 3)
}
