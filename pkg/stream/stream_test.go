package stream_test

import (
	"context"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel-labs/reagent/pkg/agent"
	"github.com/kadirpekel-labs/reagent/pkg/message"
	"github.com/kadirpekel-labs/reagent/pkg/model/fake"
	"github.com/kadirpekel-labs/reagent/pkg/react"
	"github.com/kadirpekel-labs/reagent/pkg/stream"
	"github.com/kadirpekel-labs/reagent/pkg/tool"
)

type chunkyTool struct{ chunks []string }

func (t *chunkyTool) Name() string        { return "chunky" }
func (t *chunkyTool) Description() string { return "streams partial output" }
func (t *chunkyTool) Schema() map[string]any {
	return map[string]any{"type": "object"}
}
func (t *chunkyTool) Invoke(_ context.Context, _ tool.ToolCall) (*tool.Result, error) {
	return &tool.Result{Content: "final"}, nil
}
func (t *chunkyTool) InvokeStreaming(_ context.Context, _ tool.ToolCall) iter.Seq2[*tool.Chunk, error] {
	return func(yield func(*tool.Chunk, error) bool) {
		for _, c := range t.chunks {
			if !yield(&tool.Chunk{Content: c}, nil) {
				return
			}
		}
	}
}

func TestDirectAnswerEmitsOneTerminalReasoningEvent(t *testing.T) {
	m := fake.New("m", fake.Turn{Final: message.NewAssistantMessage("tester", message.Text{Text: "4"})})
	a, err := agent.New(agent.Config{Name: "tester", Model: m, Runner: react.New(3)})
	require.NoError(t, err)

	var events []*stream.Event
	for ev, err := range a.Stream(context.Background(), []*message.Message{message.NewUserMessage("u", "What is 2+2?")}, stream.DefaultOptions()) {
		require.NoError(t, err)
		events = append(events, ev)
	}

	require.Len(t, events, 1)
	assert.Equal(t, stream.TypeReasoning, events[0].Type)
	assert.True(t, events[0].IsLast)
	assert.Equal(t, "4", events[0].Message.TextContent())
}

func TestAgentResultExcludedFromDefaultAllEquivalent(t *testing.T) {
	m := fake.New("m", fake.Turn{Final: message.NewAssistantMessage("tester", message.Text{Text: "hi"})})
	a, err := agent.New(agent.Config{Name: "tester", Model: m, Runner: react.New(3)})
	require.NoError(t, err)

	for ev, err := range a.Stream(context.Background(), nil, stream.DefaultOptions()) {
		require.NoError(t, err)
		assert.NotEqual(t, stream.TypeAgentResult, ev.Type, "AGENT_RESULT must not appear unless explicitly requested")
	}
}

func TestAgentResultIncludedWhenExplicitlyRequested(t *testing.T) {
	m := fake.New("m", fake.Turn{Final: message.NewAssistantMessage("tester", message.Text{Text: "hi"})})
	a, err := agent.New(agent.Config{Name: "tester", Model: m, Runner: react.New(3)})
	require.NoError(t, err)

	opts := stream.DefaultOptions().WithType(stream.TypeAgentResult)
	var saw bool
	for ev, err := range a.Stream(context.Background(), nil, opts) {
		require.NoError(t, err)
		if ev.Type == stream.TypeAgentResult {
			saw = true
			assert.True(t, ev.IsLast)
		}
	}
	assert.True(t, saw)
}

// A StreamingTool's partial results project as non-terminal TOOL_RESULT
// events, ahead of the terminal TOOL_RESULT built from the final chunk.
func TestStreamingToolActingChunksProjectAsToolResultEvents(t *testing.T) {
	toolUse := message.ToolUse{CallID: "t1", Name: "chunky", Input: map[string]any{}}
	turn1 := message.NewAssistantMessage("tester", toolUse)
	turn2 := message.NewAssistantMessage("tester", message.Text{Text: "done"})
	m := fake.New("m", fake.Turn{Final: turn1}, fake.Turn{Final: turn2})

	tk := tool.New()
	tk.Register(&chunkyTool{chunks: []string{"a", "b"}})
	a, err := agent.New(agent.Config{Name: "tester", Model: m, Runner: react.New(3), Tools: tk})
	require.NoError(t, err)

	var toolResultEvents []*stream.Event
	for ev, err := range a.Stream(context.Background(), []*message.Message{message.NewUserMessage("u", "go")}, stream.DefaultOptions()) {
		require.NoError(t, err)
		if ev.Type == stream.TypeToolResult {
			toolResultEvents = append(toolResultEvents, ev)
		}
	}

	require.Len(t, toolResultEvents, 3, "2 chunks + 1 terminal result")
	assert.False(t, toolResultEvents[0].IsLast)
	assert.False(t, toolResultEvents[1].IsLast)
	assert.True(t, toolResultEvents[2].IsLast)
}

func TestIsLastIsTerminalPerMessageID(t *testing.T) {
	chunk1 := message.NewAssistantMessage("tester", message.Text{Text: "The "})
	chunk2 := message.NewAssistantMessage("tester", message.Text{Text: "answer"})
	m := fake.New("m", fake.Turn{Chunks: []*message.Message{chunk1, chunk2}})

	a, err := agent.New(agent.Config{Name: "tester", Model: m, Runner: react.New(3)})
	require.NoError(t, err)

	var seenLast bool
	for ev, err := range a.Stream(context.Background(), []*message.Message{message.NewUserMessage("u", "go")}, stream.DefaultOptions()) {
		require.NoError(t, err)
		if seenLast {
			t.Fatalf("event delivered after isLast=true: %+v", ev)
		}
		if ev.IsLast {
			seenLast = true
		}
	}
	assert.True(t, seenLast)
}
