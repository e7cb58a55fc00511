package hook_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel-labs/reagent/pkg/hook"
	"github.com/kadirpekel-labs/reagent/pkg/message"
)

func TestFireThreadsEventSequentially(t *testing.T) {
	r := hook.NewRegistry()
	var order []string

	r.Add(hook.Hook{Priority: 10, OnEvent: func(_ context.Context, ev hook.Event) (hook.Event, error) {
		order = append(order, "second")
		return ev, nil
	}})
	r.Add(hook.Hook{Priority: 0, OnEvent: func(_ context.Context, ev hook.Event) (hook.Event, error) {
		order = append(order, "first")
		return ev, nil
	}})

	ev := hook.NewPreCallEvent("agent", nil)
	_, err := r.Fire(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestSamePriorityPreservesRegistrationOrder(t *testing.T) {
	r := hook.NewRegistry()
	var order []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		r.Add(hook.Hook{Priority: 5, OnEvent: func(_ context.Context, ev hook.Event) (hook.Event, error) {
			order = append(order, name)
			return ev, nil
		}})
	}

	_, err := r.Fire(context.Background(), hook.NewPreCallEvent("agent", nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestPreCallEventMutatesInput(t *testing.T) {
	r := hook.NewRegistry(hook.Hook{Priority: 0, OnEvent: func(_ context.Context, ev hook.Event) (hook.Event, error) {
		pc := ev.(*hook.PreCallEvent)
		pc.SetInput([]*message.Message{message.NewUserMessage("u", "replaced")})
		return pc, nil
	}})

	out, err := r.Fire(context.Background(), hook.NewPreCallEvent("agent", []*message.Message{message.NewUserMessage("u", "original")}))
	require.NoError(t, err)
	pc := out.(*hook.PreCallEvent)
	require.Len(t, pc.Input, 1)
	assert.Equal(t, "replaced", pc.Input[0].TextContent())
}

func TestPostReasoningStopAgent(t *testing.T) {
	r := hook.NewRegistry(hook.Hook{Priority: 0, OnEvent: func(_ context.Context, ev hook.Event) (hook.Event, error) {
		pr := ev.(*hook.PostReasoningEvent)
		pr.StopAgent()
		return pr, nil
	}})

	out, err := r.Fire(context.Background(), hook.NewPostReasoningEvent("agent", message.NewAssistantMessage("agent")))
	require.NoError(t, err)
	assert.True(t, out.(*hook.PostReasoningEvent).Stopped())
}

func TestPostReasoningGotoReasoning(t *testing.T) {
	reminder := message.NewUserMessage("agent", "please call the tool")
	r := hook.NewRegistry(hook.Hook{Priority: 0, OnEvent: func(_ context.Context, ev hook.Event) (hook.Event, error) {
		pr := ev.(*hook.PostReasoningEvent)
		pr.GotoReasoning(reminder)
		return pr, nil
	}})

	out, err := r.Fire(context.Background(), hook.NewPostReasoningEvent("agent", message.NewAssistantMessage("agent")))
	require.NoError(t, err)
	got := out.(*hook.PostReasoningEvent).GotoReasoningMessage()
	require.NotNil(t, got)
	assert.Equal(t, reminder.ID, got.ID)
}

func TestFirePropagatesHookError(t *testing.T) {
	boom := assert.AnError
	r := hook.NewRegistry(hook.Hook{Priority: 0, OnEvent: func(context.Context, hook.Event) (hook.Event, error) {
		return nil, boom
	}})

	_, err := r.Fire(context.Background(), hook.NewPreCallEvent("agent", nil))
	assert.ErrorIs(t, err, boom)
}

func TestTransientHooksClearBetweenCalls(t *testing.T) {
	r := hook.NewRegistry()
	calls := 0
	r.AddTransient(hook.Hook{Priority: 0, OnEvent: func(_ context.Context, ev hook.Event) (hook.Event, error) {
		calls++
		return ev, nil
	}})

	_, _ = r.Fire(context.Background(), hook.NewPreCallEvent("agent", nil))
	assert.Equal(t, 1, calls)

	r.ClearTransient()
	_, _ = r.Fire(context.Background(), hook.NewPreCallEvent("agent", nil))
	assert.Equal(t, 1, calls, "transient hook must not fire after being cleared")
}
