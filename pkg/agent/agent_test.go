package agent_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel-labs/reagent/pkg/agent"
	"github.com/kadirpekel-labs/reagent/pkg/message"
	"github.com/kadirpekel-labs/reagent/pkg/model/fake"
)

type echoRunner struct {
	startOnce sync.Once
	started   chan struct{}
	release   chan struct{}
}

func (r *echoRunner) DoCall(_ context.Context, a *agent.Agent, input []*message.Message) (*message.Message, error) {
	if r.started != nil {
		r.startOnce.Do(func() { close(r.started) })
	}
	if r.release != nil {
		<-r.release
	}
	return message.NewAssistantMessage(a.Name(), message.Text{Text: "ok"}), nil
}

func newAgent(t *testing.T, runner agent.Runner, checkRunning bool) *agent.Agent {
	t.Helper()
	a, err := agent.New(agent.Config{
		Name:         "tester",
		Model:        fake.New("m"),
		Runner:       runner,
		CheckRunning: checkRunning,
	})
	require.NoError(t, err)
	return a
}

func TestAgentAlreadyRunning(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	a := newAgent(t, &echoRunner{started: started, release: release}, true)

	done := make(chan struct{})
	go func() {
		_, _ = a.Call(context.Background(), nil)
		close(done)
	}()

	<-started // the first call has acquired the running guard
	_, err := a.Call(context.Background(), nil)
	assert.ErrorIs(t, err, agent.ErrAlreadyRunning)

	close(release)
	<-done

	// The guard must be released on every exit path: a follow-up call succeeds.
	_, err = a.Call(context.Background(), nil)
	require.NoError(t, err)
}

func TestResetSubscribersReplacesHubList(t *testing.T) {
	var mu sync.Mutex
	var observed []string

	sub1, err := agent.New(agent.Config{
		Name:  "sub1",
		Model: fake.New("m"),
		Runner: &echoRunner{},
		Observe: func(_ context.Context, msg *message.Message) error {
			mu.Lock()
			observed = append(observed, "sub1:"+msg.TextContent())
			mu.Unlock()
			return nil
		},
	})
	require.NoError(t, err)

	sub2, err := agent.New(agent.Config{
		Name:  "sub2",
		Model: fake.New("m"),
		Runner: &echoRunner{},
		Observe: func(_ context.Context, msg *message.Message) error {
			mu.Lock()
			observed = append(observed, "sub2:"+msg.TextContent())
			mu.Unlock()
			return nil
		},
	})
	require.NoError(t, err)

	broadcaster := newAgent(t, &echoRunner{}, false)
	broadcaster.ResetSubscribers("hub", []*agent.Agent{sub1})
	assert.Equal(t, 1, broadcaster.SubscriberCount())

	_, err = broadcaster.Call(context.Background(), nil)
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, []string{"sub1:ok"}, observed)
	mu.Unlock()

	// ResetSubscribers(hub, L') replaces hub's list entirely; other hubs
	// are untouched.
	broadcaster.ResetSubscribers("other", []*agent.Agent{sub2})
	broadcaster.ResetSubscribers("hub", []*agent.Agent{sub2})
	assert.Equal(t, 2, broadcaster.SubscriberCount())

	broadcaster.RemoveSubscribers("other")
	assert.Equal(t, 1, broadcaster.SubscriberCount())
}

func TestSubscriberObserveFailureDoesNotFailBroadcaster(t *testing.T) {
	failing, err := agent.New(agent.Config{
		Name:   "failing",
		Model:  fake.New("m"),
		Runner: &echoRunner{},
		Observe: func(context.Context, *message.Message) error {
			return assert.AnError
		},
	})
	require.NoError(t, err)

	broadcaster := newAgent(t, &echoRunner{}, false)
	broadcaster.ResetSubscribers("hub", []*agent.Agent{failing})

	out, err := broadcaster.Call(context.Background(), nil)
	require.NoError(t, err, "a subscriber's Observe error must not fail the originating call")
	assert.Equal(t, "ok", out.TextContent())
}

func TestInterruptedCallIsConvertedToRecoveryMessage(t *testing.T) {
	a, err := agent.New(agent.Config{
		Name: "tester",
		Model: fake.New("m"),
		Runner: runnerFunc(func(context.Context, *agent.Agent, []*message.Message) (*message.Message, error) {
			return nil, agent.ErrInterrupted
		}),
	})
	require.NoError(t, err)

	out, err := a.Call(context.Background(), []*message.Message{message.NewUserMessage("u", "hi")})
	require.NoError(t, err)
	assert.Equal(t, "Operation interrupted.", out.TextContent())
}

type runnerFunc func(ctx context.Context, a *agent.Agent, input []*message.Message) (*message.Message, error)

func (f runnerFunc) DoCall(ctx context.Context, a *agent.Agent, input []*message.Message) (*message.Message, error) {
	return f(ctx, a, input)
}
