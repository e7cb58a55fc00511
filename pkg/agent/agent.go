// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package agent implements the agent base: identity, the running-call
// guard, cooperative interruption, the per-bus subscriber map, and the
// three public entrypoints (Call, CallStructured, Stream) that delegate
// the actual reasoning to a pluggable Runner.
package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel-labs/reagent/pkg/hook"
	"github.com/kadirpekel-labs/reagent/pkg/memory"
	"github.com/kadirpekel-labs/reagent/pkg/message"
	"github.com/kadirpekel-labs/reagent/pkg/model"
	"github.com/kadirpekel-labs/reagent/pkg/rlog"
	"github.com/kadirpekel-labs/reagent/pkg/stream"
	"github.com/kadirpekel-labs/reagent/pkg/structured"
	"github.com/kadirpekel-labs/reagent/pkg/tool"
)

var log = rlog.Named("agent")

// Sentinel errors surfaced from a call's async chain.
var (
	ErrAlreadyRunning   = errors.New("agent: a call is already running")
	ErrInterrupted      = errors.New("agent: interrupted")
	ErrPendingToolCalls = errors.New("agent: pending tool-use blocks must be resolved before new input")
	ErrNullFinalMessage = errors.New("agent: a hook returned no message where one was expected")
)

// InterruptInfo is passed to HandleInterruptFunc describing the interrupt.
type InterruptInfo struct {
	Source  string
	Message *message.Message
}

// HandleInterruptFunc converts a caught interruption into a recovery message.
type HandleInterruptFunc func(ctx context.Context, info InterruptInfo, originalInput []*message.Message) (*message.Message, error)

// DefaultHandleInterrupt returns a plain acknowledgement message.
func DefaultHandleInterrupt(name string) HandleInterruptFunc {
	return func(_ context.Context, info InterruptInfo, _ []*message.Message) (*message.Message, error) {
		text := "Operation interrupted."
		if info.Message != nil {
			text = info.Message.TextContent()
		}
		return message.NewAssistantMessage(name, message.Text{Text: text}), nil
	}
}

// Runner performs the actual reasoning for a call. The ReAct loop
// (pkg/react.Loop) is the core implementation; it is injected rather than
// built into Agent so pkg/agent stays independent of pkg/react.
type Runner interface {
	DoCall(ctx context.Context, a *Agent, input []*message.Message) (*message.Message, error)
}

// Config configures a new Agent.
type Config struct {
	Name        string
	Description string

	Memory memory.Memory
	Tools  *tool.Toolkit
	Model  model.Model
	Hooks  *hook.Registry
	Runner Runner

	// CheckRunning enables the single-run guard: a second concurrent Call
	// fails with ErrAlreadyRunning instead of racing.
	CheckRunning bool

	HandleInterrupt HandleInterruptFunc

	// Observe is invoked for every message this agent receives via the
	// multi-agent bus (as a broadcast subscriber) or a direct Observe call.
	// Defaults to a no-op.
	Observe func(ctx context.Context, msg *message.Message) error
}

// Agent is a single ReAct-capable conversational unit: identity, memory,
// toolkit, hook registry, and the running/interrupt/subscriber state of
// C5/C9/C10. One Agent instance must not be called concurrently from more
// than one goroutine at a time unless CheckRunning is enabled to reject
// the second call outright (§5: memory and the hook list are touched from
// one logical task at a time).
type Agent struct {
	name        string
	description string

	mem    memory.Memory
	tools  *tool.Toolkit
	mdl    model.Model
	hooks  *hook.Registry
	runner Runner

	checkRunning bool
	running      atomic.Bool

	interrupted  atomic.Bool
	interruptMsg atomic.Pointer[message.Message]

	handleInterrupt HandleInterruptFunc
	observeFn       func(context.Context, *message.Message) error

	subMu          sync.RWMutex
	hubSubscribers map[string][]*Agent
}

// New constructs an Agent, applying defaults for Memory/Tools/Hooks when
// not supplied. Model and Runner are required: they have no sensible
// in-module default.
func New(cfg Config) (*Agent, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("agent: name is required")
	}
	if cfg.Name == "user" {
		return nil, fmt.Errorf("agent: name cannot be 'user' (reserved)")
	}
	if cfg.Model == nil {
		return nil, fmt.Errorf("agent: Model is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("agent: Runner is required")
	}

	a := &Agent{
		name:            cfg.Name,
		description:     cfg.Description,
		mem:             cfg.Memory,
		tools:           cfg.Tools,
		mdl:             cfg.Model,
		hooks:           cfg.Hooks,
		runner:          cfg.Runner,
		checkRunning:    cfg.CheckRunning,
		handleInterrupt: cfg.HandleInterrupt,
		observeFn:       cfg.Observe,
	}
	if a.mem == nil {
		a.mem = memory.New()
	}
	if a.tools == nil {
		a.tools = tool.New()
	}
	if a.hooks == nil {
		a.hooks = hook.NewRegistry()
	}
	if a.handleInterrupt == nil {
		a.handleInterrupt = DefaultHandleInterrupt(a.name)
	}
	return a, nil
}

func (a *Agent) Name() string        { return a.name }
func (a *Agent) Description() string { return a.description }
func (a *Agent) Memory() memory.Memory  { return a.mem }
func (a *Agent) Toolkit() *tool.Toolkit { return a.tools }
func (a *Agent) Model() model.Model     { return a.mdl }
func (a *Agent) Hooks() *hook.Registry  { return a.hooks }

// CheckInterrupt reports the interrupted sentinel if Interrupt was called,
// or ctx's own cancellation error if the context was cancelled — both are
// checked at every checkpoint the ReAct loop defines (§4.10).
func (a *Agent) CheckInterrupt(ctx context.Context) error {
	if a.interrupted.Load() {
		return ErrInterrupted
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// Interrupt sets the cooperative interrupt flag with no stashed message.
func (a *Agent) Interrupt() { a.interrupted.Store(true) }

// InterruptWithMessage sets the interrupt flag and stashes msg for the
// subclass-provided recovery handler to consult.
func (a *Agent) InterruptWithMessage(msg *message.Message) {
	a.interruptMsg.Store(msg)
	a.interrupted.Store(true)
}

// Call runs one ReAct cycle to completion and returns the final message.
func (a *Agent) Call(ctx context.Context, input []*message.Message) (*message.Message, error) {
	return a.run(ctx, input, nil, "")
}

// CallStructured runs one ReAct cycle enforcing schema via the
// structured-output controller (§4.8).
func (a *Agent) CallStructured(ctx context.Context, input []*message.Message, schema structured.Schema, mode structured.Mode) (*message.Message, error) {
	return a.run(ctx, input, &schema, mode)
}

// Stream runs one ReAct cycle, projecting internal hook events into an
// external StreamEvent sequence per opts (§4.7).
func (a *Agent) Stream(ctx context.Context, input []*message.Message, opts stream.Options) iter.Seq2[*stream.Event, error] {
	return a.stream(ctx, input, opts, nil, "")
}

// StreamStructured is Stream combined with structured-output enforcement.
func (a *Agent) StreamStructured(ctx context.Context, input []*message.Message, opts stream.Options, schema structured.Schema, mode structured.Mode) iter.Seq2[*stream.Event, error] {
	return a.stream(ctx, input, opts, &schema, mode)
}

func (a *Agent) stream(ctx context.Context, input []*message.Message, opts stream.Options, schema *structured.Schema, mode structured.Mode) iter.Seq2[*stream.Event, error] {
	return func(yield func(*stream.Event, error) bool) {
		streamCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		proj := stream.NewProjector(opts, func(ev *stream.Event) bool {
			ok := yield(ev, nil)
			if !ok {
				cancel()
			}
			return ok
		})

		final, err := a.run(streamCtx, input, schema, mode, proj.Hook())
		if err != nil {
			yield(nil, err)
			return
		}
		if opts.EventTypes[stream.TypeAgentResult] {
			yield(&stream.Event{Type: stream.TypeAgentResult, Message: final, IsLast: true}, nil)
		}
	}
}

// run is the shared entry protocol of §4.5: acquire the running guard,
// reset interrupt state, fire PreCall, delegate to the Runner, fire
// PostCall, broadcast, and release the guard on every exit path.
func (a *Agent) run(ctx context.Context, input []*message.Message, schema *structured.Schema, mode structured.Mode, extraHooks ...hook.Hook) (*message.Message, error) {
	if a.checkRunning {
		if !a.running.CompareAndSwap(false, true) {
			return nil, ErrAlreadyRunning
		}
		defer a.running.Store(false)
	}
	a.interrupted.Store(false)
	a.interruptMsg.Store(nil)

	var ctrl *structured.Controller
	if schema != nil {
		c, err := structured.New(a.name, *schema, mode, a.mem, a.tools)
		if err != nil {
			return nil, err
		}
		ctrl = c
		a.hooks.AddTransient(ctrl.Register())
	}
	for _, h := range extraHooks {
		a.hooks.AddTransient(h)
	}
	defer func() {
		if ctrl != nil {
			ctrl.Unregister()
		}
		a.hooks.ClearTransient()
	}()

	preEv := hook.NewPreCallEvent(a.name, input)
	fired, err := a.hooks.Fire(ctx, preEv)
	if err != nil {
		a.fireError(ctx, err)
		return nil, err
	}
	finalInput := fired.(*hook.PreCallEvent).Input

	final, callErr := a.runner.DoCall(ctx, a, finalInput)
	if callErr != nil {
		if errors.Is(callErr, ErrInterrupted) {
			info := InterruptInfo{Source: "USER", Message: a.interruptMsg.Load()}
			recovered, herr := a.handleInterrupt(ctx, info, finalInput)
			if herr != nil {
				return nil, herr
			}
			final = recovered
		} else {
			a.fireError(ctx, callErr)
			return nil, callErr
		}
	}
	if final == nil {
		return nil, ErrNullFinalMessage
	}

	postEv := hook.NewPostCallEvent(a.name, final)
	fired2, err := a.hooks.Fire(ctx, postEv)
	if err != nil {
		a.fireError(ctx, err)
		return nil, err
	}
	final = fired2.(*hook.PostCallEvent).Final
	if final == nil {
		return nil, ErrNullFinalMessage
	}

	a.broadcast(ctx, final)
	return final, nil
}

func (a *Agent) fireError(ctx context.Context, err error) {
	if _, fireErr := a.hooks.Fire(ctx, hook.NewErrorEvent(a.name, err)); fireErr != nil {
		log.Warn().Err(fireErr).Str("agent", a.name).Msg("error hook itself failed")
	}
}

// ResetSubscribers replaces hub's subscriber list.
func (a *Agent) ResetSubscribers(hub string, agents []*Agent) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	if a.hubSubscribers == nil {
		a.hubSubscribers = make(map[string][]*Agent)
	}
	a.hubSubscribers[hub] = append([]*Agent(nil), agents...)
}

// RemoveSubscribers drops hub's subscriber list entirely.
func (a *Agent) RemoveSubscribers(hub string) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	delete(a.hubSubscribers, hub)
}

// SubscriberCount returns the total number of subscribers across every hub.
func (a *Agent) SubscriberCount() int {
	a.subMu.RLock()
	defer a.subMu.RUnlock()
	n := 0
	for _, list := range a.hubSubscribers {
		n += len(list)
	}
	return n
}

// Observe dispatches msg to this agent's configured observer, a no-op by
// default. It is what subscribers receive on broadcast.
func (a *Agent) Observe(ctx context.Context, msg *message.Message) error {
	if a.observeFn == nil {
		return nil
	}
	return a.observeFn(ctx, msg)
}

// broadcast fans the final message of a call out to every subscriber
// across every hub. One subscriber's slow or failing Observe never blocks
// or fails the others, nor the originating call — failures surface only
// as an Error hook event on the failing subscriber itself (§4.9, §9).
func (a *Agent) broadcast(ctx context.Context, msg *message.Message) {
	a.subMu.RLock()
	var subs []*Agent
	for _, list := range a.hubSubscribers {
		subs = append(subs, list...)
	}
	a.subMu.RUnlock()
	if len(subs) == 0 {
		return
	}

	var g errgroup.Group
	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			if err := sub.Observe(ctx, msg); err != nil {
				sub.fireError(ctx, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
