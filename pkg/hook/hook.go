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

// Package hook implements the lifecycle event pipeline: an ordered list of
// observers that receive events at fixed points in a call and may mutate
// inputs, redirect control, or request the loop stop.
//
// Each event is a tagged variant threaded sequentially through the sorted
// hook list: event₀ → hook₁ → event₁ → hook₂ → … → eventₙ. Hooks return a
// (possibly new) event rather than mutating shared state in place, so the
// pipeline never needs a lock around the event itself.
package hook

import (
	"context"
	"sort"
	"time"

	"github.com/kadirpekel-labs/reagent/pkg/message"
	"github.com/kadirpekel-labs/reagent/pkg/model"
	"github.com/kadirpekel-labs/reagent/pkg/tool"
)

// Kind discriminates the lifecycle point an Event was fired from.
type Kind string

const (
	KindPreCall        Kind = "pre_call"
	KindPostCall       Kind = "post_call"
	KindError          Kind = "error"
	KindPreReasoning   Kind = "pre_reasoning"
	KindPostReasoning  Kind = "post_reasoning"
	KindReasoningChunk Kind = "reasoning_chunk"
	KindPreActing      Kind = "pre_acting"
	KindPostActing     Kind = "post_acting"
	KindActingChunk    Kind = "acting_chunk"
	KindPreSummary     Kind = "pre_summary"
	KindSummaryChunk   Kind = "summary_chunk"
	KindPostSummary    Kind = "post_summary"
)

// Event is implemented by every lifecycle event variant.
type Event interface {
	Kind() Kind
	Agent() string
	Timestamp() time.Time
}

// base is embedded by every concrete event to satisfy the common fields.
type base struct {
	kind    Kind
	agent   string
	emitted time.Time
}

func newBase(kind Kind, agent string) base {
	return base{kind: kind, agent: agent, emitted: time.Now()}
}

func (b base) Kind() Kind          { return b.kind }
func (b base) Agent() string       { return b.agent }
func (b base) Timestamp() time.Time { return b.emitted }

// PreCallEvent fires before the ReAct loop processes the call's input.
// Hooks may substitute the input message list.
type PreCallEvent struct {
	base
	Input []*message.Message
}

func NewPreCallEvent(agent string, input []*message.Message) *PreCallEvent {
	return &PreCallEvent{base: newBase(KindPreCall, agent), Input: input}
}

// SetInput replaces the input messages for this call.
func (e *PreCallEvent) SetInput(msgs []*message.Message) { e.Input = msgs }

// PostCallEvent fires with the call's final message, letting hooks replace it.
type PostCallEvent struct {
	base
	Final *message.Message
}

func NewPostCallEvent(agent string, final *message.Message) *PostCallEvent {
	return &PostCallEvent{base: newBase(KindPostCall, agent), Final: final}
}

func (e *PostCallEvent) SetFinal(msg *message.Message) { e.Final = msg }

// ErrorEvent fires on any error surfaced at the model or pipeline level.
// It carries no mutable fields.
type ErrorEvent struct {
	base
	Err error
}

func NewErrorEvent(agent string, err error) *ErrorEvent {
	return &ErrorEvent{base: newBase(KindError, agent), Err: err}
}

// PreReasoningEvent fires before a reasoning (model) call. Hooks may
// substitute the input messages and override generation options.
type PreReasoningEvent struct {
	base
	Input    []*message.Message
	Options  *model.GenerateOptions
	Iteration int
}

func NewPreReasoningEvent(agent string, input []*message.Message, opts *model.GenerateOptions, iteration int) *PreReasoningEvent {
	return &PreReasoningEvent{base: newBase(KindPreReasoning, agent), Input: input, Options: opts, Iteration: iteration}
}

func (e *PreReasoningEvent) SetInput(msgs []*message.Message)       { e.Input = msgs }
func (e *PreReasoningEvent) SetOptions(opts *model.GenerateOptions) { e.Options = opts }

// PostReasoningEvent fires after a reasoning message is constructed. Hooks
// may replace the reasoning message, request a stop, or redirect to
// another reasoning iteration via GotoReasoning.
type PostReasoningEvent struct {
	base
	Reasoning  *message.Message
	stop       bool
	gotoReason *message.Message
}

func NewPostReasoningEvent(agent string, reasoning *message.Message) *PostReasoningEvent {
	return &PostReasoningEvent{base: newBase(KindPostReasoning, agent), Reasoning: reasoning}
}

func (e *PostReasoningEvent) SetReasoning(msg *message.Message) { e.Reasoning = msg }

// StopAgent requests the loop terminate after this event's pipeline completes.
func (e *PostReasoningEvent) StopAgent() { e.stop = true }

// Stopped reports whether a hook called StopAgent.
func (e *PostReasoningEvent) Stopped() bool { return e.stop }

// GotoReasoning appends msg to memory and re-enters reasoning without acting.
func (e *PostReasoningEvent) GotoReasoning(msg *message.Message) { e.gotoReason = msg }

// GotoReasoningMessage returns the message supplied via GotoReasoning, if any.
func (e *PostReasoningEvent) GotoReasoningMessage() *message.Message { return e.gotoReason }

// ReasoningChunkEvent fires per streamed model chunk. Read-only: carries
// both the incremental delta (new blocks only) and the accumulated message.
type ReasoningChunkEvent struct {
	base
	Delta      *message.Message
	Accumulated *message.Message
}

func NewReasoningChunkEvent(agent string, delta, accumulated *message.Message) *ReasoningChunkEvent {
	return &ReasoningChunkEvent{base: newBase(KindReasoningChunk, agent), Delta: delta, Accumulated: accumulated}
}

// PreActingEvent fires before a tool-use block is invoked. Hooks may
// rewrite the tool-use block (e.g. arguments, name).
type PreActingEvent struct {
	base
	ToolUse message.ToolUse
}

func NewPreActingEvent(agent string, tu message.ToolUse) *PreActingEvent {
	return &PreActingEvent{base: newBase(KindPreActing, agent), ToolUse: tu}
}

func (e *PreActingEvent) SetToolUse(tu message.ToolUse) { e.ToolUse = tu }

// PostActingEvent fires after a tool-result message is appended to memory.
type PostActingEvent struct {
	base
	Result *message.Message
	stop   bool
}

func NewPostActingEvent(agent string, result *message.Message) *PostActingEvent {
	return &PostActingEvent{base: newBase(KindPostActing, agent), Result: result}
}

func (e *PostActingEvent) SetResult(msg *message.Message) { e.Result = msg }
func (e *PostActingEvent) StopAgent()                     { e.stop = true }
func (e *PostActingEvent) Stopped() bool                  { return e.stop }

// ActingChunkEvent fires per partial streaming-tool result. Read-only.
type ActingChunkEvent struct {
	base
	CallID string
	Chunk  *tool.Chunk
}

func NewActingChunkEvent(agent, callID string, chunk *tool.Chunk) *ActingChunkEvent {
	return &ActingChunkEvent{base: newBase(KindActingChunk, agent), CallID: callID, Chunk: chunk}
}

// PreSummaryEvent fires before the closing summary call. Iteration counters
// are read-only; input messages and options may be overridden.
type PreSummaryEvent struct {
	base
	Input        []*message.Message
	Options      *model.GenerateOptions
	Iteration    int
	MaxIterations int
}

func NewPreSummaryEvent(agent string, input []*message.Message, opts *model.GenerateOptions, iteration, max int) *PreSummaryEvent {
	return &PreSummaryEvent{base: newBase(KindPreSummary, agent), Input: input, Options: opts, Iteration: iteration, MaxIterations: max}
}

func (e *PreSummaryEvent) SetInput(msgs []*message.Message)       { e.Input = msgs }
func (e *PreSummaryEvent) SetOptions(opts *model.GenerateOptions) { e.Options = opts }

// SummaryChunkEvent fires per streamed summary chunk. Read-only.
type SummaryChunkEvent struct {
	base
	Delta      *message.Message
	Accumulated *message.Message
}

func NewSummaryChunkEvent(agent string, delta, accumulated *message.Message) *SummaryChunkEvent {
	return &SummaryChunkEvent{base: newBase(KindSummaryChunk, agent), Delta: delta, Accumulated: accumulated}
}

// PostSummaryEvent fires after the summary message is constructed.
type PostSummaryEvent struct {
	base
	Summary *message.Message
	stop    bool
}

func NewPostSummaryEvent(agent string, summary *message.Message) *PostSummaryEvent {
	return &PostSummaryEvent{base: newBase(KindPostSummary, agent), Summary: summary}
}

func (e *PostSummaryEvent) SetSummary(msg *message.Message) { e.Summary = msg }
func (e *PostSummaryEvent) StopAgent()                      { e.stop = true }
func (e *PostSummaryEvent) Stopped() bool                   { return e.stop }

// Hook observes events at one or more lifecycle points. Priority sorts
// ascending (lower runs earlier); hooks of equal priority preserve
// registration order.
type Hook struct {
	Priority int
	OnEvent  func(ctx context.Context, ev Event) (Event, error)
}

// Registry is an explicit, non-global collection of hooks an agent is
// constructed with, plus the transient hooks added for the lifetime of one
// streaming or structured-output call. It is not safe for concurrent
// mutation from more than one call task at a time (§5): only streaming and
// structured-output controllers add/remove transient hooks, and they do so
// from the same task that owns the call.
type Registry struct {
	hooks     []Hook
	transient []Hook
}

// NewRegistry returns a Registry seeded with hooks, in the order given.
func NewRegistry(hooks ...Hook) *Registry {
	return &Registry{hooks: append([]Hook(nil), hooks...)}
}

// Add registers a permanent hook.
func (r *Registry) Add(h Hook) { r.hooks = append(r.hooks, h) }

// AddTransient registers a hook for the lifetime of one call. Callers must
// pair this with ClearTransient on every exit path.
func (r *Registry) AddTransient(h Hook) { r.transient = append(r.transient, h) }

// ClearTransient removes every transient hook at once. Go func values have
// no reliable identity, so single transient hooks cannot be removed; callers
// clear all transients at call boundaries instead.
func (r *Registry) ClearTransient() { r.transient = nil }

// sorted returns the combined permanent+transient hook list, stably sorted
// by ascending priority with registration order preserved within a priority.
func (r *Registry) sorted() []Hook {
	all := make([]Hook, 0, len(r.hooks)+len(r.transient))
	all = append(all, r.hooks...)
	all = append(all, r.transient...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Priority < all[j].Priority })
	return all
}

// Fire threads ev sequentially through every registered hook in priority
// order, returning the final (possibly mutated) event value.
func (r *Registry) Fire(ctx context.Context, ev Event) (Event, error) {
	cur := ev
	for _, h := range r.sorted() {
		next, err := h.OnEvent(ctx, cur)
		if err != nil {
			return cur, err
		}
		if next != nil {
			cur = next
		}
	}
	return cur, nil
}
