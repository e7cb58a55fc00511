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

// Package stream projects the internal hook event pipeline into an
// external, filtered, ordered sequence of StreamEvents. The projector
// itself is a transient hook.Hook added to an agent's registry for the
// lifetime of one streaming call and removed on any terminal signal.
package stream

import (
	"context"
	"fmt"

	"github.com/kadirpekel-labs/reagent/pkg/hook"
	"github.com/kadirpekel-labs/reagent/pkg/message"
	"github.com/kadirpekel-labs/reagent/pkg/tool"
)

// Type is the external event category a consumer filters on.
type Type string

const (
	TypeReasoning   Type = "REASONING"
	TypeToolResult  Type = "TOOL_RESULT"
	TypeSummary     Type = "SUMMARY"
	TypeAgentResult Type = "AGENT_RESULT"
)

// Event is one unit of the external stream.
type Event struct {
	Type    Type
	Message *message.Message
	IsLast  bool
}

// Options gates which internal events are projected externally. The zero
// value is not directly usable; call DefaultOptions to get the spec's
// default: every type except AGENT_RESULT, incremental chunks, and every
// chunk/result sub-flag on.
type Options struct {
	EventTypes             map[Type]bool
	Incremental            bool
	IncludeReasoningChunk  bool
	IncludeReasoningResult bool
	IncludeActingChunk     bool
	IncludeSummaryChunk    bool
	IncludeSummaryResult   bool
}

// DefaultOptions returns the spec's ALL-equivalent default: every type
// except AGENT_RESULT, with every chunk/result flag enabled.
func DefaultOptions() Options {
	return Options{
		EventTypes: map[Type]bool{
			TypeReasoning:  true,
			TypeToolResult: true,
			TypeSummary:    true,
		},
		Incremental:            true,
		IncludeReasoningChunk:  true,
		IncludeReasoningResult: true,
		IncludeActingChunk:     true,
		IncludeSummaryChunk:    true,
		IncludeSummaryResult:   true,
	}
}

// WithType returns a copy of o with t added to the requested event types
// (e.g. to additionally request AGENT_RESULT, which ALL excludes).
func (o Options) WithType(t Type) Options {
	cp := o
	cp.EventTypes = make(map[Type]bool, len(o.EventTypes)+1)
	for k, v := range o.EventTypes {
		cp.EventTypes[k] = v
	}
	cp.EventTypes[t] = true
	return cp
}

func (o Options) wants(t Type) bool { return o.EventTypes[t] }

// Sink receives a projected Event and reports whether the consumer wants
// more (false means stop: the caller should cancel the underlying call).
type Sink func(*Event) bool

// Projector turns internal hook.Events into external Events per Options,
// writing them to sink synchronously and in the same goroutine the
// pipeline runs in — there is no buffering channel, matching the pull
// model of Go's iter.Seq2: the producer IS the consumer's call stack.
type Projector struct {
	opts Options
	sink Sink
}

// NewProjector returns a Projector that writes accepted events to sink.
func NewProjector(opts Options, sink Sink) *Projector {
	return &Projector{opts: opts, sink: sink}
}

// Hook returns the transient hook.Hook to register on the agent for the
// duration of one streaming call. Priority 1000 places it after the
// structured-output controller (priority ~10) so it observes the final,
// possibly-controller-mutated event.
func (p *Projector) Hook() hook.Hook {
	return hook.Hook{Priority: 1000, OnEvent: p.onEvent}
}

func (p *Projector) emit(ev *Event) {
	if !p.sink(ev) {
		// Consumer stopped pulling; nothing further to do here. The
		// caller is responsible for cancelling the underlying context
		// so the loop unwinds at its next checkpoint.
	}
}

func (p *Projector) onEvent(_ context.Context, ev hook.Event) (hook.Event, error) {
	switch e := ev.(type) {
	case *hook.ReasoningChunkEvent:
		if p.opts.wants(TypeReasoning) && p.opts.IncludeReasoningChunk {
			msg := e.Accumulated
			if p.opts.Incremental {
				msg = e.Delta
			}
			p.emit(&Event{Type: TypeReasoning, Message: msg, IsLast: false})
		}
	case *hook.PostReasoningEvent:
		if p.opts.wants(TypeReasoning) && p.opts.IncludeReasoningResult {
			p.emit(&Event{Type: TypeReasoning, Message: e.Reasoning, IsLast: true})
		}
	case *hook.ActingChunkEvent:
		if p.opts.wants(TypeToolResult) && p.opts.IncludeActingChunk {
			p.emit(&Event{Type: TypeToolResult, Message: chunkMessage(e.CallID, e.Chunk), IsLast: false})
		}
	case *hook.PostActingEvent:
		if p.opts.wants(TypeToolResult) {
			p.emit(&Event{Type: TypeToolResult, Message: e.Result, IsLast: true})
		}
	case *hook.SummaryChunkEvent:
		if p.opts.wants(TypeSummary) && p.opts.IncludeSummaryChunk {
			msg := e.Accumulated
			if p.opts.Incremental {
				msg = e.Delta
			}
			p.emit(&Event{Type: TypeSummary, Message: msg, IsLast: false})
		}
	case *hook.PostSummaryEvent:
		if p.opts.wants(TypeSummary) && p.opts.IncludeSummaryResult {
			p.emit(&Event{Type: TypeSummary, Message: e.Summary, IsLast: true})
		}
	}
	return ev, nil
}

func chunkMessage(callID string, c *tool.Chunk) *message.Message {
	if c == nil {
		return message.NewToolMessage("", callID, "", false)
	}
	return message.NewToolMessage("", callID, "", c.Error != "", message.Text{Text: fmt.Sprint(c.Content)})
}
