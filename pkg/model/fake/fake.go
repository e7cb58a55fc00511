// Package fake provides a scripted model.Model test double, grounded on
// the teacher's MockLLMProvider pattern in pkg/llms/registry_test.go: a
// queue of canned responses returned in order, one per call.
package fake

import (
	"context"
	"fmt"
	"iter"

	"github.com/kadirpekel-labs/reagent/pkg/message"
	"github.com/kadirpekel-labs/reagent/pkg/model"
)

// Model is a scripted model.Model: each call to Stream pops the next
// queued Turn and yields its chunks followed by one final non-partial
// response (only that final response if Chunks is empty).
type Model struct {
	name  string
	turns []Turn
	calls int
}

// Turn is one scripted response to a single reasoning/summary call.
type Turn struct {
	// Chunks, if non-empty, are yielded as Partial ChatResponses in order
	// before a final non-partial accumulated response.
	Chunks []*message.Message
	// Final is the complete assistant message for this turn. If Chunks is
	// set but Final is nil, Final is the concatenation of all chunks.
	Final *message.Message
	Err    error
}

// New returns a Model named name that yields turns in order, one per call
// to Stream. Calling Stream more times than len(turns) returns an error.
func New(name string, turns ...Turn) *Model {
	return &Model{name: name, turns: turns}
}

func (m *Model) Name() string { return m.name }

func (m *Model) Stream(_ context.Context, _ *model.Request) iter.Seq2[*model.ChatResponse, error] {
	return func(yield func(*model.ChatResponse, error) bool) {
		if m.calls >= len(m.turns) {
			yield(nil, fmt.Errorf("fake: no more scripted turns (call %d)", m.calls+1))
			return
		}
		turn := m.turns[m.calls]
		m.calls++

		if turn.Err != nil {
			yield(nil, turn.Err)
			return
		}
		for _, chunk := range turn.Chunks {
			if !yield(&model.ChatResponse{Message: chunk, Partial: true}, nil) {
				return
			}
		}
		final := turn.Final
		if final == nil && len(turn.Chunks) > 0 {
			final = concatChunks(m.name, turn.Chunks)
		}
		if final == nil {
			final = message.NewAssistantMessage(m.name)
		}
		yield(&model.ChatResponse{Message: final, Partial: false}, nil)
	}
}

// Calls reports how many Stream invocations have consumed a scripted turn.
func (m *Model) Calls() int { return m.calls }

// concatChunks builds the full accumulated message a terminal, non-partial
// ChatResponse carries: every chunk's blocks in order, sharing the first
// chunk's id (the reasoning-phase accumulation invariant, §3: "a message's
// id is stable across any mutation").
func concatChunks(sender string, chunks []*message.Message) *message.Message {
	var blocks []message.ContentBlock
	for _, c := range chunks {
		blocks = append(blocks, c.Blocks...)
	}
	msg := message.NewAssistantMessage(sender, blocks...)
	msg.ID = chunks[0].ID
	return msg
}
