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

// Package react implements the ReAct control loop: the alternation of
// reasoning (model) and acting (tool) phases, bounded by a maximum
// iteration count, with a summary fallback when no terminal answer is
// reached. It is grounded on the teacher's Flow.Run/runOneStep two-loop
// shape, rebuilt around this module's own Hook pipeline instead of the
// teacher's before/after-callback lists.
package react

import (
	"context"
	"fmt"

	"github.com/kadirpekel-labs/reagent/pkg/agent"
	"github.com/kadirpekel-labs/reagent/pkg/hook"
	"github.com/kadirpekel-labs/reagent/pkg/message"
	"github.com/kadirpekel-labs/reagent/pkg/model"
	"github.com/kadirpekel-labs/reagent/pkg/rlog"
	"github.com/kadirpekel-labs/reagent/pkg/tool"
)

var log = rlog.Named("react")

// Loop is the agent.Runner implementation for the ReAct control loop.
type Loop struct {
	// MaxIterations bounds reasoning/acting cycles before falling to the
	// summary phase. Must be >= 1.
	MaxIterations int

	// SummaryInstruction is appended as a transient user message when the
	// loop falls through to the summary phase. Not persisted verbatim to
	// memory — only the resulting summary message is.
	SummaryInstruction string
}

// New returns a Loop configured with maxIterations, defaulting
// SummaryInstruction when empty.
func New(maxIterations int) *Loop {
	if maxIterations < 1 {
		maxIterations = 1
	}
	return &Loop{
		MaxIterations:      maxIterations,
		SummaryInstruction: "Provide your best final answer now based on the conversation so far.",
	}
}

// DoCall implements agent.Runner.
func (l *Loop) DoCall(ctx context.Context, a *agent.Agent, input []*message.Message) (*message.Message, error) {
	mem := a.Memory()
	pending := pendingToolUses(mem.GetMessages())

	resuming := false
	switch {
	case len(pending) == 0:
		for _, m := range input {
			mem.AddMessage(m)
		}
	case len(input) == 0:
		resuming = true
	case allToolResults(input):
		for _, m := range input {
			mem.AddMessage(m)
		}
		resuming = true
	default:
		return nil, agent.ErrPendingToolCalls
	}

	if resuming {
		pending = pendingToolUses(mem.GetMessages())
		if len(pending) > 0 {
			_, stop, err := l.actingPhase(ctx, a, pending)
			if err != nil {
				return nil, err
			}
			if stop != nil {
				return stop, nil
			}
		}
	}

	// afterActing is true when the previous iteration ran tools, so a
	// text-only reasoning turn that follows is the answer to their results.
	afterActing := false
	for i := 1; i <= l.MaxIterations; i++ {
		if err := a.CheckInterrupt(ctx); err != nil {
			return nil, err
		}

		reasoning, stopMsg, wentGoto, err := l.reasoningPhase(ctx, a, i)
		if err != nil {
			return nil, err
		}
		if stopMsg != nil {
			return stopMsg, nil
		}
		if wentGoto {
			afterActing = false
			continue
		}

		toolUses := reasoning.ToolUses()
		if len(toolUses) == 0 {
			if (i == 1 || afterActing) && reasoning.TextContent() != "" {
				return reasoning, nil
			}
			afterActing = false
			if i == l.MaxIterations {
				break
			}
			continue
		}

		_, stop, err := l.actingPhase(ctx, a, toolUses)
		if err != nil {
			return nil, err
		}
		if stop != nil {
			return stop, nil
		}
		afterActing = true
	}

	return l.summaryPhase(ctx, a)
}

// reasoningPhase runs one model turn, returning either the constructed
// reasoning message, a hook-requested final message (stopMsg), or a
// wentGoto flag when a hook redirected back to reasoning.
func (l *Loop) reasoningPhase(ctx context.Context, a *agent.Agent, iteration int) (reasoning *message.Message, stopMsg *message.Message, wentGoto bool, err error) {
	if err := a.CheckInterrupt(ctx); err != nil {
		return nil, nil, false, err
	}

	msgs := a.Memory().GetMessages()
	preEv := hook.NewPreReasoningEvent(a.Name(), msgs, nil, iteration)
	fired, err := a.Hooks().Fire(ctx, preEv)
	if err != nil {
		return nil, nil, false, err
	}
	pre := fired.(*hook.PreReasoningEvent)

	req := &model.Request{Messages: pre.Input, Tools: a.Toolkit().Definitions(), Options: pre.Options}

	var accumulated *message.Message
	for resp, serr := range a.Model().Stream(ctx, req) {
		if serr != nil {
			return nil, nil, false, fmt.Errorf("react: model call failed: %w", serr)
		}
		if err := a.CheckInterrupt(ctx); err != nil {
			return nil, nil, false, err
		}
		if resp.Partial {
			accumulated = accumulate(accumulated, resp.Message, a.Name())
			chunkEv := hook.NewReasoningChunkEvent(a.Name(), resp.Message, accumulated)
			if _, err := a.Hooks().Fire(ctx, chunkEv); err != nil {
				return nil, nil, false, err
			}
		} else if resp.Message != nil {
			accumulated = resp.Message
		}
	}
	if accumulated == nil {
		accumulated = message.NewAssistantMessage(a.Name())
	}
	a.Memory().AddMessage(accumulated)

	postEv := hook.NewPostReasoningEvent(a.Name(), accumulated)
	fired2, err := a.Hooks().Fire(ctx, postEv)
	if err != nil {
		return nil, nil, false, err
	}
	post := fired2.(*hook.PostReasoningEvent)
	reasoning = post.Reasoning

	if post.Stopped() {
		return reasoning, reasoning, false, nil
	}
	if g := post.GotoReasoningMessage(); g != nil {
		a.Memory().AddMessage(g)
		return reasoning, nil, true, nil
	}
	return reasoning, nil, false, nil
}

// actingPhase invokes each tool-use block in order, returning either the
// collected result messages or a hook-requested final message (stop).
func (l *Loop) actingPhase(ctx context.Context, a *agent.Agent, toolUses []message.ToolUse) (results []*message.Message, stop *message.Message, err error) {
	for _, tu := range toolUses {
		if err := a.CheckInterrupt(ctx); err != nil {
			return results, nil, err
		}

		preEv := hook.NewPreActingEvent(a.Name(), tu)
		fired, err := a.Hooks().Fire(ctx, preEv)
		if err != nil {
			return results, nil, err
		}
		tu = fired.(*hook.PreActingEvent).ToolUse
		if err := a.CheckInterrupt(ctx); err != nil {
			return results, nil, err
		}

		call := tool.ToolCall{ID: tu.CallID, Name: tu.Name, Input: tu.Input}
		res, invokeErr := l.invoke(ctx, a, tu.CallID, call)

		var resultMsg *message.Message
		if invokeErr != nil {
			resultMsg = toolResultMessage(a.Name(), tu, &tool.Result{Content: invokeErr.Error(), IsError: true})
		} else {
			log.Debug().Str("tool", tu.Name).Str("result", rlog.Preview(fmt.Sprint(res.Content))).Msg("tool invocation complete")
			resultMsg = toolResultMessage(a.Name(), tu, res)
		}
		a.Memory().AddMessage(resultMsg)

		postEv := hook.NewPostActingEvent(a.Name(), resultMsg)
		fired2, err := a.Hooks().Fire(ctx, postEv)
		if err != nil {
			return results, nil, err
		}
		post := fired2.(*hook.PostActingEvent)
		resultMsg = post.Result
		results = append(results, resultMsg)

		if post.Stopped() {
			return results, resultMsg, nil
		}
	}
	return results, nil, nil
}

// invoke runs call against the tool registered under call.Name. Tools that
// implement tool.StreamingTool are driven incrementally, firing an
// ActingChunk hook event per partial result in the same way reasoningPhase
// fires a chunk event per partial model response, then fold the final
// Chunk into the returned Result.
func (l *Loop) invoke(ctx context.Context, a *agent.Agent, callID string, call tool.ToolCall) (*tool.Result, error) {
	t, ok := a.Toolkit().Get(call.Name)
	if !ok {
		return nil, fmt.Errorf("react: no tool registered with name %q", call.Name)
	}
	st, ok := t.(tool.StreamingTool)
	if !ok {
		return t.Invoke(ctx, call)
	}

	var last *tool.Chunk
	for chunk, err := range st.InvokeStreaming(ctx, call) {
		if err != nil {
			return nil, err
		}
		if err := a.CheckInterrupt(ctx); err != nil {
			return nil, err
		}
		last = chunk
		chunkEv := hook.NewActingChunkEvent(a.Name(), callID, chunk)
		if _, err := a.Hooks().Fire(ctx, chunkEv); err != nil {
			return nil, err
		}
	}
	if last == nil {
		return &tool.Result{}, nil
	}
	return &tool.Result{Content: last.Content, IsError: last.Error != "", Error: last.Error}, nil
}

// summaryPhase runs the closing model turn once the loop has exhausted
// its iteration budget without a terminal answer.
func (l *Loop) summaryPhase(ctx context.Context, a *agent.Agent) (*message.Message, error) {
	msgs := a.Memory().GetMessages()
	instruction := message.NewUserMessage(a.Name(), l.SummaryInstruction)
	input := append(append([]*message.Message(nil), msgs...), instruction)

	preEv := hook.NewPreSummaryEvent(a.Name(), input, nil, l.MaxIterations, l.MaxIterations)
	fired, err := a.Hooks().Fire(ctx, preEv)
	if err != nil {
		return nil, err
	}
	pre := fired.(*hook.PreSummaryEvent)

	req := &model.Request{Messages: pre.Input, Options: pre.Options}

	var accumulated *message.Message
	for resp, serr := range a.Model().Stream(ctx, req) {
		if serr != nil {
			return nil, fmt.Errorf("react: summary model call failed: %w", serr)
		}
		if err := a.CheckInterrupt(ctx); err != nil {
			return nil, err
		}
		if resp.Partial {
			accumulated = accumulate(accumulated, resp.Message, a.Name())
			chunkEv := hook.NewSummaryChunkEvent(a.Name(), resp.Message, accumulated)
			if _, err := a.Hooks().Fire(ctx, chunkEv); err != nil {
				return nil, err
			}
		} else if resp.Message != nil {
			accumulated = resp.Message
		}
	}
	if accumulated == nil {
		accumulated = message.NewAssistantMessage(a.Name())
	}

	postEv := hook.NewPostSummaryEvent(a.Name(), accumulated)
	fired2, err := a.Hooks().Fire(ctx, postEv)
	if err != nil {
		return nil, err
	}
	post := fired2.(*hook.PostSummaryEvent)
	summary := post.Summary
	a.Memory().AddMessage(summary)
	return summary, nil
}

func toolResultMessage(sender string, tu message.ToolUse, res *tool.Result) *message.Message {
	if res == nil {
		res = &tool.Result{}
	}
	content := []message.ContentBlock{message.Text{Text: fmt.Sprint(res.Content)}}
	tr := message.ToolResult{
		CallID:   tu.CallID,
		Name:     tu.Name,
		IsError:  res.IsError,
		Children: content,
		Metadata: res.Metadata,
	}
	return message.New(message.RoleTool, sender, tr)
}

func accumulate(acc *message.Message, delta *message.Message, sender string) *message.Message {
	if delta == nil {
		return acc
	}
	if acc == nil {
		return &message.Message{
			ID:     delta.ID,
			Sender: sender,
			Role:   message.RoleAssistant,
			Blocks: append([]message.ContentBlock(nil), delta.Blocks...),
		}
	}
	cp := *acc
	cp.Blocks = append(append([]message.ContentBlock(nil), acc.Blocks...), delta.Blocks...)
	return &cp
}

func pendingToolUses(msgs []*message.Message) []message.ToolUse {
	lastIdx := -1
	for i, m := range msgs {
		if m.Role == message.RoleAssistant {
			lastIdx = i
		}
	}
	if lastIdx == -1 {
		return nil
	}
	toolUses := msgs[lastIdx].ToolUses()
	if len(toolUses) == 0 {
		return nil
	}
	resolved := make(map[string]bool)
	for _, m := range msgs[lastIdx+1:] {
		for _, tr := range message.GetContentBlocks[message.ToolResult](m) {
			resolved[tr.CallID] = true
		}
	}
	var pending []message.ToolUse
	for _, tu := range toolUses {
		if !resolved[tu.CallID] {
			pending = append(pending, tu)
		}
	}
	return pending
}

func allToolResults(input []*message.Message) bool {
	if len(input) == 0 {
		return false
	}
	for _, m := range input {
		if m.Role != message.RoleTool {
			return false
		}
	}
	return true
}
