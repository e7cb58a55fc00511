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

// Package message defines the immutable Message and ContentBlock model
// shared by every other package: memory, tools, hooks, the reasoning loop
// and the model interface all speak Message, never a provider wire type.
package message

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Reserved metadata keys used by the structured-output controller and the
// multi-agent bus. Hooks and callers may read these but should not invent
// their own keys that collide with them.
const (
	MetaStructuredOutput             = "structured_output"
	MetaStructuredOutputReminder     = "structured_output_reminder"
	MetaStructuredOutputReminderType = "structured_output_reminder_type"
	MetaChatUsage                    = "chat_usage"
	MetaBypassMultiagentHistoryMerge = "bypass_multiagent_history_merge"
)

// ContentBlock is implemented by every content variant a Message can carry.
// Kind returns a stable discriminator usable for type switches and logging.
type ContentBlock interface {
	Kind() string
}

// Text is a plain-text content block.
type Text struct {
	Text string
}

func (Text) Kind() string { return "text" }

// Thinking carries a model's internal reasoning trace. ReasoningDetails
// preserves provider-specific signature/encryption fields so a later
// request can round-trip them back to the provider unmodified.
type Thinking struct {
	Text             string
	ReasoningDetails map[string]any
}

func (Thinking) Kind() string { return "thinking" }

// ToolUse represents a model's request to invoke a tool.
type ToolUse struct {
	CallID       string
	Name         string
	Input        map[string]any
	RawArguments string
	Metadata     map[string]any
}

func (ToolUse) Kind() string { return "tool_use" }

// ToolResult carries the outcome of a tool invocation back into history.
// Children lets a tool result itself embed rich content (text, images, ...).
type ToolResult struct {
	CallID   string
	Name     string
	IsError  bool
	Children []ContentBlock
	Metadata map[string]any
}

func (ToolResult) Kind() string { return "tool_result" }

// Source locates binary or remote media for Image/Audio/Video blocks.
type Source struct {
	URL       string
	Base64    string
	MediaType string
}

type Image struct{ Source Source }

func (Image) Kind() string { return "image" }

type Audio struct{ Source Source }

func (Audio) Kind() string { return "audio" }

type Video struct{ Source Source }

func (Video) Kind() string { return "video" }

// Message is an immutable unit of conversation history. Its ID is stable
// across hook-driven reconstruction: WithBlocks/WithMetadata return a copy
// carrying the same ID, never a freshly minted one.
type Message struct {
	ID        string
	Sender    string
	Role      Role
	Blocks    []ContentBlock
	Metadata  map[string]any
	Timestamp time.Time
}

func newID() string { return uuid.NewString() }

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// New builds a Message with a freshly generated ID and the current time.
func New(role Role, sender string, blocks ...ContentBlock) *Message {
	return &Message{
		ID:        newID(),
		Sender:    sender,
		Role:      role,
		Blocks:    blocks,
		Timestamp: time.Now(),
	}
}

// NewUserMessage builds a user-authored message containing a single text block.
func NewUserMessage(sender, text string) *Message {
	return New(RoleUser, sender, Text{Text: text})
}

// NewAssistantMessage builds an assistant message from arbitrary content blocks.
func NewAssistantMessage(sender string, blocks ...ContentBlock) *Message {
	return New(RoleAssistant, sender, blocks...)
}

// NewToolMessage builds the tool-role message reporting the result of a
// single tool invocation back to the model.
func NewToolMessage(sender, callID, toolName string, isError bool, children ...ContentBlock) *Message {
	return New(RoleTool, sender, ToolResult{
		CallID:   callID,
		Name:     toolName,
		IsError:  isError,
		Children: children,
	})
}

// WithBlocks returns a copy of m carrying new content blocks but the same ID.
func (m *Message) WithBlocks(blocks ...ContentBlock) *Message {
	cp := *m
	cp.Blocks = blocks
	cp.Metadata = cloneMetadata(m.Metadata)
	return &cp
}

// WithMetadata returns a copy of m with key set in its metadata map.
func (m *Message) WithMetadata(key string, value any) *Message {
	cp := *m
	cp.Metadata = cloneMetadata(m.Metadata)
	if cp.Metadata == nil {
		cp.Metadata = make(map[string]any, 1)
	}
	cp.Metadata[key] = value
	return &cp
}

// GetContentBlocks returns every block of m matching type T, in order.
func GetContentBlocks[T ContentBlock](m *Message) []T {
	var out []T
	for _, b := range m.Blocks {
		if t, ok := b.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

// HasContentBlocks reports whether m contains at least one block of type T.
func HasContentBlocks[T ContentBlock](m *Message) bool {
	for _, b := range m.Blocks {
		if _, ok := b.(T); ok {
			return true
		}
	}
	return false
}

// TextContent concatenates every Text block in m, separated by newlines.
func (m *Message) TextContent() string {
	var out string
	for _, t := range GetContentBlocks[Text](m) {
		if out != "" {
			out += "\n"
		}
		out += t.Text
	}
	return out
}

// ToolUses returns every tool-use block in m.
func (m *Message) ToolUses() []ToolUse {
	return GetContentBlocks[ToolUse](m)
}

// HasToolUses reports whether the model requested any tool call in m.
func (m *Message) HasToolUses() bool {
	return HasContentBlocks[ToolUse](m)
}
