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

// Package memory defines the conversation-history contract agents use to
// accumulate and recall Message history across a call.
package memory

import (
	"fmt"

	"github.com/kadirpekel-labs/reagent/pkg/message"
)

// Memory is the minimal ordered-history contract every agent owns. It is
// not required to be safe for concurrent use by more than one goroutine at
// a time: a single agent call owns its memory for the duration of that call.
type Memory interface {
	// AddMessage appends msg to the end of history.
	AddMessage(msg *message.Message)

	// DeleteMessage removes the message at index, shifting later entries
	// left. Returns an error if index is out of range.
	DeleteMessage(index int) error

	// GetMessages returns a snapshot copy of the current history in order.
	GetMessages() []*message.Message

	// Clear removes all history.
	Clear()
}

// InMemory is the default Memory implementation: a plain ordered slice.
// Grounded on the append/flush shape of the teacher's MemoryService, with
// the session-service, long-term-recall and batching machinery dropped —
// those serve persistence backends this module does not implement.
type InMemory struct {
	messages []*message.Message
}

// New returns an empty InMemory history.
func New() *InMemory {
	return &InMemory{}
}

func (m *InMemory) AddMessage(msg *message.Message) {
	m.messages = append(m.messages, msg)
}

func (m *InMemory) DeleteMessage(index int) error {
	if index < 0 || index >= len(m.messages) {
		return fmt.Errorf("memory: index %d out of range [0,%d)", index, len(m.messages))
	}
	m.messages = append(m.messages[:index], m.messages[index+1:]...)
	return nil
}

func (m *InMemory) GetMessages() []*message.Message {
	out := make([]*message.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

func (m *InMemory) Clear() {
	m.messages = nil
}
