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

// Package model defines the interface the reasoning loop consumes to talk
// to a language model. reagent ships no concrete provider: wiring a model
// to an actual API is the embedding application's job (see pkg/model/fake
// for the double used across this module's own tests).
package model

import (
	"context"
	"iter"

	"github.com/kadirpekel-labs/reagent/pkg/message"
	"github.com/kadirpekel-labs/reagent/pkg/tool"
)

// ToolChoiceKind constrains which, if any, tool the model must call.
type ToolChoiceKind string

const (
	ToolChoiceAuto      ToolChoiceKind = "auto"
	ToolChoiceNone      ToolChoiceKind = "none"
	ToolChoiceRequired  ToolChoiceKind = "required"
	ToolChoiceSpecific  ToolChoiceKind = "specific"
)

// ToolChoice pairs a Kind with a tool Name, meaningful only when Kind is
// ToolChoiceSpecific.
type ToolChoice struct {
	Kind ToolChoiceKind
	Name string
}

// GenerateOptions carries the per-call sampling and request-shaping knobs a
// caller or hook may override. Pointer fields distinguish "unset" from
// "explicitly zero", mirroring the teacher's GenerateConfig.Clone() pattern.
type GenerateOptions struct {
	Temperature      *float64
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
	MaxTokens        *int
	Seed             *int
	ReasoningEffort  string
	ToolChoice       ToolChoice

	// AdditionalBodyParams passes provider-specific fields straight through.
	AdditionalBodyParams map[string]any
}

// Clone returns a deep copy of o so a pipeline stage can mutate its own
// options without affecting the caller's.
func (o *GenerateOptions) Clone() *GenerateOptions {
	if o == nil {
		return nil
	}
	cp := *o
	cp.Temperature = clonePtr(o.Temperature)
	cp.TopP = clonePtr(o.TopP)
	cp.FrequencyPenalty = clonePtr(o.FrequencyPenalty)
	cp.PresencePenalty = clonePtr(o.PresencePenalty)
	cp.MaxTokens = clonePtr(o.MaxTokens)
	cp.Seed = clonePtr(o.Seed)
	if o.AdditionalBodyParams != nil {
		cp.AdditionalBodyParams = make(map[string]any, len(o.AdditionalBodyParams))
		for k, v := range o.AdditionalBodyParams {
			cp.AdditionalBodyParams[k] = v
		}
	}
	return &cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// MergeOptions returns a new GenerateOptions with every non-nil field of
// override replacing the corresponding field of base. Either argument may
// be nil.
func MergeOptions(override, base *GenerateOptions) *GenerateOptions {
	merged := base.Clone()
	if merged == nil {
		merged = &GenerateOptions{}
	}
	if override == nil {
		return merged
	}
	if override.Temperature != nil {
		merged.Temperature = clonePtr(override.Temperature)
	}
	if override.TopP != nil {
		merged.TopP = clonePtr(override.TopP)
	}
	if override.FrequencyPenalty != nil {
		merged.FrequencyPenalty = clonePtr(override.FrequencyPenalty)
	}
	if override.PresencePenalty != nil {
		merged.PresencePenalty = clonePtr(override.PresencePenalty)
	}
	if override.MaxTokens != nil {
		merged.MaxTokens = clonePtr(override.MaxTokens)
	}
	if override.Seed != nil {
		merged.Seed = clonePtr(override.Seed)
	}
	if override.ReasoningEffort != "" {
		merged.ReasoningEffort = override.ReasoningEffort
	}
	if override.ToolChoice.Kind != "" {
		merged.ToolChoice = override.ToolChoice
	}
	for k, v := range override.AdditionalBodyParams {
		if merged.AdditionalBodyParams == nil {
			merged.AdditionalBodyParams = make(map[string]any)
		}
		merged.AdditionalBodyParams[k] = v
	}
	return merged
}

// Request is what the reasoning loop sends to a Model on each iteration.
type Request struct {
	System   string
	Messages []*message.Message
	Tools    []tool.Definition
	Options  *GenerateOptions
}

// Usage reports token accounting for a single model call.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// ChatResponse is one unit yielded by Model.Stream: either a partial chunk
// (Partial true) or the final accumulated response for the turn.
type ChatResponse struct {
	Message *message.Message
	Usage   *Usage
	Partial bool
}

// Model is the interface the reasoning loop calls to get the next
// assistant turn. Implementations stream: a non-streaming provider yields
// exactly one non-partial ChatResponse.
type Model interface {
	Name() string
	Stream(ctx context.Context, req *Request) iter.Seq2[*ChatResponse, error]
}
